// Package reference holds plain host kernels. They are the fallback target
// for operations the pipeline lowering rejects and the oracle the pipeline
// results are verified against.
package reference

import (
	"fmt"

	"sysarray/src/tensor"
)

// MatMul computes Y = A x B for the 2Dx2D, 3Dx3D and 3Dx2D pairings.
func MatMul(a, b *tensor.View) (*tensor.View, error) {
	var batch int
	switch {
	case a.Rank() == 2 && b.Rank() == 2:
		batch = 1
	case a.Rank() == 3 && b.Rank() == 3:
		if a.Shape[0] != b.Shape[0] {
			return nil, fmt.Errorf("matmul: batch mismatch %d vs %d", a.Shape[0], b.Shape[0])
		}
		batch = a.Shape[0]
	case a.Rank() == 3 && b.Rank() == 2:
		batch = a.Shape[0]
	default:
		return nil, fmt.Errorf("matmul: rank %dx%d pairing is not supported", a.Rank(), b.Rank())
	}

	n := a.Shape[a.Rank()-2]
	k := a.Shape[a.Rank()-1]
	if b.Shape[b.Rank()-2] != k {
		return nil, fmt.Errorf("matmul: contraction mismatch %d vs %d", k, b.Shape[b.Rank()-2])
	}
	m := b.Shape[b.Rank()-1]

	yShape := []int{n, m}
	if a.Rank() == 3 {
		yShape = []int{batch, n, m}
	}
	y, err := tensor.NewView("Y", yShape, a.DType, 1)
	if err != nil {
		return nil, err
	}

	readA := func(bb, row, kk int) float32 {
		if a.Rank() == 2 {
			return a.At(row, kk)
		}
		return a.At(bb, row, kk)
	}
	readB := func(bb, kk, col int) float32 {
		if b.Rank() == 2 {
			return b.At(kk, col)
		}
		return b.At(bb, kk, col)
	}

	out := y.Data
	for bb := 0; bb < batch; bb++ {
		base := bb * n * m
		blockedMatMul(n, k, m, base, readA, readB, bb, out)
	}
	return y, nil
}

// blockedMatMul runs one batch slice with cache blocking sized by the CPU
// feature set.
func blockedMatMul(n, k, m, base int, readA, readB func(bb, i, j int) float32, bb int, out []float32) {
	block := blockSize()
	for i0 := 0; i0 < n; i0 += block {
		iMax := min(i0+block, n)
		for k0 := 0; k0 < k; k0 += block {
			kMax := min(k0+block, k)
			for j0 := 0; j0 < m; j0 += block {
				jMax := min(j0+block, m)
				for i := i0; i < iMax; i++ {
					for kk := k0; kk < kMax; kk++ {
						av := readA(bb, i, kk)
						if av == 0 {
							continue
						}
						row := base + i*m
						for j := j0; j < jMax; j++ {
							out[row+j] += av * readB(bb, kk, j)
						}
					}
				}
			}
		}
	}
}

// Gemm computes Y = A x Bt + C. B is stored MxK; C is one row of M values
// or nil.
func Gemm(a, b, c *tensor.View) (*tensor.View, error) {
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("gemm: operands must be 2D, got rank %dx%d", a.Rank(), b.Rank())
	}
	n := a.Shape[0]
	k := a.Shape[1]
	if b.Shape[1] != k {
		return nil, fmt.Errorf("gemm: contraction mismatch %d vs %d", k, b.Shape[1])
	}
	m := b.Shape[0]
	if c != nil && (c.Rank() != 1 || c.Shape[0] != m) {
		return nil, fmt.Errorf("gemm: bias must hold %d values, got shape %v", m, c.Shape)
	}

	y, err := tensor.NewView("Y", []int{n, m}, a.DType, 1)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			var acc float32
			for kk := 0; kk < k; kk++ {
				acc += a.At(i, kk) * b.At(j, kk)
			}
			if c != nil {
				acc += c.At(j)
			}
			y.Set(acc, i, j)
		}
	}
	return y, nil
}

// Conv2D computes a dense stride-1 2D convolution with symmetric padding.
// x is NCHW, w is FCHW, bias one value per filter or nil.
func Conv2D(x, w, bias *tensor.View, pad int) (*tensor.View, error) {
	if x.Rank() != 4 || w.Rank() != 4 {
		return nil, fmt.Errorf("conv: input and filters must be 4D, got rank %dx%d", x.Rank(), w.Rank())
	}
	if x.Shape[1] != w.Shape[1] {
		return nil, fmt.Errorf("conv: channel mismatch %d vs %d", x.Shape[1], w.Shape[1])
	}
	batch, channels := x.Shape[0], x.Shape[1]
	inH, inW := x.Shape[2], x.Shape[3]
	filters, kh, kw := w.Shape[0], w.Shape[2], w.Shape[3]
	outH := inH + 2*pad - kh + 1
	outW := inW + 2*pad - kw + 1
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("conv: filters %dx%d do not fit the %dx%d input with padding %d",
			kh, kw, inH, inW, pad)
	}
	if bias != nil && (bias.Rank() != 1 || bias.Shape[0] != filters) {
		return nil, fmt.Errorf("conv: bias must hold %d values, got shape %v", filters, bias.Shape)
	}

	y, err := tensor.NewView("Y", []int{batch, filters, outH, outW}, x.DType, 1)
	if err != nil {
		return nil, err
	}
	for bb := 0; bb < batch; bb++ {
		for f := 0; f < filters; f++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					var acc float32
					for c := 0; c < channels; c++ {
						for ky := 0; ky < kh; ky++ {
							iy := oy + ky - pad
							if iy < 0 || iy >= inH {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ox + kx - pad
								if ix < 0 || ix >= inW {
									continue
								}
								acc += x.At(bb, c, iy, ix) * w.At(f, c, ky, kx)
							}
						}
					}
					if bias != nil {
						acc += bias.At(f)
					}
					y.Set(acc, bb, f, oy, ox)
				}
			}
		}
	}
	return y, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
