package feed

import (
	"fmt"

	"sysarray/src/graph"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// ConvGeom is the stride-1 convolution geometry an im2col gather serves.
// Padding is symmetric, one value for all four sides.
type ConvGeom struct {
	Channels int
	KernelH  int
	KernelW  int
	InH      int
	InW      int
	OutH     int
	OutW     int
	Pad      int
}

// KernelArea returns the filter footprint KernelH*KernelW.
func (g ConvGeom) KernelArea() int {
	return g.KernelH * g.KernelW
}

// Im2colFeeder streams the moving operand of a convolution as the implicit
// im2col matrix: contraction index k decomposes to (channel, kernelRow,
// kernelCol), column index to an output pixel, and the source coordinate is
// the output pixel shifted by the kernel offset minus the padding. Reads of
// padded coordinates are never issued; the lane gets a zero instead.
//
// Input rows are loaded through a row cache holding one tile's worth of
// input rows plus the kernel overhang. Loads into the cache are whole
// aligned vector units; emission gathers lanes at the (generally unaligned)
// window offset, stitching across adjacent cached units. The cache is
// invalidated at the start of every (batch, PE-block, tile) iteration.
type Im2colFeeder struct {
	cfg  plan.PEConfig
	dims tensor.ArrayDims
	geom ConvGeom
	x    *tensor.View
	out  *graph.Fifo

	b, n0, tm, k, m int
	done            bool

	rowBlocks int
	tiles     int
	tileRows  int

	cache   [][]float32
	cacheC  []int
	cacheY  []int
	cacheOK []bool
}

// NewIm2colFeeder wires the gather to the chain head channel. The planner
// guarantees T is a multiple of the output row width and the builder that
// the vector width divides it, so one vector word never straddles output
// rows.
func NewIm2colFeeder(cfg plan.PEConfig, dims tensor.ArrayDims, geom ConvGeom, x *tensor.View, out *graph.Fifo) *Im2colFeeder {
	if cfg.T%geom.OutW != 0 {
		panic(fmt.Sprintf("tile width %d does not cover whole output rows of width %d", cfg.T, geom.OutW))
	}
	if geom.OutW%cfg.VecWidth != 0 {
		panic(fmt.Sprintf("vector width %d does not divide output row width %d", cfg.VecWidth, geom.OutW))
	}
	if geom.InW%cfg.VecWidth != 0 {
		panic(fmt.Sprintf("vector width %d does not divide input row width %d", cfg.VecWidth, geom.InW))
	}

	tileRows := cfg.T / geom.OutW
	cacheRows := tileRows + geom.KernelH - 1
	cache := make([][]float32, cacheRows)
	for i := range cache {
		cache[i] = make([]float32, geom.InW)
	}

	return &Im2colFeeder{
		cfg:       cfg,
		dims:      dims,
		geom:      geom,
		x:         x,
		out:       out,
		rowBlocks: cfg.RowBlocks(dims),
		tiles:     cfg.Tiles(dims),
		tileRows:  tileRows,
		cache:     cache,
		cacheC:    make([]int, cacheRows),
		cacheY:    make([]int, cacheRows),
		cacheOK:   make([]bool, cacheRows),
	}
}

// Done reports whether every word has been sent.
func (f *Im2colFeeder) Done() bool {
	return f.done
}

// Tick sends one gathered vector word when the channel has room and reports
// progress.
func (f *Im2colFeeder) Tick() bool {
	if f.done || !f.out.CanPush() {
		return false
	}

	width := f.cfg.VecWidth
	word := make([]float32, width)
	base := (f.tm*f.cfg.TVec + f.m) * width
	if base < f.dims.M {
		area := f.geom.KernelArea()
		c := f.k / area
		ky := (f.k % area) / f.geom.KernelW
		kx := f.k % f.geom.KernelW

		outY := base / f.geom.OutW
		outX := base % f.geom.OutW
		inY := outY + ky - f.geom.Pad

		if row := f.cachedRow(c, inY); row != nil {
			inX := outX + kx - f.geom.Pad
			for lane := 0; lane < width; lane++ {
				ix := inX + lane
				if ix >= 0 && ix < f.geom.InW {
					word[lane] = row[ix]
				}
			}
		}
	}
	f.out.Push(word)

	f.advance()
	return true
}

// cachedRow returns the cached input row (b, c, inY), loading it with
// aligned vector units on a tag miss. Rows in the vertical padding are
// never read; nil stands in for them.
func (f *Im2colFeeder) cachedRow(c, inY int) []float32 {
	if inY < 0 || inY >= f.geom.InH {
		return nil
	}
	slot := inY - (f.tm*f.tileRows - f.geom.Pad)
	if slot < 0 || slot >= len(f.cache) {
		panic(fmt.Sprintf("input row %d outside the cache window of tile %d", inY, f.tm))
	}
	row := f.cache[slot]
	if f.cacheOK[slot] && f.cacheC[slot] == c && f.cacheY[slot] == inY {
		return row
	}
	for v := 0; v < f.geom.InW; v += f.cfg.VecWidth {
		for lane := 0; lane < f.cfg.VecWidth; lane++ {
			row[v+lane] = f.x.At(f.b, c, inY, v+lane)
		}
	}
	f.cacheOK[slot] = true
	f.cacheC[slot] = c
	f.cacheY[slot] = inY
	return row
}

func (f *Im2colFeeder) advance() {
	f.m++
	if f.m < f.cfg.TVec {
		return
	}
	f.m = 0
	f.k++
	if f.k < f.dims.K {
		return
	}
	f.k = 0
	f.invalidate()
	f.tm++
	if f.tm < f.tiles {
		return
	}
	f.tm = 0
	f.n0++
	if f.n0 < f.rowBlocks {
		return
	}
	f.n0 = 0
	f.b++
	if f.b < f.dims.Batch {
		return
	}
	f.done = true
}

func (f *Im2colFeeder) invalidate() {
	for i := range f.cacheOK {
		f.cacheOK[i] = false
	}
}
