package lowering

import (
	"sysarray/src/graph"
	"sysarray/src/lowering/feed"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// CanApplyMatMul reports whether the operand pair maps onto the pipeline.
// Supported pairings: 2Dx2D, 3Dx3D with matching batch, and 3Dx2D with the
// 2D operand shared across the batch.
func CanApplyMatMul(a, b *tensor.View) error {
	const op = "matmul"

	switch {
	case a.Rank() == 2 && b.Rank() == 2:
	case a.Rank() == 3 && b.Rank() == 3:
		if a.Shape[0] != b.Shape[0] {
			return NewError(ErrUnsupportedShape, op,
				"batch mismatch: %d vs %d", a.Shape[0], b.Shape[0])
		}
	case a.Rank() == 3 && b.Rank() == 2:
	default:
		return NewError(ErrUnsupportedShape, op,
			"rank %dx%d pairing is not supported", a.Rank(), b.Rank())
	}

	if a.Shape[a.Rank()-1] != b.Shape[b.Rank()-2] {
		return NewError(ErrUnsupportedShape, op,
			"contraction mismatch: %d vs %d", a.Shape[a.Rank()-1], b.Shape[b.Rank()-2])
	}
	if a.VecWidth != 1 {
		return NewError(ErrConfigurationInvalid, op,
			"stationary operand must be scalar, got vector width %d", a.VecWidth)
	}
	return nil
}

// BuildMatMul lowers Y = A x B onto the pipeline.
func BuildMatMul(opts Options, a, b *tensor.View) (*Pipeline, error) {
	const op = "matmul"

	if err := CanApplyMatMul(a, b); err != nil {
		return nil, err
	}

	vecWidth := b.VecWidth
	if opts.VecWidth != 0 && opts.VecWidth != vecWidth {
		return nil, NewError(ErrConfigurationInvalid, op,
			"requested vector width %d does not match moving operand width %d",
			opts.VecWidth, vecWidth)
	}

	dims := tensor.ArrayDims{Batch: 1}
	if a.Rank() == 3 {
		dims.Batch = a.Shape[0]
	}
	dims.N = a.Shape[a.Rank()-2]
	dims.K = a.Shape[a.Rank()-1]
	dims.M = b.Shape[b.Rank()-1]

	cfg, err := plan.New(plan.Request{
		Dims:     dims,
		VecWidth: vecWidth,
		P:        opts.P,
		T:        opts.T,
	}, opts.Profile)
	if err != nil {
		return nil, WrapError(ErrConfigurationInvalid, op, err, "planning")
	}

	yShape := []int{dims.N, dims.M}
	if a.Rank() == 3 {
		yShape = []int{dims.Batch, dims.N, dims.M}
	}
	y, err := tensor.NewView("Y", yShape, b.DType, vecWidth)
	if err != nil {
		return nil, WrapError(ErrConfigurationInvalid, op, err, "allocating output")
	}

	readA := func(batch, row, k int) float32 {
		if a.Rank() == 2 {
			return a.At(row, k)
		}
		return a.At(batch, row, k)
	}
	readB := func(batch, k, col int) float32 {
		if b.Rank() == 2 {
			return b.At(k, col)
		}
		return b.At(batch, k, col)
	}
	write := func(batch, row, col int, value float32) {
		if y.Rank() == 2 {
			y.Set(value, row, col)
			return
		}
		y.Set(value, batch, row, col)
	}

	bindings := []graph.TensorBinding{
		{Name: a.Name, Role: tensor.RoleStationary, Shape: a.Shape, DType: a.DType, VecWidth: a.VecWidth},
		{Name: b.Name, Role: tensor.RoleMoving, Shape: b.Shape, DType: b.DType, VecWidth: b.VecWidth},
		{Name: y.Name, Role: tensor.RoleResult, Shape: y.Shape, DType: y.DType, VecWidth: y.VecWidth},
	}

	return assemble(buildSpec{
		op:              op,
		cfg:             cfg,
		dims:            dims,
		ceiling:         opts.Profile.ParallelismCeiling,
		bindings:        bindings,
		stationaryDType: a.DType,
		movingDType:     b.DType,
		readA:           readA,
		moving: func(out *graph.Fifo) component {
			return feed.NewMovingFeeder(cfg, dims, readB, out)
		},
		write:  write,
		output: y,
	})
}
