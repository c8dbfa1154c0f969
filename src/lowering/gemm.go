package lowering

import (
	"sysarray/src/graph"
	"sysarray/src/lowering/feed"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// GemmAttrs are the attributes of the general matrix-multiply-accumulate
// Y = alpha * op(A) x op(B) + beta * C.
type GemmAttrs struct {
	Alpha  float32
	Beta   float32
	TransA bool
	TransB bool
}

// CanApplyGemm reports whether this GEMM variant maps onto the pipeline.
// Only the Y = A x Bt + C form with unit scaling does; anything else is
// rejected for the host fallback to handle.
func CanApplyGemm(a, b, c *tensor.View, attrs GemmAttrs) error {
	const op = "gemm"

	if attrs.Alpha != 1 || attrs.Beta != 1 {
		return NewError(ErrApplicabilityRejected, op,
			"only unit scaling is supported, got alpha=%v beta=%v", attrs.Alpha, attrs.Beta)
	}
	if attrs.TransA || !attrs.TransB {
		return NewError(ErrApplicabilityRejected, op,
			"only the A x Bt form is supported, got transA=%v transB=%v", attrs.TransA, attrs.TransB)
	}
	if a.Rank() != 2 || b.Rank() != 2 {
		return NewError(ErrUnsupportedShape, op,
			"operands must be 2D, got rank %dx%d", a.Rank(), b.Rank())
	}
	if a.Shape[1] != b.Shape[1] {
		return NewError(ErrUnsupportedShape, op,
			"contraction mismatch: %d vs %d", a.Shape[1], b.Shape[1])
	}
	if c != nil {
		if c.Rank() != 1 || c.Shape[0] != b.Shape[0] {
			return NewError(ErrUnsupportedShape, op,
				"bias must be one row of %d columns, got shape %v", b.Shape[0], c.Shape)
		}
	}
	if a.VecWidth != 1 {
		return NewError(ErrConfigurationInvalid, op,
			"stationary operand must be scalar, got vector width %d", a.VecWidth)
	}
	if b.VecWidth != 1 {
		return NewError(ErrConfigurationInvalid, op,
			"transposed moving operand must be scalar, got vector width %d", b.VecWidth)
	}
	return nil
}

// BuildGemm lowers Y = A x Bt + C onto the pipeline. B is stored MxK and
// read transposed; C may carry a vector width of its own, the collector
// unpacks it element by element.
func BuildGemm(opts Options, a, b, c *tensor.View, attrs GemmAttrs) (*Pipeline, error) {
	const op = "gemm"

	if err := CanApplyGemm(a, b, c, attrs); err != nil {
		return nil, err
	}

	dims := tensor.ArrayDims{
		Batch: 1,
		N:     a.Shape[0],
		K:     a.Shape[1],
		M:     b.Shape[0],
	}

	vecWidth := opts.VecWidth
	if vecWidth == 0 {
		vecWidth = 1
	}
	if dims.M%vecWidth != 0 {
		return nil, NewError(ErrConfigurationInvalid, op,
			"vector width %d does not divide output width %d", vecWidth, dims.M)
	}

	cfg, err := plan.New(plan.Request{
		Dims:     dims,
		VecWidth: vecWidth,
		P:        opts.P,
		T:        opts.T,
	}, opts.Profile)
	if err != nil {
		return nil, WrapError(ErrConfigurationInvalid, op, err, "planning")
	}

	y, err := tensor.NewView("Y", []int{dims.N, dims.M}, a.DType, vecWidth)
	if err != nil {
		return nil, WrapError(ErrConfigurationInvalid, op, err, "allocating output")
	}

	readA := func(_, row, k int) float32 {
		return a.At(row, k)
	}
	readB := func(_, k, col int) float32 {
		return b.At(col, k)
	}
	write := func(_, row, col int, value float32) {
		y.Set(value, row, col)
	}
	var biasFn func(batch, row, col int) float32
	if c != nil {
		biasFn = func(_, _, col int) float32 {
			return c.At(col)
		}
	}

	bindings := []graph.TensorBinding{
		{Name: a.Name, Role: tensor.RoleStationary, Shape: a.Shape, DType: a.DType, VecWidth: a.VecWidth},
		{Name: b.Name, Role: tensor.RoleMoving, Shape: b.Shape, DType: b.DType, VecWidth: b.VecWidth},
		{Name: y.Name, Role: tensor.RoleResult, Shape: y.Shape, DType: y.DType, VecWidth: y.VecWidth},
	}
	if c != nil {
		bindings = append(bindings, graph.TensorBinding{
			Name: c.Name, Role: tensor.RoleBias, Shape: c.Shape, DType: c.DType, VecWidth: c.VecWidth,
		})
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
		bias:   biasFn,
		output: y,
	})
}
