package lowering

import (
	"sysarray/src/graph"
	"sysarray/src/lowering/feed"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// ConvParams are the convolution attributes. Pads is in (top, left, bottom,
// right) order. Zero strides, dilations and group mean 1.
type ConvParams struct {
	StrideH   int
	StrideW   int
	DilationH int
	DilationW int
	Group     int
	Pads      [4]int
	AutoPad   string
}

func (p ConvParams) normalize() ConvParams {
	if p.StrideH == 0 {
		p.StrideH = 1
	}
	if p.StrideW == 0 {
		p.StrideW = 1
	}
	if p.DilationH == 0 {
		p.DilationH = 1
	}
	if p.DilationW == 0 {
		p.DilationW = 1
	}
	if p.Group == 0 {
		p.Group = 1
	}
	return p
}

// CanApplyConv reports whether this convolution maps onto the im2col
// pipeline. Everything outside the dense stride-1 symmetric-padding case is
// rejected for the host fallback to handle.
func CanApplyConv(x, w, bias *tensor.View, params ConvParams) error {
	const op = "conv"
	params = params.normalize()

	if x.Rank() != 4 || w.Rank() != 4 {
		return NewError(ErrApplicabilityRejected, op,
			"only 2D convolution on 4D input and filters, got rank %dx%d", x.Rank(), w.Rank())
	}
	if params.Group != 1 {
		return NewError(ErrApplicabilityRejected, op, "grouped convolution (group=%d)", params.Group)
	}
	if params.DilationH != 1 || params.DilationW != 1 {
		return NewError(ErrApplicabilityRejected, op,
			"dilated convolution (dilations=%dx%d)", params.DilationH, params.DilationW)
	}
	if params.StrideH != 1 || params.StrideW != 1 {
		return NewError(ErrApplicabilityRejected, op,
			"strided convolution (strides=%dx%d)", params.StrideH, params.StrideW)
	}
	if params.Pads[0] != params.Pads[2] || params.Pads[1] != params.Pads[3] || params.Pads[0] != params.Pads[1] {
		return NewError(ErrApplicabilityRejected, op, "asymmetric padding %v", params.Pads)
	}
	if params.AutoPad != "" && params.AutoPad != "NOTSET" {
		return NewError(ErrApplicabilityRejected, op, "auto_pad mode %q", params.AutoPad)
	}
	if w.VecWidth != 1 {
		return NewError(ErrApplicabilityRejected, op,
			"vectorized filters (vector width %d)", w.VecWidth)
	}
	if bias != nil && (bias.Rank() != 1 || bias.Shape[0] != w.Shape[0]) {
		return NewError(ErrApplicabilityRejected, op,
			"bias must hold one value per filter (%d), got shape %v", w.Shape[0], bias.Shape)
	}
	if x.Shape[1] != w.Shape[1] {
		return NewError(ErrUnsupportedShape, op,
			"channel mismatch: input %d vs filters %d", x.Shape[1], w.Shape[1])
	}

	pad := params.Pads[0]
	outH := x.Shape[2] + 2*pad - w.Shape[2] + 1
	outW := x.Shape[3] + 2*pad - w.Shape[3] + 1
	if outH < 1 || outW < 1 {
		return NewError(ErrUnsupportedShape, op,
			"filters %dx%d do not fit the %dx%d input with padding %d",
			w.Shape[2], w.Shape[3], x.Shape[2], x.Shape[3], pad)
	}
	return nil
}

// BuildConv lowers a stride-1 2D convolution onto the pipeline via implicit
// im2col: filters are the stationary operand, the gathered input patches the
// moving one.
func BuildConv(opts Options, x, w, bias *tensor.View, params ConvParams) (*Pipeline, error) {
	const op = "conv"

	if err := CanApplyConv(x, w, bias, params); err != nil {
		return nil, err
	}
	params = params.normalize()
	pad := params.Pads[0]

	geom := feed.ConvGeom{
		Channels: x.Shape[1],
		KernelH:  w.Shape[2],
		KernelW:  w.Shape[3],
		InH:      x.Shape[2],
		InW:      x.Shape[3],
		OutH:     x.Shape[2] + 2*pad - w.Shape[2] + 1,
		OutW:     x.Shape[3] + 2*pad - w.Shape[3] + 1,
		Pad:      pad,
	}

	vecWidth := x.VecWidth
	if opts.VecWidth != 0 && opts.VecWidth != vecWidth {
		return nil, NewError(ErrConfigurationInvalid, op,
			"requested vector width %d does not match input width %d", opts.VecWidth, vecWidth)
	}
	if geom.OutW%vecWidth != 0 {
		return nil, NewError(ErrConfigurationInvalid, op,
			"vector width %d does not divide output row width %d", vecWidth, geom.OutW)
	}

	dims := tensor.ArrayDims{
		Batch: x.Shape[0],
		N:     w.Shape[0],
		K:     geom.Channels * geom.KernelArea(),
		M:     geom.OutH * geom.OutW,
	}

	cfg, err := plan.New(plan.Request{
		Dims:     dims,
		VecWidth: vecWidth,
		P:        opts.P,
		T:        opts.T,
		RowWidth: geom.OutW,
	}, opts.Profile)
	if err != nil {
		return nil, WrapError(ErrConfigurationInvalid, op, err, "planning")
	}

	y, err := tensor.NewView("Y", []int{dims.Batch, dims.N, geom.OutH, geom.OutW}, x.DType, vecWidth)
	if err != nil {
		return nil, WrapError(ErrConfigurationInvalid, op, err, "allocating output")
	}

	area := geom.KernelArea()
	readW := func(_, row, k int) float32 {
		c := k / area
		ky := (k % area) / geom.KernelW
		kx := k % geom.KernelW
		return w.At(row, c, ky, kx)
	}
	write := func(batch, row, col int, value float32) {
		y.Set(value, batch, row, col/geom.OutW, col%geom.OutW)
	}
	var biasFn func(batch, row, col int) float32
	if bias != nil {
		biasFn = func(_, row, _ int) float32 {
			return bias.At(row)
		}
	}

	bindings := []graph.TensorBinding{
		{Name: w.Name, Role: tensor.RoleStationary, Shape: w.Shape, DType: w.DType, VecWidth: w.VecWidth},
		{
			Name: x.Name, Role: tensor.RoleMoving, Shape: x.Shape, DType: x.DType, VecWidth: x.VecWidth,
			Access: graph.AccessSpec{Dynamic: true, AllowOutOfBounds: true},
		},
		{Name: y.Name, Role: tensor.RoleResult, Shape: y.Shape, DType: y.DType, VecWidth: y.VecWidth},
	}
	if bias != nil {
		bindings = append(bindings, graph.TensorBinding{
			Name: bias.Name, Role: tensor.RoleBias, Shape: bias.Shape, DType: bias.DType, VecWidth: bias.VecWidth,
		})
	}

	return assemble(buildSpec{
		op:              op,
		cfg:             cfg,
		dims:            dims,
		ceiling:         opts.Profile.ParallelismCeiling,
		bindings:        bindings,
		stationaryDType: w.DType,
		movingDType:     x.DType,
		readA:           readW,
		moving: func(out *graph.Fifo) component {
			return feed.NewIm2colFeeder(cfg, dims, geom, x, out)
		},
		write:  write,
		bias:   biasFn,
		output: y,
	})
}
