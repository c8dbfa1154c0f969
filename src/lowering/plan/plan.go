package plan

import (
	"fmt"

	"sysarray/src/tensor"
)

// Profile carries the hardware numbers the planner consumes. Values come
// from the runtime configuration; the planner never reads configuration
// itself.
type Profile struct {
	ParallelismCeiling int
	ScalarLatency      int
	VectorLatency      int
	MinPartialDepth    int
}

// Request is one planning query. P and T of zero mean derive automatically.
// RowWidth, when positive, constrains T to a multiple of the output row
// width (convolution tiles must not straddle output rows unevenly).
type Request struct {
	Dims     tensor.ArrayDims
	VecWidth int
	P        int
	T        int
	RowWidth int
}

// PEConfig is the validated sizing of one pipeline instance. T is held in
// elements; TVec is the same width in vector units.
type PEConfig struct {
	P    int `json:"p"`
	T    int `json:"t"`
	TVec int `json:"t_vec"`
	L    int `json:"l"`

	VecWidth        int `json:"vec_width"`
	MinPartialDepth int `json:"min_partial_depth"`
}

// New derives and validates a pipeline sizing. All violations return an
// error before any further construction happens.
func New(req Request, prof Profile) (PEConfig, error) {
	dims := req.Dims
	if err := dims.Validate(); err != nil {
		return PEConfig{}, err
	}
	if req.VecWidth < 1 {
		return PEConfig{}, fmt.Errorf("vector width must be at least 1, got %d", req.VecWidth)
	}
	if prof.ParallelismCeiling < 1 {
		return PEConfig{}, fmt.Errorf("parallelism ceiling must be at least 1, got %d", prof.ParallelismCeiling)
	}

	p := req.P
	if p == 0 {
		p = gcd(dims.N, prof.ParallelismCeiling)
		p = gcd(p, dims.K)
	}
	if p < 1 {
		return PEConfig{}, fmt.Errorf("pe count must be at least 1, got %d", p)
	}
	if p > dims.K {
		return PEConfig{}, fmt.Errorf(
			"pe count %d exceeds contraction extent %d; largest admissible pe count is %d",
			p, dims.K, dims.K)
	}

	t := req.T
	if t == 0 {
		t = dims.M
	}
	if t < 1 {
		return PEConfig{}, fmt.Errorf("tile width must be at least 1, got %d", t)
	}
	if t%req.VecWidth != 0 {
		t = lcm(t, req.VecWidth)
	}
	if req.RowWidth > 0 && t%req.RowWidth != 0 {
		t = lcm(t, req.RowWidth)
	}

	tVec := t / req.VecWidth

	latency := prof.ScalarLatency
	if req.VecWidth > 1 {
		latency = prof.VectorLatency
	}
	l := latency - tVec
	if l < 0 {
		l = 0
	}

	cfg := PEConfig{
		P:               p,
		T:               t,
		TVec:            tVec,
		L:               l,
		VecWidth:        req.VecWidth,
		MinPartialDepth: prof.MinPartialDepth,
	}

	if dims.K > cfg.P*cfg.TVec {
		return PEConfig{}, fmt.Errorf(
			"contraction extent %d exceeds drain capacity %d (pe count %d x tile width %d vectors); enlarge the tile or the pe count",
			dims.K, cfg.P*cfg.TVec, cfg.P, cfg.TVec)
	}

	return cfg, nil
}

// RowBlocks returns the number of stationary row blocks, the last possibly
// ragged.
func (c PEConfig) RowBlocks(dims tensor.ArrayDims) int {
	return ceilDiv(dims.N, c.P)
}

// Tiles returns the number of output-column tiles, the last possibly ragged.
func (c PEConfig) Tiles(dims tensor.ArrayDims) int {
	return ceilDiv(dims.M, c.T)
}

// LogicalSteps returns the exact number of logical steps a pipeline sized by
// this config takes: the flattened compute iteration plus the terminal drain
// sub-phase.
func (c PEConfig) LogicalSteps(dims tensor.ArrayDims) int {
	compute := dims.Batch * c.RowBlocks(dims) * c.Tiles(dims) * dims.K * (c.TVec + c.L)
	drain := c.P * c.TVec
	return compute + drain
}

// BurstSend reports whether the stationary feeder should send a whole PE
// block in one cycle. Paying the wider port is worth it only when the block
// send would otherwise dominate the tile time, and only within the ceiling.
func (c PEConfig) BurstSend(ceiling int) bool {
	return c.P > c.TVec+c.L && c.P <= ceiling
}

// PartialDepth returns the declared depth of each PE's partial-sum storage:
// the tile width in vectors, raised to the profile minimum.
func (c PEConfig) PartialDepth() int {
	if c.TVec < c.MinPartialDepth {
		return c.MinPartialDepth
	}
	return c.TVec
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
