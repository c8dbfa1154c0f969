package feed

import (
	"sysarray/src/graph"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// MovingRead resolves one scalar of the moving operand. col is the global
// output column; the feeder injects zeros for columns past M, so callers
// never see one.
type MovingRead func(b, k, col int) float32

// MovingFeeder streams the moving operand into the head of the PE chain,
// one vector unit per cycle, in (b, n0, tm, k, m) order. The whole stream
// is replicated once per PE row block and once per output-column tile.
type MovingFeeder struct {
	cfg  plan.PEConfig
	dims tensor.ArrayDims
	read MovingRead
	out  *graph.Fifo

	b, n0, tm, k, m int
	done            bool

	rowBlocks int
	tiles     int
}

// NewMovingFeeder wires the feeder to the chain head channel.
func NewMovingFeeder(cfg plan.PEConfig, dims tensor.ArrayDims, read MovingRead, out *graph.Fifo) *MovingFeeder {
	return &MovingFeeder{
		cfg:       cfg,
		dims:      dims,
		read:      read,
		out:       out,
		rowBlocks: cfg.RowBlocks(dims),
		tiles:     cfg.Tiles(dims),
	}
}

// Done reports whether every word has been sent.
func (f *MovingFeeder) Done() bool {
	return f.done
}

// Tick sends one vector word when the channel has room and reports progress.
func (f *MovingFeeder) Tick() bool {
	if f.done || !f.out.CanPush() {
		return false
	}

	word := make([]float32, f.cfg.VecWidth)
	base := (f.tm*f.cfg.TVec + f.m) * f.cfg.VecWidth
	for lane := 0; lane < f.cfg.VecWidth; lane++ {
		col := base + lane
		if col < f.dims.M {
			word[lane] = f.read(f.b, f.k, col)
		}
	}
	f.out.Push(word)

	f.m++
	if f.m < f.cfg.TVec {
		return true
	}
	f.m = 0
	f.k++
	if f.k < f.dims.K {
		return true
	}
	f.k = 0
	f.tm++
	if f.tm < f.tiles {
		return true
	}
	f.tm = 0
	f.n0++
	if f.n0 < f.rowBlocks {
		return true
	}
	f.n0 = 0
	f.b++
	if f.b < f.dims.Batch {
		return true
	}
	f.done = true
	return true
}
