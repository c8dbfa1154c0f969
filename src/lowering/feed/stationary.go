package feed

import (
	"fmt"

	"sysarray/src/graph"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// StationaryRead resolves one scalar of the stationary operand. row is the
// global stationary row index, k the contraction index; callers never see
// rows past the operand, the feeder injects zeros for those.
type StationaryRead func(b, row, k int) float32

// StationaryFeeder streams the stationary operand in strict
// (b, n0, tm, k, n1) order, re-sending the whole block once per
// output-column tile. The value for chain row n1 goes to channel index
// P-1-n1, so results later arrive at the collector in ascending row order.
type StationaryFeeder struct {
	cfg  plan.PEConfig
	dims tensor.ArrayDims
	read StationaryRead
	out  []*graph.Fifo

	burst bool

	b, n0, tm, k, n1 int
	done             bool

	rowBlocks int
	tiles     int
}

// NewStationaryFeeder wires the feeder to its P per-PE channels. burst makes
// it send a whole PE block in one cycle instead of one value per cycle.
func NewStationaryFeeder(cfg plan.PEConfig, dims tensor.ArrayDims, read StationaryRead, out []*graph.Fifo, burst bool) *StationaryFeeder {
	if len(out) != cfg.P {
		panic(fmt.Sprintf("stationary feeder needs %d channels, got %d", cfg.P, len(out)))
	}
	return &StationaryFeeder{
		cfg:       cfg,
		dims:      dims,
		read:      read,
		out:       out,
		burst:     burst,
		rowBlocks: cfg.RowBlocks(dims),
		tiles:     cfg.Tiles(dims),
	}
}

// Done reports whether every value has been sent.
func (f *StationaryFeeder) Done() bool {
	return f.done
}

// Tick sends what channel space allows this cycle and reports progress.
func (f *StationaryFeeder) Tick() bool {
	if f.done {
		return false
	}
	if f.burst {
		return f.tickBurst()
	}

	channel := f.out[f.cfg.P-1-f.n1]
	if !channel.CanPush() {
		return false
	}
	channel.Push([]float32{f.value(f.n1)})
	f.n1++
	if f.n1 == f.cfg.P {
		f.n1 = 0
		f.advanceK()
	}
	return true
}

func (f *StationaryFeeder) tickBurst() bool {
	for _, channel := range f.out {
		if !channel.CanPush() {
			return false
		}
	}
	for n1 := 0; n1 < f.cfg.P; n1++ {
		f.out[f.cfg.P-1-n1].Push([]float32{f.value(n1)})
	}
	f.advanceK()
	return true
}

func (f *StationaryFeeder) value(n1 int) float32 {
	row := f.n0*f.cfg.P + n1
	if row >= f.dims.N {
		return 0
	}
	return f.read(f.b, row, f.k)
}

func (f *StationaryFeeder) advanceK() {
	f.k++
	if f.k < f.dims.K {
		return
	}
	f.k = 0
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
