package pipeline

import (
	"fmt"

	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// State is the flattened iteration of one pipeline instance: the compute
// iterators (b, n0, tm, k, m) plus the trailing drain counters (kDrain,
// mDrain) that lag behind by one tile, plus the terminal drain sub-phase
// appended after the last tile. Exactly one State exists per pipeline and
// only the pipeline advances it, exactly once per logical step.
type State struct {
	B  int
	N0 int
	Tm int
	K  int
	M  int

	KDrain int
	MDrain int

	Terminal     bool
	TerminalStep int

	Step int

	cfg       plan.PEConfig
	dims      tensor.ArrayDims
	rowBlocks int
	tiles     int
}

// NewState positions the iteration at the first logical step.
func NewState(cfg plan.PEConfig, dims tensor.ArrayDims) *State {
	return &State{
		cfg:       cfg,
		dims:      dims,
		rowBlocks: cfg.RowBlocks(dims),
		tiles:     cfg.Tiles(dims),
	}
}

// HasEarlierTile reports whether at least one tile completed before the
// current one, which is what arms the relay drain of the previous tile.
func (s *State) HasEarlierTile() bool {
	return s.B > 0 || s.N0 > 0 || s.Tm > 0
}

// Done reports whether every logical step, including the terminal drain
// sub-phase, has been executed.
func (s *State) Done() bool {
	return s.Terminal && s.TerminalStep >= s.cfg.P*s.cfg.TVec
}

// TotalSteps returns the statically known step count this state runs for.
func (s *State) TotalSteps() int {
	return s.cfg.LogicalSteps(s.dims)
}

// Advance moves to the next logical step. The drain counters advance every
// step; their wrap period shrinks from TVec+L to TVec inside the terminal
// sub-phase, where no compute interleaves with the drain.
func (s *State) Advance() {
	if s.Done() {
		panic(fmt.Sprintf("iteration advanced past its %d steps", s.TotalSteps()))
	}
	s.Step++

	mDrainLimit := s.cfg.L + s.cfg.TVec - 1
	if s.Terminal {
		mDrainLimit = s.cfg.TVec - 1
	}
	if s.MDrain >= mDrainLimit {
		s.MDrain = 0
		s.KDrain = (s.KDrain + 1) % s.dims.K
	} else {
		s.MDrain++
	}

	if s.Terminal {
		s.TerminalStep++
		return
	}

	s.M++
	if s.M < s.cfg.TVec+s.cfg.L {
		return
	}
	s.M = 0
	s.K++
	if s.K < s.dims.K {
		return
	}
	s.K = 0
	s.Tm++
	if s.Tm < s.tiles {
		return
	}
	s.Tm = 0
	s.N0++
	if s.N0 < s.rowBlocks {
		return
	}
	s.N0 = 0
	s.B++
	if s.B < s.dims.Batch {
		return
	}
	s.B = 0
	s.Terminal = true
}
