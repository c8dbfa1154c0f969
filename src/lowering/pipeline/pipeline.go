package pipeline

import (
	"fmt"

	"sysarray/src/graph"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// PE is one processing element of the chain. Its index is fixed at
// construction; the array never branches on a runtime PE id. The partial-sum
// slice is the only storage a PE owns and no two PEs share one.
type PE struct {
	index int

	stationary float32
	partial    [][]float32

	aIn  *graph.Fifo
	bIn  *graph.Fifo
	bOut *graph.Fifo
	yIn  *graph.Fifo
	yOut *graph.Fifo
}

// NewPE builds PE number index. bOut is nil for the last PE of the chain,
// yIn is nil for the first.
func NewPE(index int, cfg plan.PEConfig, aIn, bIn, bOut, yIn, yOut *graph.Fifo) *PE {
	partial := make([][]float32, cfg.PartialDepth())
	for i := range partial {
		partial[i] = make([]float32, cfg.VecWidth)
	}
	return &PE{
		index:   index,
		partial: partial,
		aIn:     aIn,
		bIn:     bIn,
		bOut:    bOut,
		yIn:     yIn,
		yOut:    yOut,
	}
}

// Array is the chain of P PEs advancing one shared iteration state in
// lockstep. A step executes only when every channel operation it needs is
// possible; otherwise the whole array stalls for the cycle and retries.
type Array struct {
	cfg   plan.PEConfig
	dims  tensor.ArrayDims
	state *State
	pes   []*PE

	staged [][]float32
	stalls int
}

// NewArray wires P PEs to their channels. aPipes and yPipes hold one channel
// per PE; bPipes is the moving chain head plus one forwarding link per
// non-terminal PE.
func NewArray(cfg plan.PEConfig, dims tensor.ArrayDims, aPipes, bPipes, yPipes []*graph.Fifo) *Array {
	if len(aPipes) != cfg.P || len(bPipes) != cfg.P || len(yPipes) != cfg.P {
		panic(fmt.Sprintf("channel count mismatch: %d stationary, %d moving, %d result for %d pes",
			len(aPipes), len(bPipes), len(yPipes), cfg.P))
	}

	pes := make([]*PE, cfg.P)
	for p := 0; p < cfg.P; p++ {
		var bOut *graph.Fifo
		if p < cfg.P-1 {
			bOut = bPipes[p+1]
		}
		var yIn *graph.Fifo
		if p > 0 {
			yIn = yPipes[p-1]
		}
		pes[p] = NewPE(p, cfg, aPipes[p], bPipes[p], bOut, yIn, yPipes[p])
	}

	return &Array{
		cfg:    cfg,
		dims:   dims,
		state:  NewState(cfg, dims),
		pes:    pes,
		staged: make([][]float32, cfg.P),
	}
}

// State exposes the shared iteration state, read-only by convention.
func (a *Array) State() *State {
	return a.state
}

// Done reports whether every logical step has executed.
func (a *Array) Done() bool {
	return a.state.Done()
}

// Stalls returns the number of cycles the array spent waiting on channels.
func (a *Array) Stalls() int {
	return a.stalls
}

// Tick executes one logical step if feasible and reports whether the array
// made progress this cycle.
func (a *Array) Tick() bool {
	if a.state.Done() {
		return false
	}
	if !a.feasible() {
		a.stalls++
		return false
	}

	s := a.state
	compute := ComputeGate(s)
	register := StationaryGate(s)

	// Relay pops come first: the upstream slot they free is the one the
	// upstream PE pushes into later this same step.
	for _, pe := range a.pes {
		a.staged[pe.index] = nil
		if Decide(pe.index, s) == DrainForward {
			a.staged[pe.index] = pe.yIn.Pop()
		}
	}

	for _, pe := range a.pes {
		if compute {
			if register {
				pe.stationary = pe.aIn.Pop()[0]
			}
			word := pe.bIn.Pop()
			if pe.bOut != nil {
				pe.bOut.Push(word)
			}
			acc := pe.partial[s.M-a.cfg.L]
			if s.K == 0 {
				for i := range acc {
					acc[i] = 0
				}
			}
			for i := range acc {
				acc[i] += pe.stationary * word[i]
			}
		}

		switch Decide(pe.index, s) {
		case DrainOwn:
			own := make([]float32, a.cfg.VecWidth)
			copy(own, pe.partial[s.M-a.cfg.L])
			pe.yOut.Push(own)
		case DrainForward:
			pe.yOut.Push(a.staged[pe.index])
		}
	}

	s.Advance()
	return true
}

// feasible dry-runs the step on channel occupancies only, in the exact
// order Tick moves words, and reports whether every pop finds a word and
// every push finds a slot.
func (a *Array) feasible() bool {
	s := a.state
	compute := ComputeGate(s)
	register := StationaryGate(s)

	delta := make(map[*graph.Fifo]int, 3*a.cfg.P)
	pop := func(f *graph.Fifo) bool {
		if f.Len()+delta[f] < 1 {
			return false
		}
		delta[f]--
		return true
	}
	push := func(f *graph.Fifo) bool {
		if f.Len()+delta[f] >= f.Depth() {
			return false
		}
		delta[f]++
		return true
	}

	for _, pe := range a.pes {
		if Decide(pe.index, s) == DrainForward && !pop(pe.yIn) {
			return false
		}
	}
	for _, pe := range a.pes {
		if compute {
			if register && !pop(pe.aIn) {
				return false
			}
			if !pop(pe.bIn) {
				return false
			}
			if pe.bOut != nil && !push(pe.bOut) {
				return false
			}
		}
		if Decide(pe.index, s) != DrainNone && !push(pe.yOut) {
			return false
		}
	}
	return true
}
