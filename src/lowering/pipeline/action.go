package pipeline

// DrainAction is what a PE does with the result chain in one logical step.
type DrainAction int

const (
	// DrainNone: nothing leaves this PE this step.
	DrainNone DrainAction = iota
	// DrainOwn: the PE pushes its own partial result downstream.
	DrainOwn
	// DrainForward: the PE relays one word popped from its upstream
	// neighbor, unchanged.
	DrainForward
)

func (a DrainAction) String() string {
	switch a {
	case DrainNone:
		return "none"
	case DrainOwn:
		return "own"
	case DrainForward:
		return "forward"
	default:
		return "invalid"
	}
}

// Decide computes the drain action of PE p at the current step. Pure: it
// reads the shared iteration state and the PE index, nothing else.
//
// A drain is due in exactly one of three windows, mutually exclusive by
// construction (kDrain tracks k during compute, and kDrain < p excludes
// kDrain == K-1 because p < K):
//   - relay window: an earlier tile exists and this PE still has upstream
//     streams to pass on (kDrain < p) inside the first TVec steps of the
//     current drain period;
//   - own window: the last contraction step of the current tile, while the
//     freshly completed partials stream out (k == K-1, m >= L);
//   - terminal window: the appended drain sub-phase, relays only.
func Decide(p int, s *State) DrainAction {
	tVec := s.cfg.TVec
	kExtent := s.dims.K

	due := false
	if s.Terminal {
		due = s.KDrain < p
	} else {
		due = (s.HasEarlierTile() && s.KDrain < p && s.MDrain < tVec) ||
			(s.K == kExtent-1 && s.M >= s.cfg.L)
	}
	if !due {
		return DrainNone
	}
	if p == 0 || (!s.Terminal && s.KDrain == kExtent-1) {
		return DrainOwn
	}
	return DrainForward
}

// ComputeGate reports whether the PEs accumulate this step. The first L
// steps of every contraction index only fill the pipeline.
func ComputeGate(s *State) bool {
	return !s.Terminal && s.M >= s.cfg.L
}

// StationaryGate reports whether the PEs register a fresh stationary value
// this step: once per contraction index, on the first compute step.
func StationaryGate(s *State) bool {
	return !s.Terminal && s.M == s.cfg.L
}
