package checker

import "sync"

// SourceState tracks a source's lifecycle. Legal transitions:
// not_initialized -> ready (Initialize succeeded), not_initialized -> failed
// (configuration error), ready -> stopped (Shutdown). A failed source is
// never retried into ready without a fresh Initialize.
type SourceState int

const (
	StateNotInitialized SourceState = iota
	StateReady
	StateFailed
	StateStopped
)

func (s SourceState) String() string {
	switch s {
	case StateNotInitialized:
		return "not_initialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status summarizes per-source readiness for health-check consumption.
type Status struct {
	Ready      bool              `json:"ready"`
	ReadyCount int               `json:"ready_count"`
	TotalCount int               `json:"total_count"`
	Sources    map[string]string `json:"sources"`
}

type readiness struct {
	mu     sync.Mutex
	states map[string]SourceState
}

func newReadiness(names []string) *readiness {
	states := make(map[string]SourceState, len(names))
	for _, n := range names {
		states[n] = StateNotInitialized
	}
	return &readiness{states: states}
}

// transition moves a source to the given state if the move is legal and
// reports whether it was applied.
func (r *readiness) transition(name string, to SourceState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, ok := r.states[name]
	if !ok {
		return false
	}
	legal := false
	switch to {
	case StateReady, StateFailed:
		legal = from == StateNotInitialized
	case StateStopped:
		legal = from == StateReady
	}
	if legal {
		r.states[name] = to
	}
	return legal
}

func (r *readiness) state(name string) SourceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[name]
}

func (r *readiness) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		TotalCount: len(r.states),
		Sources:    make(map[string]string, len(r.states)),
	}
	for name, s := range r.states {
		st.Sources[name] = s.String()
		if s == StateReady {
			st.ReadyCount++
		}
	}
	st.Ready = st.ReadyCount > 0
	return st
}
