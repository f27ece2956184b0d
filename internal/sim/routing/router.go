package routing

import (
	"fmt"

	"trainyard.dev/internal/sim/model"
)

type builtAfter struct {
	kind    AfterKind
	state   model.StateID
	choices Sampler[*model.StateID]
}

func (a builtAfter) sample(rng Rand) (model.StateID, bool) {
	switch a.kind {
	case AfterSwitch:
		return a.state, true
	case AfterWeighted:
		if next := a.choices.Sample(rng); next != nil {
			return *next, true
		}
	}
	return 0, false
}

type builtEntry struct {
	outcomes Sampler[Outcome]
	after    builtAfter
}

type builtState struct {
	afterClick builtAfter
	forward    map[model.TrackID]builtEntry
	backward   map[model.TrackID]builtEntry
}

// Router is a built, ready-to-sample routing state machine. It is owned by the
// engine goroutine and is not safe for concurrent use.
type Router struct {
	configured bool
	current    model.StateID
	states     map[model.StateID]builtState
}

// Build validates info and prepares its samplers.
func Build(info Info) (*Router, error) {
	if err := info.Check(); err != nil {
		return nil, err
	}
	r := &Router{
		configured: info.Configured,
		current:    info.DefaultState,
		states:     make(map[model.StateID]builtState, len(info.States)),
	}
	for sid, st := range info.States {
		bs := builtState{
			forward:  make(map[model.TrackID]builtEntry, len(st.Forward)),
			backward: make(map[model.TrackID]builtEntry, len(st.Backward)),
		}
		var err error
		if bs.afterClick, err = buildAfter(st.AfterClick); err != nil {
			return nil, fmt.Errorf("state %d after_click: %w", sid, err)
		}
		for tid, e := range st.Forward {
			if bs.forward[tid], err = buildEntry(e); err != nil {
				return nil, fmt.Errorf("state %d forward %d: %w", sid, tid, err)
			}
		}
		for tid, e := range st.Backward {
			if bs.backward[tid], err = buildEntry(e); err != nil {
				return nil, fmt.Errorf("state %d backward %d: %w", sid, tid, err)
			}
		}
		r.states[sid] = bs
	}
	return r, nil
}

func buildEntry(e Entry) (builtEntry, error) {
	weights := make([]float64, len(e.Outcomes))
	values := make([]Outcome, len(e.Outcomes))
	for i, wo := range e.Outcomes {
		weights[i] = wo.Weight
		values[i] = wo.Outcome
	}
	s, err := NewSampler(weights, values)
	if err != nil {
		return builtEntry{}, err
	}
	after, err := buildAfter(e.After)
	if err != nil {
		return builtEntry{}, err
	}
	return builtEntry{outcomes: s, after: after}, nil
}

func buildAfter(a AfterEffect) (builtAfter, error) {
	out := builtAfter{kind: a.kind(), state: a.State}
	if out.kind != AfterWeighted {
		return out, nil
	}
	weights := make([]float64, len(a.Choices))
	values := make([]*model.StateID, len(a.Choices))
	for i, c := range a.Choices {
		weights[i] = c.Weight
		if c.State != nil {
			s := *c.State
			values[i] = &s
		}
	}
	s, err := NewSampler(weights, values)
	if err != nil {
		return builtAfter{}, err
	}
	out.choices = s
	return out, nil
}

func (r *Router) Configured() bool { return r.configured }

// State is the id of the current state.
func (r *Router) State() model.StateID { return r.current }

// Route picks the outcome for a train arriving over incoming while travelling
// in dir, then applies the entry's after-effect. ok is false when the current
// state has no entry for (incoming, dir); the caller decides the fallback.
func (r *Router) Route(rng Rand, incoming model.TrackID, dir model.Direction) (out Outcome, ok bool) {
	if !r.configured {
		return BounceBack(), true
	}
	st, found := r.states[r.current]
	if !found {
		return Outcome{}, false
	}
	tbl := st.forward
	if dir == model.Backward {
		tbl = st.backward
	}
	e, found := tbl[incoming]
	if !found {
		return Outcome{}, false
	}
	out = e.outcomes.Sample(rng)
	if next, switched := e.after.sample(rng); switched {
		r.current = next
	}
	return out, true
}

// Click applies the current state's after-click effect and reports whether
// the state changed.
func (r *Router) Click(rng Rand) bool {
	if !r.configured {
		return false
	}
	st, found := r.states[r.current]
	if !found {
		return false
	}
	next, switched := st.afterClick.sample(rng)
	if !switched || next == r.current {
		return false
	}
	r.current = next
	return true
}
