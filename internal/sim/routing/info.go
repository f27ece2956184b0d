// Package routing decides where a train goes when it reaches a node.
//
// Nodes either use a fixed policy (random, round robin, reverse, derail) or a
// configurable weighted state machine described by Info. Info is plain data so
// it can be persisted and edited over HTTP; Build turns a validated Info into a
// Router with pre-built samplers.
package routing

import (
	"sort"

	"trainyard.dev/internal/sim/model"
)

type OutcomeKind string

const (
	OutcomeDerail     OutcomeKind = "derail"
	OutcomeBounceBack OutcomeKind = "bounce_back"
	OutcomeTrack      OutcomeKind = "track"
)

// Outcome is the result of routing a train at a node. For OutcomeTrack the
// train continues on Track travelling in Direction.
type Outcome struct {
	Kind      OutcomeKind     `json:"kind"`
	Track     model.TrackID   `json:"track,omitempty"`
	Direction model.Direction `json:"direction,omitempty"`
}

func Derail() Outcome     { return Outcome{Kind: OutcomeDerail} }
func BounceBack() Outcome { return Outcome{Kind: OutcomeBounceBack} }

func ToTrack(id model.TrackID, dir model.Direction) Outcome {
	return Outcome{Kind: OutcomeTrack, Track: id, Direction: dir}
}

type AfterKind string

const (
	AfterNothing  AfterKind = "nothing"
	AfterSwitch   AfterKind = "switch"
	AfterWeighted AfterKind = "weighted"
)

type WeightedOutcome struct {
	Weight  float64 `json:"weight"`
	Outcome Outcome `json:"outcome"`
}

// WeightedSwitch is one branch of a weighted after-effect. A nil State keeps
// the current state.
type WeightedSwitch struct {
	Weight float64        `json:"weight"`
	State  *model.StateID `json:"state"`
}

// AfterEffect describes an optional state switch applied after routing or
// after a node click.
type AfterEffect struct {
	Kind    AfterKind        `json:"kind"`
	State   model.StateID    `json:"state,omitempty"`
	Choices []WeightedSwitch `json:"choices,omitempty"`
}

func Nothing() AfterEffect { return AfterEffect{Kind: AfterNothing} }

func SwitchTo(id model.StateID) AfterEffect { return AfterEffect{Kind: AfterSwitch, State: id} }

func (a AfterEffect) kind() AfterKind {
	if a.Kind == "" {
		return AfterNothing
	}
	return a.Kind
}

// Entry is the routing table row for one incoming track.
type Entry struct {
	Outcomes []WeightedOutcome `json:"outcomes"`
	After    AfterEffect       `json:"after"`
}

type State struct {
	AfterClick AfterEffect             `json:"after_click"`
	Forward    map[model.TrackID]Entry `json:"forward_routings"`
	Backward   map[model.TrackID]Entry `json:"backward_routings"`
}

// Info is the routing configuration of a configurable node.
type Info struct {
	Configured   bool                    `json:"configured"`
	DefaultState model.StateID           `json:"default_state"`
	States       map[model.StateID]State `json:"states"`
}

// DefaultInfo is attached to new configurable nodes. It validates, but since
// it is not configured every train bounces back.
func DefaultInfo() Info {
	return Info{
		DefaultState: 0,
		States: map[model.StateID]State{
			0: {AfterClick: Nothing()},
		},
	}
}

// TrackTargets lists every track named by an OutcomeTrack, sorted and unique.
func (i Info) TrackTargets() []model.TrackID {
	seen := map[model.TrackID]struct{}{}
	for _, st := range i.States {
		for _, tbl := range []map[model.TrackID]Entry{st.Forward, st.Backward} {
			for _, e := range tbl {
				for _, wo := range e.Outcomes {
					if wo.Outcome.Kind == OutcomeTrack {
						seen[wo.Outcome.Track] = struct{}{}
					}
				}
			}
		}
	}
	out := make([]model.TrackID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Clone returns a deep copy safe to hand to another goroutine.
func (i Info) Clone() Info {
	out := Info{Configured: i.Configured, DefaultState: i.DefaultState}
	if i.States != nil {
		out.States = make(map[model.StateID]State, len(i.States))
		for id, st := range i.States {
			out.States[id] = State{
				AfterClick: st.AfterClick.clone(),
				Forward:    cloneTable(st.Forward),
				Backward:   cloneTable(st.Backward),
			}
		}
	}
	return out
}

func cloneTable(t map[model.TrackID]Entry) map[model.TrackID]Entry {
	if t == nil {
		return nil
	}
	out := make(map[model.TrackID]Entry, len(t))
	for id, e := range t {
		outs := make([]WeightedOutcome, len(e.Outcomes))
		copy(outs, e.Outcomes)
		out[id] = Entry{Outcomes: outs, After: e.After.clone()}
	}
	return out
}

func (a AfterEffect) clone() AfterEffect {
	out := AfterEffect{Kind: a.Kind, State: a.State}
	if a.Choices != nil {
		out.Choices = make([]WeightedSwitch, len(a.Choices))
		for i, c := range a.Choices {
			out.Choices[i] = WeightedSwitch{Weight: c.Weight}
			if c.State != nil {
				s := *c.State
				out.Choices[i].State = &s
			}
		}
	}
	return out
}

func sortedStateIDs(m map[model.StateID]State) []model.StateID {
	ids := make([]model.StateID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func sortedTrackIDs(m map[model.TrackID]Entry) []model.TrackID {
	ids := make([]model.TrackID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}
