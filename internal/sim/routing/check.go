package routing

import (
	"fmt"
	"math"

	"trainyard.dev/internal/sim/model"
)

// Reason codes reported by Check.
const (
	ReasonMissingDefault    = "default_state_missing"
	ReasonUnknownState      = "unknown_target_state"
	ReasonEmptyDistribution = "empty_distribution"
	ReasonInvalidWeight     = "invalid_weight"
	ReasonZeroTotal         = "zero_total_weight"
	ReasonInvalidOutcome    = "invalid_outcome"
	ReasonInvalidAfter      = "invalid_after_effect"
	ReasonUnknownTrack      = "unknown_track"
)

// CheckError explains why an Info was rejected. Path locates the offending
// element, e.g. "states[1].forward_routings[4].outcomes".
type CheckError struct {
	Reason string
	Path   string
	Detail string
}

func (e *CheckError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("routing: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("routing: %s at %s: %s", e.Reason, e.Path, e.Detail)
}

func checkErr(reason, path, format string, args ...any) *CheckError {
	return &CheckError{Reason: reason, Path: path, Detail: fmt.Sprintf(format, args...)}
}

// Check validates the structure of i. An Info that fails Check must never be
// installed on a node.
func (i Info) Check() error {
	if _, ok := i.States[i.DefaultState]; !ok {
		return checkErr(ReasonMissingDefault, "default_state", "state %d not among %d states", i.DefaultState, len(i.States))
	}
	for _, sid := range sortedStateIDs(i.States) {
		st := i.States[sid]
		base := fmt.Sprintf("states[%d]", sid)
		if err := i.checkAfter(st.AfterClick, base+".after_click"); err != nil {
			return err
		}
		for _, tbl := range []struct {
			name string
			m    map[model.TrackID]Entry
		}{{"forward_routings", st.Forward}, {"backward_routings", st.Backward}} {
			for _, tid := range sortedTrackIDs(tbl.m) {
				e := tbl.m[tid]
				path := fmt.Sprintf("%s.%s[%d]", base, tbl.name, tid)
				if err := checkOutcomes(e.Outcomes, path+".outcomes"); err != nil {
					return err
				}
				if err := i.checkAfter(e.After, path+".after"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkOutcomes(outs []WeightedOutcome, path string) error {
	weights := make([]float64, len(outs))
	for k, wo := range outs {
		switch wo.Outcome.Kind {
		case OutcomeDerail, OutcomeBounceBack, OutcomeTrack:
		default:
			return checkErr(ReasonInvalidOutcome, fmt.Sprintf("%s[%d]", path, k), "unknown outcome kind %q", wo.Outcome.Kind)
		}
		weights[k] = wo.Weight
	}
	return checkWeights(weights, path)
}

func (i Info) checkAfter(a AfterEffect, path string) error {
	switch a.kind() {
	case AfterNothing:
		return nil
	case AfterSwitch:
		if _, ok := i.States[a.State]; !ok {
			return checkErr(ReasonUnknownState, path, "switch target state %d does not exist", a.State)
		}
		return nil
	case AfterWeighted:
		weights := make([]float64, len(a.Choices))
		for k, c := range a.Choices {
			if c.State != nil {
				if _, ok := i.States[*c.State]; !ok {
					return checkErr(ReasonUnknownState, fmt.Sprintf("%s.choices[%d]", path, k), "switch target state %d does not exist", *c.State)
				}
			}
			weights[k] = c.Weight
		}
		return checkWeights(weights, path+".choices")
	}
	return checkErr(ReasonInvalidAfter, path, "unknown after-effect kind %q", a.Kind)
}

func checkWeights(weights []float64, path string) error {
	if len(weights) == 0 {
		return checkErr(ReasonEmptyDistribution, path, "distribution has no entries")
	}
	total := 0.0
	for k, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return checkErr(ReasonInvalidWeight, fmt.Sprintf("%s[%d]", path, k), "weight %v must be finite and non-negative", w)
		}
		total += w
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return checkErr(ReasonZeroTotal, path, "weights sum to %v", total)
	}
	return nil
}
