package routing

import (
	"sort"

	"trainyard.dev/internal/sim/model"
)

// Decision is the routing engine's answer for one boundary crossing.
// Fallback is set when a configurable node had no table entry for the
// arriving train and Derail was substituted.
type Decision struct {
	Outcome  Outcome
	Fallback bool
}

// Junction is what a policy sees of a node.
type Junction struct {
	Policy      model.Policy
	Connections map[model.TrackID]model.DirectionSet
	Router      *Router
}

// Decide routes a train that arrived at j over incoming while travelling in dir.
func Decide(j Junction, incoming model.TrackID, dir model.Direction, rng Rand) Decision {
	switch j.Policy {
	case model.PolicyRandom:
		return Decision{Outcome: decideRandom(j.Connections, incoming, rng)}
	case model.PolicyRoundRobin:
		return Decision{Outcome: decideRoundRobin(j.Connections, incoming)}
	case model.PolicyReverse:
		return Decision{Outcome: BounceBack()}
	case model.PolicyDerail:
		return Decision{Outcome: Derail()}
	case model.PolicyConfigurable:
		if j.Router == nil {
			return Decision{Outcome: BounceBack()}
		}
		out, ok := j.Router.Route(rng, incoming, dir)
		if !ok {
			return Decision{Outcome: Derail(), Fallback: true}
		}
		return Decision{Outcome: out}
	}
	return Decision{Outcome: Derail(), Fallback: true}
}

func others(conns map[model.TrackID]model.DirectionSet, incoming model.TrackID) []model.TrackID {
	ids := make([]model.TrackID, 0, len(conns))
	for id := range conns {
		if id != incoming {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func decideRandom(conns map[model.TrackID]model.DirectionSet, incoming model.TrackID, rng Rand) Outcome {
	cands := others(conns, incoming)
	if len(cands) == 0 {
		return BounceBack()
	}
	next := cands[rng.Intn(len(cands))]
	return ToTrack(next, leaving(conns[next], rng))
}

// decideRoundRobin takes the connected track with the next larger id,
// wrapping around to the smallest.
func decideRoundRobin(conns map[model.TrackID]model.DirectionSet, incoming model.TrackID) Outcome {
	cands := others(conns, incoming)
	if len(cands) == 0 {
		return BounceBack()
	}
	next := cands[0]
	for _, id := range cands {
		if id > incoming {
			next = id
			break
		}
	}
	set := conns[next]
	if set == model.SetBoth {
		return ToTrack(next, model.Forward)
	}
	return ToTrack(next, arrivingIn(set).Opposite())
}

// leaving picks the direction a train departs on a track whose arrival set is
// s: a train leaving the node travels against the arrival direction.
func leaving(s model.DirectionSet, rng Rand) model.Direction {
	if s == model.SetBoth {
		if rng.Intn(2) == 0 {
			return model.Forward
		}
		return model.Backward
	}
	return arrivingIn(s).Opposite()
}

func arrivingIn(s model.DirectionSet) model.Direction {
	if s.Has(model.Forward) {
		return model.Forward
	}
	return model.Backward
}
