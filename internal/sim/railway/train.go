package railway

import (
	"math"
	"sort"
	"time"

	"trainyard.dev/internal/sim/model"
	"trainyard.dev/internal/sim/routing"
)

// Train is pinned to a track. Progress is the fraction of the track already
// covered, measured from the track's start node.
type Train struct {
	ID            model.TrainID
	Speed         float64
	ImageForward  string
	ImageBackward string
	Track         model.TrackID
	Progress      float64
	Dir           model.Direction
}

func (t *Train) Image() string {
	if t.Dir == model.Backward {
		return t.ImageBackward
	}
	return t.ImageForward
}

func (t *Train) remainingFraction() float64 {
	if t.Dir == model.Backward {
		return t.Progress
	}
	return 1 - t.Progress
}

// EstimatedTimeLeft is the time until the train reaches the boundary it is
// heading for. It is zero exactly at the boundary.
func (t *Train) EstimatedTimeLeft(g *Graph) time.Duration {
	tr, ok := g.tracks[t.Track]
	if !ok || !(t.Speed > 0) {
		return 0
	}
	secs := t.remainingFraction() * tr.Length / t.Speed
	if secs <= 0 {
		return 0
	}
	if secs > float64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

// Reverse flips the direction of travel in place.
func (t *Train) Reverse() { t.Dir = t.Dir.Opposite() }

// Fallback records a configurable node that had no table entry for a train.
type Fallback struct {
	Node     model.NodeID
	Incoming model.TrackID
	Dir      model.Direction
}

type MoveResult struct {
	// Crossed counts node boundaries passed during the move.
	Crossed  int
	Derailed bool
	// DerailNode is the node whose routing derailed the train.
	DerailNode model.NodeID
	Fallbacks  []Fallback
	// Capped is set when the move stopped at maxCrossings.
	Capped bool
}

// MoveWithTime advances the train by elapsed at its speed, consulting the
// routing of every node it reaches. maxCrossings bounds the number of
// boundaries passed in one call; zero means no bound.
func (t *Train) MoveWithTime(g *Graph, elapsed time.Duration, rng routing.Rand, maxCrossings int) MoveResult {
	var res MoveResult
	budget := elapsed.Seconds() * t.Speed
	if !(budget > 0) {
		return res
	}
	// stuck counts consecutive crossings that consumed no distance. More of
	// them than the graph could route through means the train is trapped on
	// zero-length track.
	stuck, stuckLimit := 0, 2*len(g.tracks)+2
	for {
		tr, ok := g.tracks[t.Track]
		if !ok {
			res.Derailed = true
			return res
		}
		required := t.remainingFraction() * tr.Length
		if required > 0 {
			stuck = 0
		} else {
			stuck++
		}
		if stuck > stuckLimit {
			res.Derailed = true
			res.DerailNode = tr.Boundary(t.Dir)
			return res
		}
		if required > budget {
			delta := budget / tr.Length
			if t.Dir == model.Backward {
				t.Progress -= delta
			} else {
				t.Progress += delta
			}
			t.Progress = clamp01(t.Progress)
			return res
		}
		if maxCrossings > 0 && res.Crossed >= maxCrossings {
			res.Capped = true
			return res
		}
		budget -= required
		node := tr.Boundary(t.Dir)
		d := g.Route(node, t.Track, t.Dir, rng)
		res.Crossed++
		if d.Fallback {
			res.Fallbacks = append(res.Fallbacks, Fallback{Node: node, Incoming: t.Track, Dir: t.Dir})
		}
		switch d.Outcome.Kind {
		case routing.OutcomeBounceBack:
			t.Dir = t.Dir.Opposite()
		case routing.OutcomeTrack:
			if _, ok := g.tracks[d.Outcome.Track]; !ok {
				res.Derailed = true
				res.DerailNode = node
				return res
			}
			t.Track = d.Outcome.Track
			t.Dir = d.Outcome.Direction
		default:
			res.Derailed = true
			res.DerailNode = node
			return res
		}
		if t.Dir == model.Backward {
			t.Progress = 1
		} else {
			t.Progress = 0
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Trains is the registry of active trains.
type Trains struct {
	byID map[model.TrainID]*Train
	next model.TrainID
}

func NewTrains() *Trains {
	return &Trains{byID: map[model.TrainID]*Train{}}
}

// Spawn places a new train at the start of a track, travelling forward.
func (ts *Trains) Spawn(g *Graph, track model.TrackID, speed float64, imgForward, imgBackward string) (*Train, error) {
	if _, ok := g.tracks[track]; !ok {
		return nil, ErrUnknownTrack
	}
	if !(speed > 0) || math.IsInf(speed, 0) {
		return nil, ErrInvalidSpeed
	}
	t := &Train{
		ID:            ts.next,
		Speed:         speed,
		ImageForward:  imgForward,
		ImageBackward: imgBackward,
		Track:         track,
		Dir:           model.Forward,
	}
	ts.next++
	ts.byID[t.ID] = t
	return t, nil
}

func (ts *Trains) Get(id model.TrainID) (*Train, bool) {
	t, ok := ts.byID[id]
	return t, ok
}

func (ts *Trains) Remove(id model.TrainID) bool {
	if _, ok := ts.byID[id]; !ok {
		return false
	}
	delete(ts.byID, id)
	return true
}

func (ts *Trains) Len() int { return len(ts.byID) }

// Sorted returns trains in ascending id order.
func (ts *Trains) Sorted() []*Train {
	out := make([]*Train, 0, len(ts.byID))
	for _, t := range ts.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// NextBoundary returns the smallest EstimatedTimeLeft over all trains. ok is
// false when there are no trains.
func (ts *Trains) NextBoundary(g *Graph) (d time.Duration, ok bool) {
	for _, t := range ts.byID {
		etl := t.EstimatedTimeLeft(g)
		if !ok || etl < d {
			d, ok = etl, true
		}
	}
	return d, ok
}
