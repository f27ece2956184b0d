// Package railway is the mutable topology of the simulation: nodes joined by
// curved track segments, and the trains running on them.
//
// A Graph is owned by a single goroutine. None of its methods lock.
package railway

import (
	"errors"
	"fmt"
	"sort"

	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
	"trainyard.dev/internal/sim/routing"
)

var (
	ErrUnknownNode  = errors.New("unknown node")
	ErrUnknownTrack = errors.New("unknown track")
	ErrUnknownTrain = errors.New("unknown train")
	ErrInvalidSpeed = errors.New("train speed must be positive")
	ErrZeroLength   = errors.New("track has zero length")
)

type Node struct {
	ID     model.NodeID
	Pos    geom.Coord
	Policy model.Policy
	// Conns maps each connected track to the directions of travel along it
	// that arrive at this node.
	Conns   map[model.TrackID]model.DirectionSet
	Routing *routing.Info

	router *routing.Router
}

type Track struct {
	ID        model.TrackID
	Start     model.NodeID
	End       model.NodeID
	Curve     geom.Bezier
	Color     string
	Thickness float64
	Length    float64
}

// Boundary returns the node a train reaches when travelling along t in dir.
func (t *Track) Boundary(dir model.Direction) model.NodeID {
	if dir == model.Backward {
		return t.Start
	}
	return t.End
}

type Graph struct {
	nodes  map[model.NodeID]*Node
	tracks map[model.TrackID]*Track

	nextNode  model.NodeID
	nextTrack model.TrackID
}

func NewGraph() *Graph {
	return &Graph{
		nodes:  map[model.NodeID]*Node{},
		tracks: map[model.TrackID]*Track{},
	}
}

func (g *Graph) Node(id model.NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Track(id model.TrackID) (*Track, bool) {
	t, ok := g.tracks[id]
	return t, ok
}

func (g *Graph) NodeCount() int  { return len(g.nodes) }
func (g *Graph) TrackCount() int { return len(g.tracks) }

// NodeIDs returns node ids in ascending order.
func (g *Graph) NodeIDs() []model.NodeID {
	ids := make([]model.NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// TrackIDs returns track ids in ascending order.
func (g *Graph) TrackIDs() []model.TrackID {
	ids := make([]model.TrackID, 0, len(g.tracks))
	for id := range g.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// AddNode creates a node. Configurable nodes start with an unconfigured
// routing table, so every train bounces back until one is installed.
func (g *Graph) AddNode(pos geom.Coord, policy model.Policy) model.NodeID {
	id := g.nextNode
	g.nextNode++
	n := &Node{
		ID:     id,
		Pos:    pos,
		Policy: policy,
		Conns:  map[model.TrackID]model.DirectionSet{},
	}
	if policy == model.PolicyConfigurable {
		info := routing.DefaultInfo()
		r, err := routing.Build(info)
		if err != nil {
			panic(fmt.Sprintf("railway: default routing does not build: %v", err))
		}
		n.Routing = &info
		n.router = r
	}
	g.nodes[id] = n
	return id
}

// AddTrack joins start and end with a new track. The start node records a
// Backward arrival, the end node a Forward arrival.
func (g *Graph) AddTrack(start, end model.NodeID, shape geom.Shape, color string, thickness float64) (model.TrackID, error) {
	sn, ok := g.nodes[start]
	if !ok {
		return 0, fmt.Errorf("add track: start %d: %w", start, ErrUnknownNode)
	}
	en, ok := g.nodes[end]
	if !ok {
		return 0, fmt.Errorf("add track: end %d: %w", end, ErrUnknownNode)
	}
	if err := shape.Validate(); err != nil {
		return 0, fmt.Errorf("add track: %w", err)
	}
	curve := geom.NewBezier(sn.Pos, en.Pos, shape)
	if !(curve.FastLength() > 0) {
		return 0, fmt.Errorf("add track %d-%d: %w", start, end, ErrZeroLength)
	}
	id := g.nextTrack
	g.nextTrack++
	g.tracks[id] = &Track{
		ID:        id,
		Start:     start,
		End:       end,
		Curve:     curve,
		Color:     color,
		Thickness: thickness,
		Length:    curve.FastLength(),
	}
	g.connect(id, start, end)
	return id, nil
}

func (g *Graph) connect(id model.TrackID, start, end model.NodeID) {
	sn, en := g.nodes[start], g.nodes[end]
	sn.Conns[id] = sn.Conns[id].With(model.Backward)
	en.Conns[id] = en.Conns[id].With(model.Forward)
}

// MoveNode repositions a node and drags the endpoints of every connected
// track with it. A drag may collapse a track to zero length; trains stuck on
// such tracks are derailed by MoveWithTime.
func (g *Graph) MoveNode(id model.NodeID, pos geom.Coord) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("move node %d: %w", id, ErrUnknownNode)
	}
	n.Pos = pos
	for tid, set := range n.Conns {
		t, ok := g.tracks[tid]
		if !ok {
			continue
		}
		if set.Has(model.Backward) {
			t.Curve = t.Curve.WithStart(pos)
		}
		if set.Has(model.Forward) {
			t.Curve = t.Curve.WithEnd(pos)
		}
		t.Length = t.Curve.FastLength()
	}
	return nil
}

// AdjustTrack replaces the interior control points of a track.
func (g *Graph) AdjustTrack(id model.TrackID, shape geom.Shape) error {
	t, ok := g.tracks[id]
	if !ok {
		return fmt.Errorf("adjust track %d: %w", id, ErrUnknownTrack)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("adjust track %d: %w", id, err)
	}
	curve := t.Curve.ApplyShape(shape)
	if !(curve.FastLength() > 0) {
		return fmt.Errorf("adjust track %d: %w", id, ErrZeroLength)
	}
	t.Curve = curve
	t.Length = curve.FastLength()
	return nil
}

// SetRouting validates info and installs it on a node. The node keeps its
// previous table when info is rejected.
func (g *Graph) SetRouting(id model.NodeID, info routing.Info) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("set routing %d: %w", id, ErrUnknownNode)
	}
	r, err := routing.Build(info)
	if err != nil {
		return err
	}
	for _, tid := range info.TrackTargets() {
		if _, ok := g.tracks[tid]; !ok {
			return &routing.CheckError{
				Reason: routing.ReasonUnknownTrack,
				Path:   "states",
				Detail: fmt.Sprintf("outcome targets track %d which does not exist", tid),
			}
		}
	}
	c := info.Clone()
	n.Routing = &c
	n.router = r
	return nil
}

// Route consults the routing policy of node for a train that arrived over
// incoming travelling in dir.
func (g *Graph) Route(node model.NodeID, incoming model.TrackID, dir model.Direction, rng routing.Rand) routing.Decision {
	n, ok := g.nodes[node]
	if !ok {
		return routing.Decision{Outcome: routing.Derail(), Fallback: true}
	}
	return routing.Decide(routing.Junction{
		Policy:      n.Policy,
		Connections: n.Conns,
		Router:      n.router,
	}, incoming, dir, rng)
}

// ClickNode fires the after-click effect of a configurable node and reports
// whether its state changed.
func (g *Graph) ClickNode(id model.NodeID, rng routing.Rand) (bool, error) {
	n, ok := g.nodes[id]
	if !ok {
		return false, fmt.Errorf("click node %d: %w", id, ErrUnknownNode)
	}
	if n.Policy != model.PolicyConfigurable || n.router == nil {
		return false, nil
	}
	return n.router.Click(rng), nil
}

// NodeState describes the live routing state of a node.
type NodeState struct {
	Policy     model.Policy  `json:"conn_type"`
	Configured bool          `json:"configured"`
	State      model.StateID `json:"state"`
}

func (g *Graph) NodeState(id model.NodeID) (NodeState, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return NodeState{}, false
	}
	st := NodeState{Policy: n.Policy}
	if n.router != nil {
		st.Configured = n.router.Configured()
		st.State = n.router.State()
	}
	return st, true
}

// Validate checks that every track endpoint exists and lists the track with
// the right arrival direction, and that no node lists a missing track.
func (g *Graph) Validate() []error {
	var errs []error
	for _, tid := range g.TrackIDs() {
		t := g.tracks[tid]
		sn, ok := g.nodes[t.Start]
		if !ok {
			errs = append(errs, fmt.Errorf("track %d start %d: %w", tid, t.Start, ErrUnknownNode))
			continue
		}
		en, ok := g.nodes[t.End]
		if !ok {
			errs = append(errs, fmt.Errorf("track %d end %d: %w", tid, t.End, ErrUnknownNode))
			continue
		}
		if !sn.Conns[tid].Has(model.Backward) {
			errs = append(errs, fmt.Errorf("node %d does not list track %d as backward arrival", t.Start, tid))
		}
		if !en.Conns[tid].Has(model.Forward) {
			errs = append(errs, fmt.Errorf("node %d does not list track %d as forward arrival", t.End, tid))
		}
	}
	for _, nid := range g.NodeIDs() {
		for tid := range g.nodes[nid].Conns {
			if _, ok := g.tracks[tid]; !ok {
				errs = append(errs, fmt.Errorf("node %d lists track %d: %w", nid, tid, ErrUnknownTrack))
			}
		}
	}
	return errs
}
