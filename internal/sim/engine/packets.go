package engine

import (
	"time"

	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
)

// Packet is a message broadcast to viewers.
type Packet interface {
	Kind() string
}

type NodeUpdate struct {
	Node model.NodeID
	Pos  geom.Coord
}

type TrackEntry struct {
	ID        model.TrackID
	Curve     geom.Bezier
	Color     string
	Thickness float64
}

// TrackTable is the full, id-ordered list of tracks.
type TrackTable struct {
	Tracks []TrackEntry
}

// TrainUpdate places a train. Duration is the time until it reaches its
// next boundary.
type TrainUpdate struct {
	Train     model.TrainID
	Track     model.TrackID
	Progress  float64
	Duration  time.Duration
	Direction model.Direction
	Image     string
}

type Removal struct {
	Train model.TrainID
	How   model.RemovalKind
}

func (NodeUpdate) Kind() string  { return "node" }
func (TrackTable) Kind() string  { return "track" }
func (TrainUpdate) Kind() string { return "train" }
func (Removal) Kind() string     { return "remove" }

type ClickTarget uint8

const (
	TargetTrain ClickTarget = iota
	TargetNode
)

func (t ClickTarget) String() string {
	if t == TargetNode {
		return "node"
	}
	return "train"
}

// Click is a viewer clicking a train or a node.
type Click struct {
	Target ClickTarget
	ID     uint32
	Mods   model.ClickModifier
}

// Command is a topology or train edit submitted on a control handle.
type Command interface {
	Name() string
}

type NewNode struct {
	Pos    geom.Coord
	Policy model.Policy
}

type NewTrain struct {
	Track model.TrackID
	Speed float64
}

type NewTrack struct {
	Start model.NodeID
	End   model.NodeID
	Color string
}

type NodeMove struct {
	Node model.NodeID
	Pos  geom.Coord
}

type TrackAdjust struct {
	Track model.TrackID
	Shape geom.Shape
}

func (NewNode) Name() string     { return "node_new" }
func (NewTrain) Name() string    { return "train_new" }
func (NewTrack) Name() string    { return "track_new" }
func (NodeMove) Name() string    { return "node_move" }
func (TrackAdjust) Name() string { return "track_adjust" }
