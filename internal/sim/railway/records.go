package railway

import (
	"fmt"

	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
	"trainyard.dev/internal/sim/routing"
)

// NodeRecord is the persisted form of a node.
type NodeRecord struct {
	ID          model.NodeID                         `json:"id"`
	Coord       geom.Coord                           `json:"coord"`
	Connections map[model.TrackID]model.DirectionSet `json:"connections"`
	ConnType    model.Policy                         `json:"conn_type"`
	RoutingInfo *routing.Info                        `json:"routing_info,omitempty"`
}

// TrackRecord is the persisted form of a track.
type TrackRecord struct {
	ID        model.TrackID `json:"id"`
	Start     model.NodeID  `json:"start"`
	End       model.NodeID  `json:"end"`
	Path      geom.Bezier   `json:"path"`
	Color     string        `json:"color"`
	Thickness float64       `json:"thickness"`
	Length    float64       `json:"length"`
}

// Documents is a graph in the shape it is written to disk: two sibling
// documents keyed by id. Trains are never part of it.
type Documents struct {
	Nodes  map[model.NodeID]NodeRecord
	Tracks map[model.TrackID]TrackRecord
}

// Export copies the graph into persistable documents.
func (g *Graph) Export() Documents {
	docs := Documents{
		Nodes:  make(map[model.NodeID]NodeRecord, len(g.nodes)),
		Tracks: make(map[model.TrackID]TrackRecord, len(g.tracks)),
	}
	for id, n := range g.nodes {
		conns := make(map[model.TrackID]model.DirectionSet, len(n.Conns))
		for tid, set := range n.Conns {
			conns[tid] = set
		}
		rec := NodeRecord{ID: id, Coord: n.Pos, Connections: conns, ConnType: n.Policy}
		if n.Routing != nil {
			c := n.Routing.Clone()
			rec.RoutingInfo = &c
		}
		docs.Nodes[id] = rec
	}
	for id, t := range g.tracks {
		pts := make([]geom.Coord, len(t.Curve.Points))
		copy(pts, t.Curve.Points)
		docs.Tracks[id] = TrackRecord{
			ID:        id,
			Start:     t.Start,
			End:       t.End,
			Path:      geom.Bezier{Points: pts},
			Color:     t.Color,
			Thickness: t.Thickness,
			Length:    t.Length,
		}
	}
	return docs
}

// FromDocuments rebuilds a graph. Connection maps are derived from the tracks;
// any disagreement with the stored connections is returned as a warning, as
// are routing tables that fail validation (the node then falls back to the
// default table). Tracks naming missing nodes or carrying a malformed curve
// are an error.
func FromDocuments(docs Documents) (*Graph, []string, error) {
	g := NewGraph()
	var warnings []string
	for id, rec := range docs.Nodes {
		if rec.ID != id {
			warnings = append(warnings, fmt.Sprintf("node key %d holds id %d", id, rec.ID))
		}
		n := &Node{
			ID:     id,
			Pos:    rec.Coord,
			Policy: rec.ConnType,
			Conns:  map[model.TrackID]model.DirectionSet{},
		}
		g.nodes[id] = n
		if id >= g.nextNode {
			g.nextNode = id + 1
		}
	}
	for id, rec := range docs.Tracks {
		if rec.ID != id {
			warnings = append(warnings, fmt.Sprintf("track key %d holds id %d", id, rec.ID))
		}
		if _, ok := g.nodes[rec.Start]; !ok {
			return nil, warnings, fmt.Errorf("track %d start %d: %w", id, rec.Start, ErrUnknownNode)
		}
		if _, ok := g.nodes[rec.End]; !ok {
			return nil, warnings, fmt.Errorf("track %d end %d: %w", id, rec.End, ErrUnknownNode)
		}
		if err := rec.Path.Validate(); err != nil {
			return nil, warnings, fmt.Errorf("track %d: %w", id, err)
		}
		pts := make([]geom.Coord, len(rec.Path.Points))
		copy(pts, rec.Path.Points)
		curve := geom.Bezier{Points: pts}
		g.tracks[id] = &Track{
			ID:        id,
			Start:     rec.Start,
			End:       rec.End,
			Curve:     curve,
			Color:     rec.Color,
			Thickness: rec.Thickness,
			Length:    curve.FastLength(),
		}
		g.connect(id, rec.Start, rec.End)
		if id >= g.nextTrack {
			g.nextTrack = id + 1
		}
	}
	for _, nid := range g.NodeIDs() {
		rec := docs.Nodes[nid]
		n := g.nodes[nid]
		for tid, set := range rec.Connections {
			if n.Conns[tid] != set {
				warnings = append(warnings, fmt.Sprintf("node %d track %d: stored connection %s, derived %s", nid, tid, set, n.Conns[tid]))
			}
		}
		for tid, set := range n.Conns {
			if _, ok := rec.Connections[tid]; !ok {
				warnings = append(warnings, fmt.Sprintf("node %d track %d: connection %s missing from document", nid, tid, set))
			}
		}
		info := routing.DefaultInfo()
		if rec.RoutingInfo != nil {
			info = rec.RoutingInfo.Clone()
		} else if n.Policy != model.PolicyConfigurable {
			continue
		}
		if err := g.SetRouting(nid, info); err != nil {
			warnings = append(warnings, fmt.Sprintf("node %d routing rejected: %v", nid, err))
			if err := g.SetRouting(nid, routing.DefaultInfo()); err != nil {
				return nil, warnings, fmt.Errorf("node %d default routing: %w", nid, err)
			}
		}
	}
	return g, warnings, nil
}
