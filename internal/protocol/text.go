// Package protocol is the line-oriented text format spoken on the viewer and
// control sockets, plus the JSON schema for routing documents.
//
// Every packet is a type line followed by its fields:
//
//	train\n<id> <track> <progress> <ms> <direction>\n<image>
//	track\n<n>\n<id> <curve> <color> <thickness>...
//	node\n<id> <x;y>
//	remove\n<id> <kind>
//
// The <ms> of a train packet is the time left until the train reaches the end
// of its track in its direction of travel, not the time to traverse the whole
// track. A viewer animates from <progress> to the boundary over <ms>.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
)

// ErrMalformed wraps every parse failure.
var ErrMalformed = errors.New("malformed packet")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func FormatCoord(c geom.Coord) string { return formatFloat(c.X) + ";" + formatFloat(c.Y) }

// FormatCurve renders a curve as bezierN;x;y;... with N its point count.
func FormatCurve(b geom.Bezier) string {
	var sb strings.Builder
	sb.WriteString("bezier")
	sb.WriteString(strconv.Itoa(b.Order()))
	for _, p := range b.Points {
		sb.WriteByte(';')
		sb.WriteString(FormatCoord(p))
	}
	return sb.String()
}

// FormatShape renders curve interior points: empty, "x;y" or "x;y,x;y".
func FormatShape(s geom.Shape) string {
	parts := make([]string, len(s.Points))
	for i, p := range s.Points {
		parts[i] = FormatCoord(p)
	}
	return strings.Join(parts, ",")
}

// Encode renders a viewer packet.
func Encode(p engine.Packet) (string, error) {
	switch p := p.(type) {
	case engine.TrainUpdate:
		ms := float64(p.Duration) / 1e6
		return fmt.Sprintf("train\n%d %d %s %s %s\n%s",
			p.Train, p.Track, formatFloat(p.Progress), formatFloat(ms), p.Direction, p.Image), nil
	case engine.TrackTable:
		var sb strings.Builder
		fmt.Fprintf(&sb, "track\n%d", len(p.Tracks))
		for _, t := range p.Tracks {
			fmt.Fprintf(&sb, "\n%d %s %s %s", t.ID, FormatCurve(t.Curve), t.Color, formatFloat(t.Thickness))
		}
		return sb.String(), nil
	case engine.NodeUpdate:
		return fmt.Sprintf("node\n%d %s", p.Node, FormatCoord(p.Pos)), nil
	case engine.Removal:
		return fmt.Sprintf("remove\n%d %s", p.Train, p.How), nil
	}
	return "", fmt.Errorf("encode: unsupported packet %T", p)
}

// ErrorPacket is sent on control sockets when a command is rejected.
func ErrorPacket(code, msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	return "error\n" + code + " " + msg
}

// splitPacket splits "type\nbody" into exactly two lines.
func splitPacket(s string) (string, string, error) {
	lines := strings.Split(s, "\n")
	if len(lines) != 2 {
		return "", "", malformed("expected 2 lines, got %d", len(lines))
	}
	return lines[0], lines[1], nil
}

func fields(body string, n int, what string) ([]string, error) {
	f := strings.Split(body, " ")
	if len(f) != n {
		return nil, malformed("%s: expected %d fields, got %d", what, n, len(f))
	}
	return f, nil
}

func ParseCoord(s string) (geom.Coord, error) {
	parts := strings.Split(s, ";")
	if len(parts) != 2 {
		return geom.Coord{}, malformed("coord %q: expected x;y", s)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return geom.Coord{}, malformed("coord %q: bad x", s)
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || math.IsNaN(y) || math.IsInf(y, 0) {
		return geom.Coord{}, malformed("coord %q: bad y", s)
	}
	return geom.Coord{X: x, Y: y}, nil
}

// ParseShape is the inverse of FormatShape.
func ParseShape(s string) (geom.Shape, error) {
	if s == "" {
		return geom.Straight(), nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return geom.Shape{}, malformed("shape %q: at most 2 points", s)
	}
	shape := geom.Shape{Points: make([]geom.Coord, 0, len(parts))}
	for _, p := range parts {
		c, err := ParseCoord(p)
		if err != nil {
			return geom.Shape{}, err
		}
		shape.Points = append(shape.Points, c)
	}
	return shape, nil
}

// ParseModifier parses "ctrl,shift,alt" flags, each 0 or 1.
func ParseModifier(s string) (model.ClickModifier, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return model.ClickModifier{}, malformed("modifier %q: expected 3 flags", s)
	}
	var flags [3]bool
	for i, p := range parts {
		switch p {
		case "0":
		case "1":
			flags[i] = true
		default:
			return model.ClickModifier{}, malformed("modifier %q: flag %q", s, p)
		}
	}
	return model.ClickModifier{Ctrl: flags[0], Shift: flags[1], Alt: flags[2]}, nil
}

func FormatModifier(m model.ClickModifier) string {
	b := func(v bool) string {
		if v {
			return "1"
		}
		return "0"
	}
	return b(m.Ctrl) + "," + b(m.Shift) + "," + b(m.Alt)
}

func parseID(s, what string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, malformed("bad %s %q", what, s)
	}
	return uint32(v), nil
}

// ParseClient parses a viewer packet: a train click or a node click.
//
//	click\n<train> <c,s,a>
//	switch\n<node> <c,s,a>
func ParseClient(s string) (engine.Click, error) {
	kind, body, err := splitPacket(s)
	if err != nil {
		return engine.Click{}, err
	}
	var target engine.ClickTarget
	switch kind {
	case "click":
		target = engine.TargetTrain
	case "switch":
		target = engine.TargetNode
	default:
		return engine.Click{}, malformed("unknown client packet %q", kind)
	}
	f, err := fields(body, 2, kind)
	if err != nil {
		return engine.Click{}, err
	}
	id, err := parseID(f[0], target.String()+" id")
	if err != nil {
		return engine.Click{}, err
	}
	mods, err := ParseModifier(f[1])
	if err != nil {
		return engine.Click{}, err
	}
	return engine.Click{Target: target, ID: id, Mods: mods}, nil
}

func EncodeClick(c engine.Click) string {
	kind := "click"
	if c.Target == engine.TargetNode {
		kind = "switch"
	}
	return fmt.Sprintf("%s\n%d %s", kind, c.ID, FormatModifier(c.Mods))
}

// ParseControl parses a control packet.
//
//	node_new\n<x;y> <type>
//	train_new\n<track> <speed>
//	track_new\n<start> <end> <color>
//	node_move\n<node> <x;y>
//	track_adjust\n<track> <shape>
func ParseControl(s string) (engine.Command, error) {
	kind, body, err := splitPacket(s)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "node_new":
		f, err := fields(body, 2, kind)
		if err != nil {
			return nil, err
		}
		pos, err := ParseCoord(f[0])
		if err != nil {
			return nil, err
		}
		policy, err := model.ParsePolicy(f[1])
		if err != nil {
			return nil, malformed("%v", err)
		}
		return engine.NewNode{Pos: pos, Policy: policy}, nil
	case "train_new":
		f, err := fields(body, 2, kind)
		if err != nil {
			return nil, err
		}
		track, err := parseID(f[0], "track id")
		if err != nil {
			return nil, err
		}
		speed, err := strconv.ParseFloat(f[1], 64)
		if err != nil || math.IsNaN(speed) || math.IsInf(speed, 0) {
			return nil, malformed("bad train speed %q", f[1])
		}
		return engine.NewTrain{Track: model.TrackID(track), Speed: speed}, nil
	case "track_new":
		f, err := fields(body, 3, kind)
		if err != nil {
			return nil, err
		}
		start, err := parseID(f[0], "start node id")
		if err != nil {
			return nil, err
		}
		end, err := parseID(f[1], "end node id")
		if err != nil {
			return nil, err
		}
		return engine.NewTrack{Start: model.NodeID(start), End: model.NodeID(end), Color: f[2]}, nil
	case "node_move":
		f, err := fields(body, 2, kind)
		if err != nil {
			return nil, err
		}
		id, err := parseID(f[0], "node id")
		if err != nil {
			return nil, err
		}
		pos, err := ParseCoord(f[1])
		if err != nil {
			return nil, err
		}
		return engine.NodeMove{Node: model.NodeID(id), Pos: pos}, nil
	case "track_adjust":
		f, err := fields(body, 2, kind)
		if err != nil {
			return nil, err
		}
		id, err := parseID(f[0], "track id")
		if err != nil {
			return nil, err
		}
		shape, err := ParseShape(f[1])
		if err != nil {
			return nil, err
		}
		return engine.TrackAdjust{Track: model.TrackID(id), Shape: shape}, nil
	}
	return nil, malformed("unknown control packet %q", kind)
}

// EncodeControl is the inverse of ParseControl.
func EncodeControl(cmd engine.Command) (string, error) {
	switch c := cmd.(type) {
	case engine.NewNode:
		return fmt.Sprintf("node_new\n%s %s", FormatCoord(c.Pos), c.Policy), nil
	case engine.NewTrain:
		return fmt.Sprintf("train_new\n%d %s", c.Track, formatFloat(c.Speed)), nil
	case engine.NewTrack:
		return fmt.Sprintf("track_new\n%d %d %s", c.Start, c.End, c.Color), nil
	case engine.NodeMove:
		return fmt.Sprintf("node_move\n%d %s", c.Node, FormatCoord(c.Pos)), nil
	case engine.TrackAdjust:
		return fmt.Sprintf("track_adjust\n%d %s", c.Track, FormatShape(c.Shape)), nil
	}
	return "", fmt.Errorf("encode: unsupported command %T", cmd)
}
