package protocol

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/geom"
	"trainyard.dev/internal/sim/model"
)

func TestEncodePackets(t *testing.T) {
	curve := geom.NewBezier(geom.Coord{X: 0, Y: 0}, geom.Coord{X: 100, Y: 50.5}, geom.Straight())
	cases := []struct {
		p    engine.Packet
		want string
	}{
		{
			engine.TrainUpdate{Train: 3, Track: 7, Progress: 0.25, Duration: 1500 * time.Millisecond, Direction: model.Backward, Image: "train_left_debug.png"},
			"train\n3 7 0.25 1500 backward\ntrain_left_debug.png",
		},
		{
			engine.TrackTable{Tracks: []engine.TrackEntry{{ID: 1, Curve: curve, Color: "#ff0000", Thickness: 20}}},
			"track\n1\n1 bezier2;0;0;100;50.5 #ff0000 20",
		},
		{engine.TrackTable{}, "track\n0"},
		{engine.NodeUpdate{Node: 4, Pos: geom.Coord{X: -1.5, Y: 2}}, "node\n4 -1.5;2"},
		{engine.Removal{Train: 9, How: model.RemovalTakeOff}, "remove\n9 take_off"},
	}
	for _, c := range cases {
		got, err := Encode(c.p)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", c.p, err)
		}
		if got != c.want {
			t.Fatalf("Encode(%T)=%q want %q", c.p, got, c.want)
		}
	}
}

func TestParseClient(t *testing.T) {
	c, err := ParseClient("click\n12 1,0,1")
	if err != nil {
		t.Fatalf("parse click: %v", err)
	}
	want := engine.Click{Target: engine.TargetTrain, ID: 12, Mods: model.ClickModifier{Ctrl: true, Alt: true}}
	if c != want {
		t.Fatalf("click=%+v want %+v", c, want)
	}
	if EncodeClick(c) != "click\n12 1,0,1" {
		t.Fatalf("EncodeClick=%q", EncodeClick(c))
	}

	c, err = ParseClient("switch\n2 0,0,0")
	if err != nil {
		t.Fatalf("parse switch: %v", err)
	}
	if c.Target != engine.TargetNode || c.ID != 2 {
		t.Fatalf("switch=%+v", c)
	}

	bad := []string{
		"click",
		"click\n1",
		"click\n1 1,0",
		"click\n1 2,0,0",
		"click\n-1 0,0,0",
		"click\n1 0,0,0\nextra",
		"poke\n1 0,0,0",
	}
	for _, s := range bad {
		if _, err := ParseClient(s); !errors.Is(err, ErrMalformed) {
			t.Fatalf("ParseClient(%q) err=%v, want ErrMalformed", s, err)
		}
	}
}

func TestParseControl(t *testing.T) {
	cases := []struct {
		in   string
		want engine.Command
	}{
		{"node_new\n10;-20.5 roundrobin", engine.NewNode{Pos: geom.Coord{X: 10, Y: -20.5}, Policy: model.PolicyRoundRobin}},
		{"node_new\n0;0 configurable", engine.NewNode{Policy: model.PolicyConfigurable}},
		{"train_new\n3 120.5", engine.NewTrain{Track: 3, Speed: 120.5}},
		{"track_new\n1 2 #00ff00", engine.NewTrack{Start: 1, End: 2, Color: "#00ff00"}},
		{"node_move\n4 5;6", engine.NodeMove{Node: 4, Pos: geom.Coord{X: 5, Y: 6}}},
		{"track_adjust\n3 ", engine.TrackAdjust{Track: 3, Shape: geom.Straight()}},
		{"track_adjust\n3 1;2", engine.TrackAdjust{Track: 3, Shape: geom.Shape{Points: []geom.Coord{{X: 1, Y: 2}}}}},
		{"track_adjust\n3 1;2,3;4", engine.TrackAdjust{Track: 3, Shape: geom.Shape{Points: []geom.Coord{{X: 1, Y: 2}, {X: 3, Y: 4}}}}},
	}
	for _, c := range cases {
		got, err := ParseControl(c.in)
		if err != nil {
			t.Fatalf("ParseControl(%q): %v", c.in, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("ParseControl(%q)=%#v want %#v", c.in, got, c.want)
		}
		back, err := EncodeControl(got)
		if err != nil {
			t.Fatalf("EncodeControl(%#v): %v", got, err)
		}
		if back != c.in {
			t.Fatalf("EncodeControl=%q want %q", back, c.in)
		}
	}
}

func TestParseControlRejects(t *testing.T) {
	bad := []string{
		"node_new\n1;2 teleport",
		"node_new\n1;2;3 random",
		"node_new\nNaN;0 random",
		"train_new\n1 fast",
		"train_new\n1 +Inf",
		"track_new\n1 2",
		"node_move\nx 1;2",
		"track_adjust\n1 1;2,3;4,5;6",
		"track_adjust\n1 1;2,",
		"launch\n1",
	}
	for _, s := range bad {
		if _, err := ParseControl(s); !errors.Is(err, ErrMalformed) {
			t.Fatalf("ParseControl(%q) err=%v, want ErrMalformed", s, err)
		}
	}
}

func TestErrorPacketIsTwoLines(t *testing.T) {
	got := ErrorPacket(ErrNotFound, "track 4\nnot found")
	if got != "error\nE_NOT_FOUND track 4 not found" {
		t.Fatalf("ErrorPacket=%q", got)
	}
}
