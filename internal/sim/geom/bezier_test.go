package geom

import (
	"encoding/json"
	"math"
	"testing"
)

func TestFastLength(t *testing.T) {
	cases := []struct {
		name string
		b    Bezier
		want float64
	}{
		{"straight", NewBezier(Coord{0, 0}, Coord{3, 4}, Straight()), 5},
		{"quadratic", NewBezier(Coord{0, 0}, Coord{8, 0}, Quadratic(Coord{4, 3})), (5 + 5 + 8) / 2.0},
		{"cubic", NewBezier(Coord{0, 0}, Coord{10, 0}, Cubic(Coord{0, 5}, Coord{10, 5})), (5 + 10 + 5 + 10) / 2.0},
	}
	for _, tc := range cases {
		if got := tc.b.FastLength(); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: FastLength=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestApplyShape_KeepsEndpoints(t *testing.T) {
	b := NewBezier(Coord{1, 2}, Coord{30, 40}, Straight())
	b2 := b.ApplyShape(Cubic(Coord{5, 5}, Coord{6, 6}))
	if b2.Order() != 4 {
		t.Fatalf("order=%d want 4", b2.Order())
	}
	if b2.Start() != b.Start() || b2.End() != b.End() {
		t.Fatalf("endpoints moved: %v -> %v", b.Points, b2.Points)
	}
	if got := b2.Shape(); len(got.Points) != 2 || got.Points[0] != (Coord{5, 5}) {
		t.Fatalf("shape=%v", got)
	}
	b3 := b2.ApplyShape(Straight())
	if b3.Order() != 2 {
		t.Fatalf("order=%d want 2", b3.Order())
	}
}

func TestWithStartEnd_DoesNotAlias(t *testing.T) {
	b := NewBezier(Coord{0, 0}, Coord{10, 0}, Quadratic(Coord{5, 5}))
	moved := b.WithStart(Coord{-1, -1}).WithEnd(Coord{11, 1})
	if b.Start() != (Coord{0, 0}) || b.End() != (Coord{10, 0}) {
		t.Fatalf("original mutated: %v", b.Points)
	}
	if moved.Start() != (Coord{-1, -1}) || moved.End() != (Coord{11, 1}) {
		t.Fatalf("moved=%v", moved.Points)
	}
}

func TestCoordJSON(t *testing.T) {
	b, err := json.Marshal(Coord{1.5, -2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "[1.5,-2]" {
		t.Fatalf("json=%s", b)
	}
	var c Coord
	if err := json.Unmarshal([]byte("[3,4]"), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c != (Coord{3, 4}) {
		t.Fatalf("coord=%v", c)
	}
}

func TestValidate(t *testing.T) {
	if err := (Bezier{Points: []Coord{{0, 0}}}).Validate(); err == nil {
		t.Fatalf("expected single-point bezier rejected")
	}
	if err := (Shape{Points: []Coord{{0, 0}, {1, 1}, {2, 2}}}).Validate(); err == nil {
		t.Fatalf("expected 3-point shape rejected")
	}
	if err := Quadratic(Coord{math.NaN(), 0}).Validate(); err == nil {
		t.Fatalf("expected NaN rejected")
	}
}
