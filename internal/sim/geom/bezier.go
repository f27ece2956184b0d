package geom

import (
	"encoding/json"
	"fmt"
	"math"
)

// Coord is a point in canvas pixels.
type Coord struct {
	X float64
	Y float64
}

func (c Coord) DistanceTo(o Coord) float64 {
	return math.Hypot(c.X-o.X, c.Y-o.Y)
}

func (c Coord) Finite() bool { return finite(c.X) && finite(c.Y) }

func (c Coord) String() string { return fmt.Sprintf("%g;%g", c.X, c.Y) }

// Coords serialize as [x, y].
func (c Coord) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.X, c.Y})
}

func (c *Coord) UnmarshalJSON(b []byte) error {
	var v [2]float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("coord: %w", err)
	}
	c.X, c.Y = v[0], v[1]
	return nil
}

// Shape is the interior of a curve: zero, one or two control points between
// the fixed endpoints.
type Shape struct {
	Points []Coord `json:"points,omitempty"`
}

func Straight() Shape { return Shape{} }

func Quadratic(p Coord) Shape { return Shape{Points: []Coord{p}} }

func Cubic(p1, p2 Coord) Shape { return Shape{Points: []Coord{p1, p2}} }

func (s Shape) Validate() error {
	if len(s.Points) > 2 {
		return fmt.Errorf("curve shape has %d interior points (max 2)", len(s.Points))
	}
	for _, p := range s.Points {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("curve shape has non-finite point %v", p)
		}
	}
	return nil
}

// Bezier is a 2, 3 or 4 point Bezier curve.
type Bezier struct {
	Points []Coord `json:"points"`
}

// NewBezier builds a curve from fixed endpoints and an interior shape.
func NewBezier(start, end Coord, shape Shape) Bezier {
	pts := make([]Coord, 0, 2+len(shape.Points))
	pts = append(pts, start)
	pts = append(pts, shape.Points...)
	pts = append(pts, end)
	return Bezier{Points: pts}
}

func (b Bezier) Order() int { return len(b.Points) }

func (b Bezier) Start() Coord { return b.Points[0] }

func (b Bezier) End() Coord { return b.Points[len(b.Points)-1] }

// WithStart returns a copy of b with its first control point moved.
func (b Bezier) WithStart(c Coord) Bezier {
	out := b.clone()
	out.Points[0] = c
	return out
}

// WithEnd returns a copy of b with its last control point moved.
func (b Bezier) WithEnd(c Coord) Bezier {
	out := b.clone()
	out.Points[len(out.Points)-1] = c
	return out
}

// ApplyShape replaces the interior control points, keeping the endpoints.
func (b Bezier) ApplyShape(s Shape) Bezier {
	return NewBezier(b.Start(), b.End(), s)
}

func (b Bezier) Shape() Shape {
	if len(b.Points) <= 2 {
		return Shape{}
	}
	inner := make([]Coord, len(b.Points)-2)
	copy(inner, b.Points[1:len(b.Points)-1])
	return Shape{Points: inner}
}

func (b Bezier) Validate() error {
	if n := len(b.Points); n < 2 || n > 4 {
		return fmt.Errorf("bezier has %d control points (want 2..4)", n)
	}
	for _, p := range b.Points {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("bezier has non-finite point %v", p)
		}
	}
	return nil
}

// FastLength approximates the curve length as the average of the control
// polygon and the chord. For a straight segment it is exact. Train speeds are
// converted to durations with this value, so it must stay stable.
func (b Bezier) FastLength() float64 {
	p := b.Points
	switch len(p) {
	case 2:
		return p[0].DistanceTo(p[1])
	case 3:
		return (p[0].DistanceTo(p[1]) + p[1].DistanceTo(p[2]) + p[0].DistanceTo(p[2])) / 2
	case 4:
		return (p[0].DistanceTo(p[1]) + p[1].DistanceTo(p[2]) + p[2].DistanceTo(p[3]) + p[0].DistanceTo(p[3])) / 2
	}
	return 0
}

func (b Bezier) clone() Bezier {
	pts := make([]Coord, len(b.Points))
	copy(pts, b.Points)
	return Bezier{Points: pts}
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
