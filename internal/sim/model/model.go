// Package model holds the shared vocabulary of the simulation: identifiers,
// travel directions, node policies and operator-facing enums.
package model

import "fmt"

type (
	NodeID  uint32
	TrackID uint32
	TrainID uint32
	StateID uint32
)

// Direction is the direction of travel along a track. Forward runs from the
// track's start node towards its end node.
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

func (d Direction) Opposite() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward", "Forward":
		return Forward, nil
	case "backward", "Backward":
		return Backward, nil
	}
	return Forward, fmt.Errorf("unknown direction %q", s)
}

// DirectionSet records which directions of travel along a track arrive at a
// node. A track that starts and ends at the same node arrives both ways.
type DirectionSet uint8

const (
	SetForward DirectionSet = 1 << iota
	SetBackward

	SetBoth = SetForward | SetBackward
)

func SetOf(d Direction) DirectionSet {
	if d == Backward {
		return SetBackward
	}
	return SetForward
}

func (s DirectionSet) Has(d Direction) bool { return s&SetOf(d) != 0 }

func (s DirectionSet) With(d Direction) DirectionSet { return s | SetOf(d) }

func (s DirectionSet) String() string {
	switch s {
	case SetForward:
		return "forward"
	case SetBackward:
		return "backward"
	case SetBoth:
		return "both"
	}
	return "none"
}

func (s DirectionSet) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *DirectionSet) UnmarshalText(b []byte) error {
	switch string(b) {
	case "forward", "Forward":
		*s = SetForward
	case "backward", "Backward":
		*s = SetBackward
	case "both", "Both":
		*s = SetBoth
	default:
		return fmt.Errorf("unknown direction set %q", string(b))
	}
	return nil
}

// Policy selects how a node routes trains arriving at it.
type Policy uint8

const (
	PolicyRandom Policy = iota
	PolicyRoundRobin
	PolicyReverse
	PolicyDerail
	PolicyConfigurable
)

var policyNames = [...]string{
	PolicyRandom:       "random",
	PolicyRoundRobin:   "roundrobin",
	PolicyReverse:      "reverse",
	PolicyDerail:       "derail",
	PolicyConfigurable: "configurable",
}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

func (p Policy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func ParsePolicy(s string) (Policy, error) {
	for i, name := range policyNames {
		if name == s {
			return Policy(i), nil
		}
	}
	return PolicyRandom, fmt.Errorf("unknown node type %q", s)
}

// RemovalKind tells viewers how to animate a train leaving the simulation.
type RemovalKind uint8

const (
	RemovalExplosion RemovalKind = iota
	RemovalSilent
	RemovalDerail
	RemovalVibrate
	RemovalTakeOff
)

func (k RemovalKind) String() string {
	switch k {
	case RemovalExplosion:
		return "explosion"
	case RemovalSilent:
		return "silent"
	case RemovalDerail:
		return "derail"
	case RemovalVibrate:
		return "vibrate"
	case RemovalTakeOff:
		return "take_off"
	}
	return "unknown"
}

// OperatorRemovals are the kinds drawn for a ctrl-click removal.
var OperatorRemovals = [...]RemovalKind{RemovalVibrate, RemovalTakeOff, RemovalDerail}

type ClickModifier struct {
	Ctrl  bool `json:"ctrl"`
	Shift bool `json:"shift"`
	Alt   bool `json:"alt"`
}
