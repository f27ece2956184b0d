package protocol

import (
	"fmt"
	"testing"

	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/railway"
	"trainyard.dev/internal/sim/routing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrRateLimit,
		ErrEngineBusy,
		ErrEngineStopped,
		ErrBadRequest,
		ErrNotFound,
		ErrRoutingInvalid,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{malformed("x"), ErrProtoBadRequest},
		{fmt.Errorf("set: %w", &routing.CheckError{Reason: routing.ReasonZeroTotal}), ErrRoutingInvalid},
		{fmt.Errorf("node 9: %w", railway.ErrUnknownNode), ErrNotFound},
		{railway.ErrUnknownTrack, ErrNotFound},
		{engine.ErrNotFound, ErrNotFound},
		{railway.ErrInvalidSpeed, ErrBadRequest},
		{fmt.Errorf("add track 1-1: %w", railway.ErrZeroLength), ErrBadRequest},
		{engine.ErrBusy, ErrEngineBusy},
		{engine.ErrStopped, ErrEngineStopped},
	}
	for _, c := range cases {
		if got := CodeFor(c.err); got != c.want {
			t.Fatalf("CodeFor(%v)=%q want %q", c.err, got, c.want)
		}
		if !IsKnownCode(CodeFor(c.err)) {
			t.Fatalf("CodeFor(%v) produced unknown code", c.err)
		}
	}
}
