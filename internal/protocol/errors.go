package protocol

import (
	"context"
	"errors"

	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/railway"
	"trainyard.dev/internal/sim/routing"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"

	// Engine availability.
	ErrEngineBusy    = "E_ENGINE_BUSY"
	ErrEngineStopped = "E_ENGINE_STOPPED"

	// Command layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrNotFound       = "E_NOT_FOUND"
	ErrRoutingInvalid = "E_ROUTING_INVALID"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrRateLimit:       {},
	ErrEngineBusy:      {},
	ErrEngineStopped:   {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrRoutingInvalid:  {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps an engine, graph or parser error onto a wire code. A nil error
// maps to the empty code.
func CodeFor(err error) string {
	var ce *routing.CheckError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed):
		return ErrProtoBadRequest
	case errors.As(err, &ce):
		return ErrRoutingInvalid
	case errors.Is(err, railway.ErrUnknownNode),
		errors.Is(err, railway.ErrUnknownTrack),
		errors.Is(err, railway.ErrUnknownTrain),
		errors.Is(err, engine.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, railway.ErrInvalidSpeed), errors.Is(err, railway.ErrZeroLength):
		return ErrBadRequest
	case errors.Is(err, engine.ErrBusy), errors.Is(err, context.DeadlineExceeded):
		return ErrEngineBusy
	case errors.Is(err, engine.ErrStopped):
		return ErrEngineStopped
	}
	return ErrBadRequest
}
