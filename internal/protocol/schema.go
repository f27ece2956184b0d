package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"trainyard.dev/internal/sim/routing"
)

//go:embed schemas/routing.schema.json
var routingSchemaJSON string

var (
	routingSchemaOnce sync.Once
	routingSchema     *jsonschema.Schema
	routingSchemaErr  error
)

func compiledRoutingSchema() (*jsonschema.Schema, error) {
	routingSchemaOnce.Do(func() {
		routingSchema, routingSchemaErr = jsonschema.CompileString("routing.schema.json", routingSchemaJSON)
	})
	return routingSchema, routingSchemaErr
}

// RoutingSchema returns the raw JSON schema for routing documents.
func RoutingSchema() []byte { return []byte(routingSchemaJSON) }

// ValidateRouting checks a routing document against the JSON schema.
func ValidateRouting(raw []byte) error {
	s, err := compiledRoutingSchema()
	if err != nil {
		return fmt.Errorf("compile routing schema: %w", err)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: routing json: %v", ErrMalformed, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// DecodeRouting validates raw against the schema, decodes it and runs the
// semantic checks. Errors from the schema wrap ErrMalformed; semantic ones are
// *routing.CheckError.
func DecodeRouting(raw []byte) (routing.Info, error) {
	if err := ValidateRouting(raw); err != nil {
		return routing.Info{}, err
	}
	var info routing.Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return routing.Info{}, fmt.Errorf("%w: routing json: %v", ErrMalformed, err)
	}
	if err := info.Check(); err != nil {
		return routing.Info{}, err
	}
	return info, nil
}
