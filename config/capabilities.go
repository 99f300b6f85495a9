package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/babylon-markets/a2a/types"
)

// capabilitiesSchema is the contract every handshake's capability document
// must satisfy before a session is created.
const capabilitiesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["strategies", "markets", "actions", "version"],
  "properties": {
    "strategies": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "maxItems": 32
    },
    "markets": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "maxItems": 32
    },
    "actions": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "maxItems": 32
    },
    "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
    "x402Support": {"type": "boolean"},
    "platform": {"type": "string", "maxLength": 64},
    "userType": {"type": "string", "maxLength": 64}
  },
  "additionalProperties": false
}`

// CapabilitiesValidator validates agent capabilities against the schema
type CapabilitiesValidator struct {
	schema *gojsonschema.Schema
}

// NewCapabilitiesValidator compiles the embedded capability schema
func NewCapabilitiesValidator() (*CapabilitiesValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(capabilitiesSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile capabilities schema: %w", err)
	}
	return &CapabilitiesValidator{schema: schema}, nil
}

// Validate validates capabilities against the schema
func (cv *CapabilitiesValidator) Validate(capabilities types.AgentCapabilities) error {
	doc, err := json.Marshal(capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	result, err := cv.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, fmt.Sprintf("- %s", e))
		}
		return fmt.Errorf("capabilities validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}
