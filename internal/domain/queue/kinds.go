package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// KindSpec describes one record kind: where it is delivered and, optionally,
// the JSON Schema its payload must satisfy.
type KindSpec struct {
	Name string

	pathTemplate string
	schema       *jsonschema.Schema
}

// Endpoint resolves the creation path for a subject.
func (k KindSpec) Endpoint(subjectID string) string {
	return strings.ReplaceAll(k.pathTemplate, "{subjectId}", url.PathEscape(subjectID))
}

// ValidatePayload checks the payload against the kind's schema, if one is
// registered. A schema failure is a *ValidationError.
func (k KindSpec) ValidatePayload(payload json.RawMessage) error {
	if k.schema == nil {
		return nil
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return &ValidationError{Kind: k.Name, Detail: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if err := k.schema.Validate(inst); err != nil {
		return &ValidationError{Kind: k.Name, Detail: err.Error()}
	}
	return nil
}

// KindRegistry maps kind names to their delivery specs.
type KindRegistry struct {
	kinds map[string]KindSpec
}

func NewKindRegistry() *KindRegistry {
	return &KindRegistry{kinds: make(map[string]KindSpec)}
}

// Register adds a kind. schemaJSON may be empty, in which case payloads are
// not validated locally.
func (r *KindRegistry) Register(name, pathTemplate, schemaJSON string) error {
	if name == "" || pathTemplate == "" {
		return fmt.Errorf("kind name and path template are required")
	}

	spec := KindSpec{Name: name, pathTemplate: pathTemplate}
	if schemaJSON != "" {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			return fmt.Errorf("parse schema for kind %q: %w", name, err)
		}
		compiler := jsonschema.NewCompiler()
		resource := name + ".schema.json"
		if err := compiler.AddResource(resource, doc); err != nil {
			return fmt.Errorf("add schema for kind %q: %w", name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("compile schema for kind %q: %w", name, err)
		}
		spec.schema = schema
	}

	r.kinds[name] = spec
	return nil
}

// Resolve looks up a kind by name.
func (r *KindRegistry) Resolve(name string) (KindSpec, bool) {
	spec, ok := r.kinds[name]
	return spec, ok
}

const siteLogSchema = `{
	"type": "object",
	"required": ["log_text"],
	"properties": {
		"log_text": {"type": "string", "minLength": 1},
		"weather_conditions": {"type": ["string", "null"]},
		"workforce_count": {"type": ["integer", "null"], "minimum": 0},
		"equipment_used": {"type": "array", "items": {"type": "string"}},
		"activities_completed": {"type": "array", "items": {"type": "string"}},
		"issues_encountered": {"type": ["string", "null"]},
		"latitude": {"type": ["number", "null"]},
		"longitude": {"type": ["number", "null"]}
	}
}`

// DefaultKinds returns the registry of kinds the server currently accepts.
func DefaultKinds() *KindRegistry {
	r := NewKindRegistry()
	mustRegister(r, "site-log", "/api/sitelogs/{subjectId}", siteLogSchema)
	mustRegister(r, "expense", "/api/expenses/{subjectId}", "")
	mustRegister(r, "comment", "/api/comments/", "")
	return r
}

func mustRegister(r *KindRegistry, name, pathTemplate, schemaJSON string) {
	if err := r.Register(name, pathTemplate, schemaJSON); err != nil {
		panic(err)
	}
}
