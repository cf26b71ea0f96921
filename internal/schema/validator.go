// Package schema describes the structured outputs requested from the model
// gateway and validates decoded responses against them.
package schema

import (
	"errors"
	"fmt"
)

// ErrMismatch is returned when an output does not type-check against its schema.
var ErrMismatch = errors.New("output does not match schema")

// Type is the type of a schema field.
type Type string

const (
	String      Type = "string"
	Boolean     Type = "boolean"
	StringArray Type = "array<string>"
)

// Field describes one property of a structured output.
type Field struct {
	Name        string
	Type        Type
	Description string
	Required    bool
}

// Schema describes a flat structured output object.
type Schema struct {
	Name   string
	Fields []Field
}

// New creates a schema from its fields.
func New(name string, fields ...Field) *Schema {
	return &Schema{Name: name, Fields: fields}
}

// Validate checks that obj carries every required field with the declared
// type. Unknown fields are ignored; optional fields may be absent or null.
func (s *Schema) Validate(obj map[string]any) error {
	if obj == nil {
		return fmt.Errorf("%w: %s: empty object", ErrMismatch, s.Name)
	}
	for _, f := range s.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("%w: %s.%s: missing", ErrMismatch, s.Name, f.Name)
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			return fmt.Errorf("%w: %s.%s: want %s, got %T", ErrMismatch, s.Name, f.Name, f.Type, v)
		}
	}
	return nil
}

func typeMatches(t Type, v any) bool {
	switch t {
	case String:
		_, ok := v.(string)
		return ok
	case Boolean:
		_, ok := v.(bool)
		return ok
	case StringArray:
		switch arr := v.(type) {
		case []string:
			return true
		case []any:
			for _, item := range arr {
				if _, ok := item.(string); !ok {
					return false
				}
			}
			return true
		}
		return false
	default:
		return false
	}
}

// OpenAPI renders the schema in the OpenAPI subset accepted by Gemini's
// responseSchema field.
func (s *Schema) OpenAPI() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	ordering := make([]string, 0, len(s.Fields))

	for _, f := range s.Fields {
		prop := map[string]any{}
		switch f.Type {
		case String:
			prop["type"] = "STRING"
		case Boolean:
			prop["type"] = "BOOLEAN"
		case StringArray:
			prop["type"] = "ARRAY"
			prop["items"] = map[string]any{"type": "STRING"}
		}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		ordering = append(ordering, f.Name)
		if f.Required {
			required = append(required, f.Name)
		}
	}

	out := map[string]any{
		"type":             "OBJECT",
		"properties":       props,
		"propertyOrdering": ordering,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// StringField returns obj[name] as a string. Call only after Validate.
func StringField(obj map[string]any, name string) string {
	v, _ := obj[name].(string)
	return v
}

// BoolField returns obj[name] as a bool. Call only after Validate.
func BoolField(obj map[string]any, name string) bool {
	v, _ := obj[name].(bool)
	return v
}

// StringsField returns obj[name] as a string slice. Call only after Validate.
func StringsField(obj map[string]any, name string) []string {
	switch arr := obj[name].(type) {
	case []string:
		return append([]string(nil), arr...)
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
