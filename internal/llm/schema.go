package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Kind is the JSON type of a schema field.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// Field declares one property of a structured response.  Items describes
// array elements; Fields describes the properties of an object.  Aliases are
// alternative property names accepted when validating a response.
type Field struct {
	Name        string
	Kind        Kind
	Required    bool
	Description string
	Aliases     []string
	Items       *Field
	Fields      []Field
}

// Schema is a statically declared response contract.  The same value builds
// the request-side JSON schema and validates the response, so the two cannot
// drift apart.
type Schema struct {
	Name        string
	Description string
	Fields      []Field
}

// Definition converts the schema to the go-openai JSON schema representation.
func (s Schema) Definition() jsonschema.Definition {
	return objectDefinition(s.Description, s.Fields)
}

// MarshalJSON lets a Schema be passed directly as a response format schema.
func (s Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Definition())
}

func objectDefinition(desc string, fields []Field) jsonschema.Definition {
	def := jsonschema.Definition{
		Type:                 jsonschema.Object,
		Description:          desc,
		Properties:           make(map[string]jsonschema.Definition, len(fields)),
		AdditionalProperties: false,
	}
	for _, f := range fields {
		def.Properties[f.Name] = f.definition()
		if f.Required {
			def.Required = append(def.Required, f.Name)
		}
	}
	return def
}

func (f Field) definition() jsonschema.Definition {
	switch f.Kind {
	case KindObject:
		return objectDefinition(f.Description, f.Fields)
	case KindArray:
		def := jsonschema.Definition{Type: jsonschema.Array, Description: f.Description}
		if f.Items != nil {
			items := f.Items.definition()
			def.Items = &items
		}
		return def
	case KindNumber:
		return jsonschema.Definition{Type: jsonschema.Number, Description: f.Description}
	case KindBoolean:
		return jsonschema.Definition{Type: jsonschema.Boolean, Description: f.Description}
	default:
		return jsonschema.Definition{Type: jsonschema.String, Description: f.Description}
	}
}

// ValidationError reports the path of the offending value.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: %s: %s", e.Path, e.Reason)
}

// Validate checks that data is a JSON object carrying every required field
// with the declared kind.  Number fields also accept numeric strings such as
// "85" or "85%", which decoders are expected to normalise.
func (s Schema) Validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &ValidationError{Reason: "invalid JSON: " + err.Error()}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return &ValidationError{Reason: "top-level value is not an object"}
	}
	return validateObject("", obj, s.Fields)
}

// Lookup returns the value stored under the field's name or one of its aliases.
func (f Field) Lookup(obj map[string]any) (any, bool) {
	if v, ok := obj[f.Name]; ok {
		return v, true
	}
	for _, a := range f.Aliases {
		if v, ok := obj[a]; ok {
			return v, true
		}
	}
	return nil, false
}

func validateObject(path string, obj map[string]any, fields []Field) error {
	for _, f := range fields {
		p := joinPath(path, f.Name)
		v, ok := f.Lookup(obj)
		if !ok || v == nil {
			if f.Required {
				return &ValidationError{Path: p, Reason: "required field missing"}
			}
			continue
		}
		if err := f.validate(p, v); err != nil {
			return err
		}
	}
	return nil
}

func (f Field) validate(path string, v any) error {
	switch f.Kind {
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return &ValidationError{Path: path, Reason: "expected object"}
		}
		return validateObject(path, obj, f.Fields)
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return &ValidationError{Path: path, Reason: "expected array"}
		}
		if f.Items == nil {
			return nil
		}
		for i, item := range arr {
			if err := f.Items.validate(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
		return nil
	case KindNumber:
		if _, ok := ParseNumber(v); !ok {
			return &ValidationError{Path: path, Reason: "expected number"}
		}
		return nil
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return &ValidationError{Path: path, Reason: "expected boolean"}
		}
		return nil
	default:
		if _, ok := v.(string); !ok {
			return &ValidationError{Path: path, Reason: "expected string"}
		}
		return nil
	}
}

// ParseNumber accepts a JSON number or a numeric string with an optional
// trailing percent sign.
func ParseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%"))
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
