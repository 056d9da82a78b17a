package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai/jsonschema"
)

var testSchema = Schema{
	Name: "summary",
	Fields: []Field{
		{Name: "items", Kind: KindArray, Required: true, Items: &Field{
			Kind: KindObject,
			Fields: []Field{
				{Name: "name", Kind: KindString, Required: true},
				{Name: "score", Kind: KindNumber, Required: true, Aliases: []string{"score_pct"}},
			},
		}},
		{Name: "notes", Kind: KindArray, Required: true, Items: &Field{Kind: KindString}},
		{Name: "flag", Kind: KindBoolean},
	},
}

func TestSchema_Definition(t *testing.T) {
	def := testSchema.Definition()
	if def.Type != jsonschema.Object {
		t.Fatalf("type = %v, want object", def.Type)
	}
	if len(def.Required) != 2 || def.Required[0] != "items" || def.Required[1] != "notes" {
		t.Errorf("required = %v", def.Required)
	}
	items := def.Properties["items"]
	if items.Type != jsonschema.Array || items.Items == nil || items.Items.Type != jsonschema.Object {
		t.Fatalf("items definition = %+v", items)
	}
	if _, ok := items.Items.Properties["score"]; !ok {
		t.Error("nested property score missing")
	}

	raw, err := json.Marshal(testSchema)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("schema JSON invalid: %v", err)
	}
	if decoded["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v, want false", decoded["additionalProperties"])
	}
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  bool
		wantPath string
	}{
		{name: "valid", input: `{"items":[{"name":"a","score":12.5}],"notes":["x"]}`},
		{name: "empty arrays", input: `{"items":[],"notes":[]}`},
		{name: "percent string number", input: `{"items":[{"name":"a","score":"85%"}],"notes":[]}`},
		{name: "alias key", input: `{"items":[{"name":"a","score_pct":40}],"notes":[]}`},
		{name: "not json", input: `{not valid json`, wantErr: true},
		{name: "not an object", input: `[1,2]`, wantErr: true},
		{name: "missing required", input: `{"items":[]}`, wantErr: true, wantPath: "notes"},
		{name: "null required", input: `{"items":null,"notes":[]}`, wantErr: true, wantPath: "items"},
		{name: "wrong nested kind", input: `{"items":[{"name":1,"score":1}],"notes":[]}`, wantErr: true, wantPath: "items[0].name"},
		{name: "non numeric score", input: `{"items":[{"name":"a","score":"high"}],"notes":[]}`, wantErr: true, wantPath: "items[0].score"},
		{name: "wrong optional kind", input: `{"items":[],"notes":[],"flag":"yes"}`, wantErr: true, wantPath: "flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := testSchema.Validate([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantPath == "" {
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %v is not a *ValidationError", err)
			}
			if verr.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", verr.Path, tt.wantPath)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(42), 42, true},
		{"85%", 85, true},
		{" 12.5 % ", 12.5, true},
		{"70", 70, true},
		{"high", 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseNumber(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
