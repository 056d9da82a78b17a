package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"medassist/internal/llm"
	"medassist/pkg"
)

// Fields of a condition entry.  The confidence field also accepts the
// legacy confidence_in_percent key.
var (
	conditionName       = llm.Field{Name: "name", Kind: llm.KindString, Required: true, Description: "Name of the candidate condition."}
	conditionConfidence = llm.Field{
		Name:        "confidence",
		Kind:        llm.KindNumber,
		Required:    true,
		Description: "Confidence as a plain number between 0 and 100.",
		Aliases:     []string{"confidence_in_percent"},
	}
)

// ClinicalSummarySchema is the response contract of the structured stage.
var ClinicalSummarySchema = llm.Schema{
	Name:        "clinical_summary",
	Description: "Candidate conditions, suggested treatments and red-flag warnings for the user's symptoms.",
	Fields: []llm.Field{
		{
			Name:     "conditions",
			Kind:     llm.KindArray,
			Required: true,
			Items:    &llm.Field{Kind: llm.KindObject, Fields: []llm.Field{conditionName, conditionConfidence}},
		},
		{Name: "treatments", Kind: llm.KindArray, Required: true, Items: &llm.Field{Kind: llm.KindString}},
		{Name: "red_flags", Kind: llm.KindArray, Required: true, Items: &llm.Field{Kind: llm.KindString}},
	},
}

// DegradeReason explains why a prediction fell back to the default summary.
type DegradeReason string

const (
	ReasonCallFailed      DegradeReason = "call_failed"
	ReasonMalformedOutput DegradeReason = "malformed_output"
)

// Prediction is the typed result of the structured stage: either a usable
// summary, or a degraded default summary with the reason and cause.
type Prediction struct {
	Summary  pkg.ClinicalSummary
	Raw      string
	Degraded bool
	Reason   DegradeReason
	Err      error
}

func degradedPrediction(reason DegradeReason, raw string, err error) Prediction {
	return Prediction{
		Summary:  pkg.DefaultSummary(),
		Raw:      raw,
		Degraded: true,
		Reason:   reason,
		Err:      err,
	}
}

// Predictor runs the structured stage.
type Predictor struct {
	LLM   llm.Client
	Model string
}

// NewPredictor constructs a predictor.
func NewPredictor(client llm.Client, model string) *Predictor {
	return &Predictor{LLM: client, Model: model}
}

// Predict asks the model for a ClinicalSummary.  A failed call never escapes
// as an error: it yields a degraded prediction instead.  A successful call
// returns the raw text only; decoding it is left to Settle.
func (p *Predictor) Predict(ctx context.Context, turns []llm.Message) Prediction {
	stream, err := p.LLM.Generate(ctx, llm.Request{
		Model:             p.Model,
		SystemInstruction: PredictorInstruction,
		Messages:          turns,
		Schema:            &ClinicalSummarySchema,
	})
	if err != nil {
		return degradedPrediction(ReasonCallFailed, "", fmt.Errorf("prediction call: %w", err))
	}
	raw, err := llm.Collect(stream)
	if err != nil {
		return degradedPrediction(ReasonCallFailed, raw, fmt.Errorf("prediction stream: %w", err))
	}
	return Prediction{Raw: strings.TrimSpace(raw)}
}

// Settle decodes the raw text of a successful prediction.  Unusable output
// degrades to the default summary.
func Settle(p Prediction) Prediction {
	if p.Degraded {
		return p
	}
	summary, err := DecodeSummary(p.Raw)
	if err != nil {
		return degradedPrediction(ReasonMalformedOutput, p.Raw, err)
	}
	p.Summary = summary
	return p
}

// DecodeSummary validates raw against ClinicalSummarySchema and normalises
// it: confidences become numbers clamped to [0,100], unnamed conditions and
// blank strings are dropped.
func DecodeSummary(raw string) (pkg.ClinicalSummary, error) {
	body := stripCodeFence(raw)
	if err := ClinicalSummarySchema.Validate([]byte(body)); err != nil {
		return pkg.DefaultSummary(), err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return pkg.DefaultSummary(), fmt.Errorf("decode summary: %w", err)
	}

	summary := pkg.DefaultSummary()
	for _, item := range doc["conditions"].([]any) {
		obj := item.(map[string]any)
		name := strings.TrimSpace(obj[conditionName.Name].(string))
		if name == "" {
			continue
		}
		v, _ := conditionConfidence.Lookup(obj)
		c, _ := llm.ParseNumber(v)
		summary.Conditions = append(summary.Conditions, pkg.Condition{Name: name, Confidence: clampConfidence(c)})
	}
	summary.Treatments = nonBlankStrings(doc["treatments"].([]any))
	summary.RedFlags = nonBlankStrings(doc["red_flags"].([]any))
	return summary, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}

func nonBlankStrings(items []any) []string {
	out := []string{}
	for _, it := range items {
		if s := strings.TrimSpace(it.(string)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stripCodeFence removes a surrounding Markdown code fence, which some
// models add despite being told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
