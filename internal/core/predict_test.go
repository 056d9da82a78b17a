package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"medassist/internal/llm"
	"medassist/pkg"
)

func TestDecodeSummary(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    pkg.ClinicalSummary
		wantErr bool
	}{
		{
			name: "numeric and percent confidences",
			raw:  validSummary,
			want: pkg.ClinicalSummary{
				Conditions: []pkg.Condition{{Name: "Influenza", Confidence: 72}, {Name: "Common cold", Confidence: 40}},
				Treatments: []string{"Rest", "Fluids"},
				RedFlags:   []string{"Difficulty breathing"},
			},
		},
		{
			name: "legacy confidence_in_percent key",
			raw:  `{"conditions":[{"name":"Migraine","confidence_in_percent":"65 %"}],"treatments":[],"red_flags":[]}`,
			want: pkg.ClinicalSummary{Conditions: []pkg.Condition{{Name: "Migraine", Confidence: 65}}},
		},
		{
			name: "clamps out of range",
			raw:  `{"conditions":[{"name":"A","confidence":140},{"name":"B","confidence":-5}],"treatments":[],"red_flags":[]}`,
			want: pkg.ClinicalSummary{Conditions: []pkg.Condition{{Name: "A", Confidence: 100}, {Name: "B", Confidence: 0}}},
		},
		{
			name: "drops blank entries",
			raw:  `{"conditions":[{"name":"  ","confidence":10}],"treatments":["", "Ice"],"red_flags":["  "]}`,
			want: pkg.ClinicalSummary{Treatments: []string{"Ice"}},
		},
		{
			name: "code fenced",
			raw:  "```json\n{\"conditions\":[],\"treatments\":[\"Rest\"],\"red_flags\":[]}\n```",
			want: pkg.ClinicalSummary{Treatments: []string{"Rest"}},
		},
		{name: "not json", raw: "{not valid json", wantErr: true},
		{name: "prose", raw: "You probably have a cold.", wantErr: true},
		{name: "missing red_flags", raw: `{"conditions":[],"treatments":[]}`, wantErr: true},
		{name: "confidence not numeric", raw: `{"conditions":[{"name":"A","confidence":"high"}],"treatments":[],"red_flags":[]}`, wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSummary(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeSummary() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				assertDefaultSummary(t, got)
				return
			}
			assertSummaryEqual(t, got, tt.want)
		})
	}
}

func assertSummaryEqual(t *testing.T, got, want pkg.ClinicalSummary) {
	t.Helper()
	g, _ := json.Marshal(got)
	w, _ := json.Marshal(want)
	if string(g) != string(w) {
		t.Errorf("summary = %s, want %s", g, w)
	}
}

func assertDefaultSummary(t *testing.T, s pkg.ClinicalSummary) {
	t.Helper()
	if s.Conditions == nil || s.Treatments == nil || s.RedFlags == nil {
		t.Fatalf("default summary has nil sequences: %+v", s)
	}
	if !s.IsEmpty() {
		t.Errorf("default summary not empty: %+v", s)
	}
}

func TestPredictor_Predict(t *testing.T) {
	f := &fakeLLM{predictChunks: []string{`{"conditions":[],`, `"treatments":["Rest"],`, `"red_flags":[]}`}}
	p := NewPredictor(f, "gpt-4o-mini")

	pred := p.Predict(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "cough"}})

	if pred.Degraded {
		t.Fatalf("prediction degraded: %+v", pred)
	}
	if pred.Raw != `{"conditions":[],"treatments":["Rest"],"red_flags":[]}` {
		t.Errorf("raw = %q", pred.Raw)
	}
	req := f.requests[0]
	if req.Schema != &ClinicalSummarySchema {
		t.Error("request does not carry ClinicalSummarySchema")
	}
	if req.SystemInstruction != PredictorInstruction || req.Model != "gpt-4o-mini" {
		t.Errorf("request = %+v", req)
	}
}

func TestPredictor_CallFailureDegrades(t *testing.T) {
	p := NewPredictor(&fakeLLM{predictErr: errQuota}, "")

	pred := p.Predict(context.Background(), nil)

	if !pred.Degraded || pred.Reason != ReasonCallFailed {
		t.Fatalf("pred = %+v, want degraded call_failed", pred)
	}
	if !errors.Is(pred.Err, errQuota) {
		t.Errorf("err = %v, want wrapped quota error", pred.Err)
	}
	assertDefaultSummary(t, pred.Summary)
}

func TestSettle(t *testing.T) {
	ok := Settle(Prediction{Raw: validSummary})
	if ok.Degraded || len(ok.Summary.Conditions) != 2 {
		t.Errorf("Settle(valid) = %+v", ok)
	}

	bad := Settle(Prediction{Raw: "{not valid json"})
	if !bad.Degraded || bad.Reason != ReasonMalformedOutput || bad.Raw != "{not valid json" {
		t.Errorf("Settle(malformed) = %+v", bad)
	}
	assertDefaultSummary(t, bad.Summary)

	failed := degradedPrediction(ReasonCallFailed, "", errQuota)
	if got := Settle(failed); got.Reason != ReasonCallFailed {
		t.Errorf("Settle(degraded) changed reason to %q", got.Reason)
	}
}
