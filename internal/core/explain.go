package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"medassist/internal/llm"
)

// Explainer runs the narrative stage.
type Explainer struct {
	LLM   llm.Client
	Model string
}

// NewExplainer constructs an explainer.
func NewExplainer(client llm.Client, model string) *Explainer {
	return &Explainer{LLM: client, Model: model}
}

// Explain turns the prediction into a conversational answer.  turns is the
// assembled context whose last entry is the user's message; that entry is
// replaced by a prompt carrying both the message and the summary.  On
// failure the apology text is returned together with the error, so the
// caller can always use the string.
func (e *Explainer) Explain(ctx context.Context, turns []llm.Message, message string, pred Prediction) (string, error) {
	msgs := make([]llm.Message, 0, len(turns))
	if len(turns) > 0 {
		msgs = append(msgs, turns[:len(turns)-1]...)
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: explainPrompt(message, pred)})

	stream, err := e.LLM.Generate(ctx, llm.Request{
		Model:             e.Model,
		SystemInstruction: ExplainerInstruction,
		Messages:          msgs,
	})
	if err != nil {
		return ApologyMessage, fmt.Errorf("explanation call: %w", err)
	}
	text, err := llm.Collect(stream)
	if err != nil {
		return ApologyMessage, fmt.Errorf("explanation stream: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ApologyMessage, errors.New("explanation call returned no text")
	}
	return text, nil
}

func explainPrompt(message string, pred Prediction) string {
	if pred.Degraded || pred.Summary.IsEmpty() {
		return fmt.Sprintf(explainWithoutSummary, message)
	}
	data, err := json.MarshalIndent(pred.Summary, "", "  ")
	if err != nil {
		return fmt.Sprintf(explainWithoutSummary, message)
	}
	return fmt.Sprintf(explainWithSummary, message, data)
}
