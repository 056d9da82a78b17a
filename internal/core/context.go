package core

import (
	"medassist/internal/llm"
	"medassist/pkg"
)

// ContextOptions bounds the history sent to the model.  Zero values leave
// the context unbounded.
type ContextOptions struct {
	// MaxTurns keeps only the newest MaxTurns history turns.
	MaxTurns int
	// MaxTokens drops the oldest history turns until the context, including
	// the new message, fits.  Counter defaults to a character estimator.
	MaxTokens int
	Counter   llm.TokenCounter
}

// AssembleContext converts stored turns into model messages and appends the
// new user message as the final turn.  Turns without any text, or with a role
// that cannot be recognised, are skipped.
func AssembleContext(history pkg.Transcript, message string, opts ContextOptions) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		text := t.Text()
		if text == "" {
			continue
		}
		role, ok := pkg.NormalizeRole(string(t.Role))
		if !ok {
			continue
		}
		mr := llm.RoleUser
		if role == pkg.RoleModel {
			mr = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: mr, Content: text})
	}
	msgs = opts.trim(msgs, message)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
}

func (o ContextOptions) trim(msgs []llm.Message, message string) []llm.Message {
	if o.MaxTurns > 0 && len(msgs) > o.MaxTurns {
		msgs = msgs[len(msgs)-o.MaxTurns:]
	}
	if o.MaxTokens <= 0 {
		return msgs
	}
	counter := o.Counter
	if counter == nil {
		counter = llm.NewEstimator()
	}
	total := counter.Count(message)
	costs := make([]int, len(msgs))
	for i, m := range msgs {
		costs[i] = counter.Count(m.Content)
		total += costs[i]
	}
	start := 0
	for start < len(msgs) && total > o.MaxTokens {
		total -= costs[start]
		start++
	}
	return msgs[start:]
}
