package llm

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts the tokens a piece of text costs in the model's context.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the tiktoken encoding of an OpenAI model.
type TiktokenCounter struct {
	codec    tokenizer.Codec
	fallback *Estimator
}

// NewTokenCounter returns a tiktoken counter for model.  Models unknown to
// tiktoken (Gemini, local models) get an o200k or cl100k encoding, and if no
// codec can be loaded a character estimator is returned instead.
func NewTokenCounter(model string) TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(encodingFor(model))
		if err != nil {
			return NewEstimator()
		}
	}
	return &TiktokenCounter{codec: codec, fallback: NewEstimator()}
}

// o200kFamilies are model name prefixes that use the o200k encoding.
var o200kFamilies = []string{"gpt-4o", "chatgpt-4o", "gpt-4.1", "gpt-4.5", "gpt-5", "o1", "o3", "o4"}

func encodingFor(model string) tokenizer.Encoding {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range o200kFamilies {
		if m == prefix || strings.HasPrefix(m, prefix+"-") || (prefix[0] != 'o' && strings.HasPrefix(m, prefix)) {
			return tokenizer.O200kBase
		}
	}
	return tokenizer.Cl100kBase
}

func (c *TiktokenCounter) Count(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return c.fallback.Count(text)
	}
	return len(ids)
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len(text))/e.CharsPerToken) + 1
	return n
}
