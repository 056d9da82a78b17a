package llm

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Roles understood by Client implementations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a minimal chat message used by the core pipeline.
// Role must be one of: "user" or "assistant"; the system instruction travels
// separately on the Request.
type Message struct {
	Role    string
	Content string
}

// Request describes one call to the generative model.  When Schema is nil the
// response is free text; otherwise the model must return a JSON object
// conforming to Schema.
type Request struct {
	Model             string
	SystemInstruction string
	Messages          []Message
	Schema            *Schema
}

// Stream is a finite, non-restartable sequence of text fragments.  Recv
// returns io.EOF once the sequence is exhausted.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client defines the generative capability consumed by the pipeline.
type Client interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// Collect drains s, concatenating fragments in delivery order, and closes it.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

// TextStream returns a Stream over already materialised chunks.
func TextStream(chunks ...string) Stream {
	return &sliceStream{chunks: chunks}
}

type sliceStream struct {
	chunks []string
	next   int
}

func (s *sliceStream) Recv() (string, error) {
	if s.next >= len(s.chunks) {
		return "", io.EOF
	}
	c := s.chunks[s.next]
	s.next++
	return c, nil
}

func (s *sliceStream) Close() error { return nil }
