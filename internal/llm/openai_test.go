package llm

import (
	"context"
	"errors"
	"os"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"medassist/internal/testutil"
)

func newVCRClient(t *testing.T, cassette string, stream bool) *OpenAIClient {
	t.Helper()
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: OPENAI_API_KEY not set")
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = "test-key"
	}
	r := testutil.NewVCRRecorder(t, cassette)
	return NewOpenAIClient(OpenAIConfig{
		APIKey:      apiKey,
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		Stream:      stream,
		HTTPClient:  testutil.VCRHTTPClient(r),
	})
}

func TestOpenAIClient_GenerateStructured(t *testing.T) {
	c := newVCRClient(t, "openai_structured", false)
	schema := Schema{Name: "clinical_summary", Fields: []Field{{Name: "conditions", Kind: KindArray, Required: true}}}

	s, err := c.Generate(context.Background(), Request{
		SystemInstruction: "Return only JSON.",
		Messages:          []Message{{Role: RoleUser, Content: "I have a fever and a sore throat"}},
		Schema:            &schema,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	text, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	want := `{"conditions":[{"name":"Viral pharyngitis","confidence":70}],"treatments":["Rest","Fluids"],"red_flags":[]}`
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestOpenAIClient_GenerateStream(t *testing.T) {
	c := newVCRClient(t, "openai_stream", true)

	s, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "How should I treat a mild cold?"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var chunks []string
	for {
		chunk, err := s.Recv()
		if err != nil {
			break
		}
		chunks = append(chunks, chunk)
	}
	_ = s.Close()

	want := []string{"Rest ", "and ", "hydrate."}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestOpenAIClient_GenerateRateLimited(t *testing.T) {
	c := newVCRClient(t, "openai_rate_limited", false)

	_, err := c.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "headache"}},
	})
	if err == nil {
		t.Fatal("Generate() expected error for 429 response")
	}
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want wrapped *openai.APIError", err)
	}
	if apiErr.HTTPStatusCode != 429 {
		t.Errorf("status = %d, want 429", apiErr.HTTPStatusCode)
	}
}

func TestOpenAIClient_BuildRequest(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", Model: "gpt-4o-mini"})
	schema := Schema{Name: "s", Fields: []Field{{Name: "a", Kind: KindString, Required: true}}}

	req := c.buildRequest(Request{
		SystemInstruction: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "u"},
			{Role: "tool", Content: "odd"},
			{Role: RoleAssistant, Content: "a"},
		},
		Schema: &schema,
	})

	if req.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", req.Model)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(req.Messages))
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem || req.Messages[0].Content != "sys" {
		t.Errorf("first message = %+v, want system instruction", req.Messages[0])
	}
	if req.Messages[2].Role != openai.ChatMessageRoleUser {
		t.Errorf("unknown role not coerced to user: %+v", req.Messages[2])
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONSchema {
		t.Fatalf("response format = %+v, want json_schema", req.ResponseFormat)
	}
	if !req.ResponseFormat.JSONSchema.Strict || req.ResponseFormat.JSONSchema.Name != "s" {
		t.Errorf("json schema = %+v", req.ResponseFormat.JSONSchema)
	}

	plain := c.buildRequest(Request{Model: "other", Messages: []Message{{Role: RoleUser, Content: "u"}}})
	if plain.ResponseFormat != nil {
		t.Error("free-text request should not set a response format")
	}
	if plain.Model != "other" {
		t.Errorf("model override = %q, want other", plain.Model)
	}
}
