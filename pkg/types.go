package pkg

import (
	"encoding/json"
	"strings"
	"time"
)

// Role describes who authored a turn.  Only two roles are persisted: the
// user and the model.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// NormalizeRole maps legacy role names found in older transcripts onto the
// two canonical roles.  Unknown roles are reported with ok == false.
func NormalizeRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "patient":
		return RoleUser, true
	case "model", "assistant", "bot":
		return RoleModel, true
	default:
		return "", false
	}
}

// Turn is one role-tagged unit of conversation.  A persisted turn always
// carries at least one non-blank segment.
type Turn struct {
	Role     Role     `json:"role"`
	Segments []string `json:"parts"`
}

// UnmarshalJSON is lenient so one damaged entry cannot make a whole
// transcript unreadable.  Segments may be plain strings or {"text": ...}
// objects; anything else, including a non-string role, is skipped and
// leaves a turn that carries no text.
func (t *Turn) UnmarshalJSON(data []byte) error {
	*t = Turn{}
	var raw struct {
		Role  json.RawMessage `json:"role"`
		Parts json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var role string
	if json.Unmarshal(raw.Role, &role) == nil {
		t.Role = Role(role)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw.Parts, &parts); err != nil {
		// A single bare segment.
		parts = []json.RawMessage{raw.Parts}
	}
	for _, p := range parts {
		if s, ok := decodeSegment(p); ok {
			t.Segments = append(t.Segments, s)
		}
	}
	return nil
}

func decodeSegment(p json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(p, &s) == nil {
		return s, true
	}
	var obj struct {
		Text *string `json:"text"`
	}
	if json.Unmarshal(p, &obj) == nil && obj.Text != nil {
		return *obj.Text, true
	}
	return "", false
}

// Text joins the non-blank segments of the turn.
func (t Turn) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Transcript is the ordered history of turns for one conversation.
type Transcript []Turn

// Clone returns a deep copy so callers can extend it without aliasing the
// stored value.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	for i, turn := range t {
		out[i] = Turn{Role: turn.Role, Segments: append([]string(nil), turn.Segments...)}
	}
	return out
}

// Condition is a candidate condition with a confidence percentage in [0,100].
type Condition struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ClinicalSummary is the structured output of the prediction stage.  All
// three sequences are always present on the wire, possibly empty.
type ClinicalSummary struct {
	Conditions []Condition `json:"conditions"`
	Treatments []string    `json:"treatments"`
	RedFlags   []string    `json:"red_flags"`
}

// DefaultSummary returns the degraded placeholder summary.
func DefaultSummary() ClinicalSummary {
	return ClinicalSummary{
		Conditions: []Condition{},
		Treatments: []string{},
		RedFlags:   []string{},
	}
}

// IsEmpty reports whether the summary carries no information.
func (s ClinicalSummary) IsEmpty() bool {
	return len(s.Conditions) == 0 && len(s.Treatments) == 0 && len(s.RedFlags) == 0
}

// MarshalJSON never emits null for the three sequences.
func (s ClinicalSummary) MarshalJSON() ([]byte, error) {
	type alias ClinicalSummary
	out := alias(s)
	if out.Conditions == nil {
		out.Conditions = []Condition{}
	}
	if out.Treatments == nil {
		out.Treatments = []string{}
	}
	if out.RedFlags == nil {
		out.RedFlags = []string{}
	}
	return json.Marshal(out)
}

// PipelineRequest is one validated unit of work for the chat pipeline.
type PipelineRequest struct {
	ConversationID string
	Message        string
}

// PipelineResponse pairs the narrative explanation with the structured summary.
type PipelineResponse struct {
	Explanation string
	Summary     ClinicalSummary
}

// ChatRequest is the body of POST /chat.  user_id is accepted as an alias for
// conversation_id.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	Message        string `json:"message"`
}

// PipelineRequest converts the wire request, preferring conversation_id.
func (r ChatRequest) PipelineRequest() PipelineRequest {
	id := r.ConversationID
	if strings.TrimSpace(id) == "" {
		id = r.UserID
	}
	return PipelineRequest{ConversationID: id, Message: r.Message}
}

// ChatResponse is the wire form of a PipelineResponse.
type ChatResponse struct {
	Response       string          `json:"response"`
	PredictionData ClinicalSummary `json:"prediction_data"`
}

// NewChatResponse shapes a PipelineResponse for the wire.
func NewChatResponse(resp PipelineResponse) ChatResponse {
	return ChatResponse{Response: resp.Explanation, PredictionData: resp.Summary}
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ConversationPreview is a short listing entry for stored conversations.
type ConversationPreview struct {
	ID        string    `json:"id"`
	Turns     int       `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}
