package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"medassist/internal/llm"
	"medassist/pkg"
)

// ErrInvalidInput is wrapped by every InputError.
var ErrInvalidInput = errors.New("invalid input")

// InputError reports a request rejected before any model call.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

const (
	defaultCommitTimeout = 5 * time.Second
	maxLoggedRaw         = 2048
)

// Options configures a ChatService.  It is read once at construction.
type Options struct {
	PredictModel  string
	ExplainModel  string
	Context       ContextOptions
	CommitTimeout time.Duration
	OnCommit      CommitHook
	Logger        *slog.Logger
}

// ChatService runs the two-stage pipeline for one request at a time per
// conversation: assemble context, predict a structured summary, explain it,
// then record both turns.
type ChatService struct {
	Store     HistoryStore
	Predictor *Predictor
	Explainer *Explainer

	ctxOpts       ContextOptions
	commitTimeout time.Duration
	onCommit      CommitHook
	logger        *slog.Logger
	tracer        trace.Tracer
	locks         *keyedMutex
}

// NewChatService constructs a new ChatService with the given LLM client and
// history store.
func NewChatService(client llm.Client, store HistoryStore, opts Options) *ChatService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	explainModel := opts.ExplainModel
	if explainModel == "" {
		explainModel = opts.PredictModel
	}
	commitTimeout := opts.CommitTimeout
	if commitTimeout <= 0 {
		commitTimeout = defaultCommitTimeout
	}
	return &ChatService{
		Store:         store,
		Predictor:     NewPredictor(client, opts.PredictModel),
		Explainer:     NewExplainer(client, explainModel),
		ctxOpts:       opts.Context,
		commitTimeout: commitTimeout,
		onCommit:      opts.OnCommit,
		logger:        logger,
		tracer:        otel.Tracer("medassist/internal/core"),
		locks:         newKeyedMutex(),
	}
}

// HandleChat answers one user message.  It returns an *InputError for a bad
// request, or the context error when ctx ends while another request for the
// same conversation is running.  Model failures degrade the response instead,
// and persistence failures are logged.
func (s *ChatService) HandleChat(ctx context.Context, req pkg.PipelineRequest) (pkg.PipelineResponse, error) {
	id := strings.TrimSpace(req.ConversationID)
	message := strings.TrimSpace(req.Message)
	if id == "" {
		return pkg.PipelineResponse{}, &InputError{Field: "conversation_id", Reason: "is required"}
	}
	if message == "" {
		return pkg.PipelineResponse{}, &InputError{Field: "message", Reason: "is required"}
	}

	ctx, span := s.tracer.Start(ctx, "chat.handle", trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()
	logger := s.logger.With(slog.String("conversation_id", id))

	// Read-modify-write of one transcript is serialised within this process.
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "abandoned while waiting for conversation")
		return pkg.PipelineResponse{}, fmt.Errorf("waiting for conversation %s: %w", id, err)
	}
	defer unlock()

	history, readable := s.loadHistory(ctx, logger, id)

	_, assembleSpan := s.tracer.Start(ctx, "chat.assemble_context")
	turns := AssembleContext(history, message, s.ctxOpts)
	assembleSpan.SetAttributes(attribute.Int("context.turns", len(turns)))
	assembleSpan.End()

	pctx, predictSpan := s.tracer.Start(ctx, "chat.predict")
	pred := Settle(s.Predictor.Predict(pctx, turns))
	if pred.Degraded {
		predictSpan.SetAttributes(attribute.String("prediction.degraded", string(pred.Reason)))
		s.logDegraded(logger, pred)
	}
	predictSpan.End()

	ectx, explainSpan := s.tracer.Start(ctx, "chat.explain")
	reply, err := s.Explainer.Explain(ectx, turns, message, pred)
	if err != nil {
		explainSpan.RecordError(err)
		explainSpan.SetStatus(codes.Error, "explanation degraded")
		logger.Warn("explanation degraded", slog.String("error", err.Error()))
	}
	explainSpan.End()

	if readable {
		s.commit(ctx, logger, id, RecordTurns(history, message, reply))
	} else {
		// Writing the two new turns alone would overwrite the stored transcript.
		span.SetAttributes(attribute.Bool("history_unavailable", true))
		logger.Warn("skipping commit: stored transcript could not be read")
	}

	span.SetAttributes(attribute.Bool("prediction.degraded", pred.Degraded))
	return pkg.PipelineResponse{Explanation: reply, Summary: pred.Summary}, nil
}

// loadHistory answers a failed read with an empty context so the user still
// gets a reply.  readable is false in that case and the turn must not be
// committed.
func (s *ChatService) loadHistory(ctx context.Context, logger *slog.Logger, id string) (history pkg.Transcript, readable bool) {
	history, ok, err := s.Store.Get(ctx, id)
	if err != nil {
		logger.Error("failed to load transcript", slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, true
	}
	return history.Clone(), true
}

// commit overwrites the stored transcript.  It runs detached from request
// cancellation because the user has already been answered.
func (s *ChatService) commit(ctx context.Context, logger *slog.Logger, id string, transcript pkg.Transcript) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "chat.record", trace.WithAttributes(attribute.Int("transcript.turns", len(transcript))))
	defer span.End()

	if err := s.Store.Set(ctx, id, transcript); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		logger.Error("failed to commit transcript", slog.String("error", err.Error()))
		return
	}
	if s.onCommit != nil {
		if err := s.onCommit(ctx, id); err != nil {
			logger.Warn("commit hook failed", slog.String("error", err.Error()))
		}
	}
}

func (s *ChatService) logDegraded(logger *slog.Logger, pred Prediction) {
	attrs := []any{slog.String("reason", string(pred.Reason))}
	if pred.Err != nil {
		attrs = append(attrs, slog.String("error", pred.Err.Error()))
	}
	if pred.Raw != "" {
		raw := pred.Raw
		if len(raw) > maxLoggedRaw {
			raw = raw[:maxLoggedRaw] + "…"
		}
		attrs = append(attrs, slog.String("raw", raw))
	}
	logger.Warn("prediction degraded to default summary", attrs...)
}
