package core

import (
	"context"

	"medassist/pkg"
)

// HistoryStore persists one transcript per conversation.  Set replaces the
// whole document; there is no partial-update primitive.
type HistoryStore interface {
	// Get returns the stored transcript, or ok == false when the
	// conversation has never been recorded.
	Get(ctx context.Context, conversationID string) (transcript pkg.Transcript, ok bool, err error)
	Set(ctx context.Context, conversationID string, transcript pkg.Transcript) error
}

// CommitHook runs after a transcript has been committed, e.g. to notify
// listeners.  Its error is logged and otherwise ignored.
type CommitHook func(ctx context.Context, conversationID string) error
