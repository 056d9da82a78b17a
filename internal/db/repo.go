package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"medassist/pkg"
)

// Repository stores one transcript document per conversation in Postgres or
// SQLite.  Writes replace the whole document.
type Repository struct {
	DB      *sql.DB
	Dialect Dialect
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB, d Dialect) *Repository { return &Repository{DB: db, Dialect: d} }

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == SQLite {
		// A single writer avoids SQLITE_BUSY under concurrent commits.
		conn.SetMaxOpenConns(1)
		if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(ctx, conn, d); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Get returns the stored transcript.  Roles written by older releases
// (patient, bot, assistant) are mapped to the canonical ones.
func (r *Repository) Get(ctx context.Context, conversationID string) (pkg.Transcript, bool, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx,
		r.Dialect.Rebind(`SELECT transcript FROM conversations WHERE id = ?`),
		conversationID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load transcript %s: %w", conversationID, err)
	}
	var t pkg.Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false, fmt.Errorf("failed to decode transcript %s: %w", conversationID, err)
	}
	for i := range t {
		if role, ok := pkg.NormalizeRole(string(t[i].Role)); ok {
			t[i].Role = role
		}
	}
	return t, true, nil
}

// Set overwrites the transcript.  Concurrent writers race; the last one wins.
func (r *Repository) Set(ctx context.Context, conversationID string, transcript pkg.Transcript) error {
	if transcript == nil {
		transcript = pkg.Transcript{}
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.DB.ExecContext(ctx,
		r.Dialect.Rebind(`INSERT INTO conversations (id, transcript, created_at, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET transcript = excluded.transcript, updated_at = excluded.updated_at`),
		conversationID, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store transcript %s: %w", conversationID, err)
	}
	return nil
}

// Delete removes a conversation.  Deleting an unknown ID is not an error.
func (r *Repository) Delete(ctx context.Context, conversationID string) error {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`DELETE FROM conversations WHERE id = ?`), conversationID)
	return err
}

// PruneBefore deletes conversations not updated since cutoff and reports how
// many were removed.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		r.Dialect.Rebind(`DELETE FROM conversations WHERE updated_at < ?`),
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	return res.RowsAffected()
}

// ListConversations returns the most recently updated conversations first.
func (r *Repository) ListConversations(ctx context.Context, limit int) ([]pkg.ConversationPreview, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		r.Dialect.Rebind(`SELECT id, transcript, updated_at
         FROM conversations
         ORDER BY updated_at DESC
         LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []pkg.ConversationPreview{}
	for rows.Next() {
		var (
			p   pkg.ConversationPreview
			raw []byte
		)
		if err := rows.Scan(&p.ID, &raw, &p.UpdatedAt); err != nil {
			return nil, err
		}
		var t pkg.Transcript
		if err := json.Unmarshal(raw, &t); err == nil {
			p.Turns = len(t)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
