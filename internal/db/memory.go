package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"medassist/pkg"
)

type memoryEntry struct {
	transcript pkg.Transcript
	updatedAt  time.Time
}

// MemoryStore keeps transcripts in process memory.  Values are copied on the
// way in and out, so callers never share slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, conversationID string) (pkg.Transcript, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[conversationID]
	if !ok {
		return nil, false, nil
	}
	return e.transcript.Clone(), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, conversationID string, transcript pkg.Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[conversationID] = memoryEntry{transcript: transcript.Clone(), updatedAt: s.now()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, conversationID)
	return nil
}

func (s *MemoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.entries {
		if e.updatedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, limit int) ([]pkg.ConversationPreview, error) {
	s.mu.RLock()
	out := make([]pkg.ConversationPreview, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, pkg.ConversationPreview{ID: id, Turns: len(e.transcript), UpdatedAt: e.updatedAt})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
