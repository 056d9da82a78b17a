package core

import (
	"context"
	"errors"
	"sync"

	"medassist/internal/llm"
	"medassist/pkg"
)

// fakeLLM answers the structured and narrative stages from scripted values,
// telling them apart by the presence of a schema.
type fakeLLM struct {
	mu sync.Mutex

	predictText   string
	predictChunks []string
	predictErr    error
	explainText   string
	explainErr    error
	streamErr     error

	predictCalls int
	explainCalls int
	requests     []llm.Request
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if req.Schema != nil {
		f.predictCalls++
		if f.predictErr != nil {
			return nil, f.predictErr
		}
		if f.predictChunks != nil {
			return llm.TextStream(f.predictChunks...), nil
		}
		return llm.TextStream(f.predictText), nil
	}
	f.explainCalls++
	if f.explainErr != nil {
		return nil, f.explainErr
	}
	if f.streamErr != nil {
		return &brokenStream{first: f.explainText, err: f.streamErr}, nil
	}
	return llm.TextStream(f.explainText), nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.predictCalls + f.explainCalls
}

type brokenStream struct {
	first string
	sent  bool
	err   error
}

func (s *brokenStream) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return s.first, nil
	}
	return "", s.err
}

func (s *brokenStream) Close() error { return nil }

// fakeStore is an in-memory HistoryStore with injectable failures.
type fakeStore struct {
	mu     sync.Mutex
	data   map[string]pkg.Transcript
	getErr error
	setErr error
	sets   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]pkg.Transcript)}
}

func (s *fakeStore) Get(ctx context.Context, id string) (pkg.Transcript, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	t, ok := s.data[id]
	return t.Clone(), ok, nil
}

func (s *fakeStore) Set(ctx context.Context, id string, t pkg.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sets++
	s.data[id] = t.Clone()
	return nil
}

var errQuota = errors.New("quota exceeded")

const validSummary = `{"conditions":[{"name":"Influenza","confidence":72},{"name":"Common cold","confidence":"40%"}],"treatments":["Rest","Fluids"],"red_flags":["Difficulty breathing"]}`
