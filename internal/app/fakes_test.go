package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"bizfin-insight/internal/ai"
	"bizfin-insight/internal/model"
)

const testDim = 64

// hashEmbedder gives every distinct word its own dimension, so identical
// texts get identical vectors and unrelated words never share a bucket
// until the vocabulary outgrows testDim-1. Dimension 0 is a constant bias.
type hashEmbedder struct {
	err   error
	calls atomic.Int32

	mu    sync.Mutex
	vocab map[string]int
}

func (h *hashEmbedder) Dimension() int    { return testDim }
func (h *hashEmbedder) ModelName() string { return "hash" }

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h.calls.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	vec := make([]float32, testDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		vec[h.slot(w)]++
	}
	vec[0] += 0.01
	return vec, nil
}

func (h *hashEmbedder) slot(word string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.vocab == nil {
		h.vocab = map[string]int{}
	}
	d, ok := h.vocab[word]
	if !ok {
		d = 1 + len(h.vocab)%(testDim-1)
		h.vocab[word] = d
	}
	return d
}

type fakeCompleter struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []ai.CompletionRequest
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, req ai.CompletionRequest) (*ai.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &ai.CompletionResponse{Content: f.content, Model: "fake-model"}, nil
}

func (f *fakeCompleter) last() ai.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeSearcher struct {
	chunks []RetrievedChunk
	err    error
	query  string
	topK   int
	filter map[string]string
}

func (f *fakeSearcher) SearchRelevantChunks(_ context.Context, query string, topK int, filter map[string]string) ([]RetrievedChunk, error) {
	f.query, f.topK, f.filter = query, topK, filter
	return f.chunks, f.err
}

type memDocStore struct {
	mu        sync.Mutex
	docs      map[string]model.Document
	createErr error
}

func newMemDocStore() *memDocStore {
	return &memDocStore{docs: map[string]model.Document{}}
}

func (s *memDocStore) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.docs[doc.ID] = *doc
	return nil
}

func (s *memDocStore) UpdateRAGStatus(_ context.Context, id, status, vectorDocumentID string, chunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return errors.New("no such document")
	}
	d.RAGStatus, d.VectorDocumentID, d.ChunksStored = status, vectorDocumentID, chunks
	s.docs[id] = d
	return nil
}

func (s *memDocStore) ListByUserID(_ context.Context, userID uint) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, d := range s.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memDocStore) GetByID(_ context.Context, id string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *memDocStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

type memUserStore struct {
	mu    sync.Mutex
	users []model.User
}

func (s *memUserStore) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = uint(len(s.users) + 1)
	s.users = append(s.users, *u)
	return nil
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *memUserStore) GetByID(_ context.Context, id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, nil
}
