package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	DefaultDimension = 1536
	DefaultBatchSize = 100
)

// Metadata keys written for every chunk entry.
const (
	KeyDocumentID = "documentId"
	KeyChunkIndex = "chunkIndex"
	KeyText       = "text"
	KeyFullText   = "fullText"
	KeyStartIndex = "startIndex"
	KeyEndIndex   = "endIndex"
	KeyUserID     = "userId"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyID           = errors.New("index entry id is empty")
)

// Metadata is flat string metadata. Every backend supports equality filters
// on it.
type Metadata map[string]string

type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Index is the contract every vector backend implements. Upsert overwrites
// entries with the same id.
type Index interface {
	EnsureReady(ctx context.Context) error
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, topK int, filter Metadata) ([]Match, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	Name() string
}

// BatchError reports the sub-batch that failed during a batched upsert.
// Batches before it were written; batches after it were not attempted.
type BatchError struct {
	Batch int
	Start int
	End   int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert batch %d (entries %d-%d) failed: %v", e.Batch, e.Start, e.End-1, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// UpsertBatched splits entries into batches of size and writes them in order,
// stopping at the first failure.
func UpsertBatched(ctx context.Context, entries []Entry, size int, write func(ctx context.Context, batch []Entry) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start, batch := 0, 0; start < len(entries); start, batch = start+size, batch+1 {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		if err := ctx.Err(); err != nil {
			return &BatchError{Batch: batch, Start: start, End: end, Err: err}
		}
		if err := write(ctx, entries[start:end]); err != nil {
			return &BatchError{Batch: batch, Start: start, End: end, Err: err}
		}
	}
	return nil
}

func validateEntries(entries []Entry, dim int) error {
	for i := range entries {
		if entries[i].ID == "" {
			return fmt.Errorf("entry %d: %w", i, ErrEmptyID)
		}
		if len(entries[i].Vector) != dim {
			return fmt.Errorf("entry %s has %d dimensions, want %d: %w", entries[i].ID, len(entries[i].Vector), dim, ErrDimensionMismatch)
		}
	}
	return nil
}

func validateQuery(vector []float32, dim int) error {
	if len(vector) != dim {
		return fmt.Errorf("query has %d dimensions, want %d: %w", len(vector), dim, ErrDimensionMismatch)
	}
	return nil
}

func (m Metadata) matches(filter Metadata) bool {
	for k, v := range filter {
		if m[k] != v {
			return false
		}
	}
	return true
}

func (m Metadata) clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topK orders matches by descending score, ties broken by id, and keeps k.
func topK(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}
