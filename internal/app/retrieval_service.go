package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bizfin-insight/internal/ai"
	"bizfin-insight/internal/eventlog"
	"bizfin-insight/internal/pkg/logger"
	"bizfin-insight/internal/rag"
	"bizfin-insight/internal/vectorindex"
)

const (
	DefaultTopK            = 5
	defaultEmbedConcurrent = 4
	previewRunes           = 500
)

type RetrievalService struct {
	chunker     *rag.Chunker
	embedder    ai.Embedder
	index       vectorindex.Index
	events      eventlog.Recorder
	concurrency int
}

type StoreResult struct {
	DocumentID   string `json:"documentId"`
	ChunksStored int    `json:"chunksStored"`
}

type RetrievedChunk struct {
	Score    float64              `json:"score"`
	Text     string               `json:"text"`
	Metadata vectorindex.Metadata `json:"metadata"`
}

func NewRetrievalService(
	chunker *rag.Chunker,
	embedder ai.Embedder,
	index vectorindex.Index,
	events eventlog.Recorder,
	concurrency int,
) *RetrievalService {
	if concurrency <= 0 {
		concurrency = defaultEmbedConcurrent
	}
	if events == nil {
		events = eventlog.Nop{}
	}
	return &RetrievalService{
		chunker:     chunker,
		embedder:    embedder,
		index:       index,
		events:      events,
		concurrency: concurrency,
	}
}

func ChunkID(documentID string, ordinal int) string {
	return documentID + "_chunk_" + strconv.Itoa(ordinal)
}

// StoreDocument chunks, embeds and upserts a document. Nothing is written to
// the index unless every chunk was embedded, and a failed upsert removes
// whatever batches it already wrote.
func (s *RetrievalService) StoreDocument(ctx context.Context, documentID, content string, metadata map[string]string) (*StoreResult, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" || strings.TrimSpace(content) == "" {
		return nil, ErrInvalidInput
	}

	chunks := s.chunker.Chunk(content)
	s.events.Record(ctx, eventlog.TypeVector, "chunk", map[string]any{
		"documentId": documentID,
		"chunks":     len(chunks),
	})
	if len(chunks) == 0 {
		return nil, ErrInvalidInput
	}

	if err := s.index.EnsureReady(ctx); err != nil {
		return nil, s.fail(ctx, "ensure_ready", documentID, fmt.Errorf("vector index not ready: %w", err))
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range chunks {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d failed: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, "embed", documentID, err)
	}

	entries := make([]vectorindex.Entry, len(chunks))
	for i, c := range chunks {
		meta := make(vectorindex.Metadata, len(metadata)+6)
		for k, v := range metadata {
			meta[k] = v
		}
		meta[vectorindex.KeyDocumentID] = documentID
		meta[vectorindex.KeyChunkIndex] = strconv.Itoa(i)
		meta[vectorindex.KeyText] = preview(c.Text, previewRunes)
		meta[vectorindex.KeyFullText] = c.Text
		meta[vectorindex.KeyStartIndex] = strconv.Itoa(c.StartIndex)
		meta[vectorindex.KeyEndIndex] = strconv.Itoa(c.EndIndex)
		entries[i] = vectorindex.Entry{ID: ChunkID(documentID, i), Vector: vectors[i], Metadata: meta}
	}

	if err := s.index.Upsert(ctx, entries); err != nil {
		// Earlier batches may have landed; drop them so a failed store
		// leaves nothing searchable behind.
		if derr := s.index.DeleteByDocument(ctx, documentID); derr != nil {
			logger.FromContext(ctx).Error("rollback partial upsert failed",
				zap.String("documentId", documentID), zap.Error(derr))
		}
		return nil, s.fail(ctx, "upsert", documentID, err)
	}

	s.events.Record(ctx, eventlog.TypeVector, "upsert", map[string]any{
		"documentId":   documentID,
		"chunksStored": len(entries),
		"index":        s.index.Name(),
	})
	return &StoreResult{DocumentID: documentID, ChunksStored: len(entries)}, nil
}

// SearchRelevantChunks embeds query and returns the best matches, highest
// score first.
func (s *RetrievalService) SearchRelevantChunks(ctx context.Context, query string, topK int, filter map[string]string) ([]RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, s.fail(ctx, "query_embed", filter[vectorindex.KeyDocumentID], err)
	}
	matches, err := s.index.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, s.fail(ctx, "search", filter[vectorindex.KeyDocumentID], err)
	}

	out := make([]RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		text := m.Metadata[vectorindex.KeyFullText]
		if text == "" {
			text = m.Metadata[vectorindex.KeyText]
		}
		out = append(out, RetrievedChunk{Score: m.Score, Text: text, Metadata: m.Metadata})
	}
	s.events.Record(ctx, eventlog.TypeVector, "search", map[string]any{
		"topK":    topK,
		"results": len(out),
		"filter":  filter,
	})
	return out, nil
}

func (s *RetrievalService) DeleteDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return ErrInvalidInput
	}
	if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
		return s.fail(ctx, "delete", documentID, err)
	}
	s.events.Record(ctx, eventlog.TypeVector, "delete", map[string]any{"documentId": documentID})
	return nil
}

func (s *RetrievalService) fail(ctx context.Context, op, documentID string, err error) error {
	s.events.Record(ctx, eventlog.TypeError, "vector_"+op, map[string]any{
		"documentId": documentID,
		"error":      err.Error(),
	})
	return err
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
