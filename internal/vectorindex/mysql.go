package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"bizfin-insight/internal/model"
)

// EntryStore persists vector rows; repository.VectorEntryRepository
// implements it.
type EntryStore interface {
	Migrate(ctx context.Context) error
	Upsert(ctx context.Context, entries []model.VectorEntry) error
	List(ctx context.Context, documentID string) ([]model.VectorEntry, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// MySQLIndex keeps vectors in a relational table and ranks them with a full
// scan. Suited to small deployments that already run MySQL.
type MySQLIndex struct {
	store     EntryStore
	dimension int

	mu    sync.Mutex
	ready bool
}

func NewMySQLIndex(store EntryStore, dimension int) *MySQLIndex {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &MySQLIndex{store: store, dimension: dimension}
}

func (m *MySQLIndex) Name() string { return "mysql" }

func (m *MySQLIndex) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}
	if err := m.store.Migrate(ctx); err != nil {
		return err
	}
	m.ready = true
	return nil
}

func (m *MySQLIndex) Upsert(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries, m.dimension); err != nil {
		return err
	}
	if err := m.EnsureReady(ctx); err != nil {
		return err
	}
	return UpsertBatched(ctx, entries, DefaultBatchSize, func(ctx context.Context, batch []Entry) error {
		rows := make([]model.VectorEntry, len(batch))
		for i, e := range batch {
			chunkIndex, _ := strconv.Atoi(e.Metadata[KeyChunkIndex])
			rows[i] = model.VectorEntry{
				ID:         e.ID,
				DocumentID: e.Metadata[KeyDocumentID],
				ChunkIndex: chunkIndex,
			}
			rows[i].SetEmbedding(e.Vector)
			rows[i].SetMetadata(e.Metadata)
		}
		return m.store.Upsert(ctx, rows)
	})
}

func (m *MySQLIndex) Query(ctx context.Context, vector []float32, topN int, filter Metadata) ([]Match, error) {
	if err := validateQuery(vector, m.dimension); err != nil {
		return nil, err
	}
	if topN <= 0 {
		return nil, nil
	}
	if err := m.EnsureReady(ctx); err != nil {
		return nil, err
	}

	rows, err := m.store.List(ctx, filter[KeyDocumentID])
	if err != nil {
		return nil, fmt.Errorf("mysql index scan failed: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for i := range rows {
		md := Metadata(rows[i].MetadataMap())
		if !md.matches(filter) {
			continue
		}
		matches = append(matches, Match{
			ID:       rows[i].ID,
			Score:    cosineSimilarity(vector, rows[i].EmbeddingVector()),
			Metadata: md,
		})
	}
	return topK(matches, topN), nil
}

func (m *MySQLIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := m.EnsureReady(ctx); err != nil {
		return err
	}
	return m.store.DeleteByDocumentID(ctx, documentID)
}
