package vectorindex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizfin-insight/internal/model"
)

type memoryEntryStore struct {
	mu         sync.Mutex
	rows       map[string]model.VectorEntry
	migrations int
	migrateErr error
	upsertErr  error
}

func newMemoryEntryStore() *memoryEntryStore {
	return &memoryEntryStore{rows: map[string]model.VectorEntry{}}
}

func (s *memoryEntryStore) Migrate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations++
	return s.migrateErr
}

func (s *memoryEntryStore) Upsert(_ context.Context, entries []model.VectorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, e := range entries {
		s.rows[e.ID] = e
	}
	return nil
}

func (s *memoryEntryStore) List(_ context.Context, documentID string) ([]model.VectorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.VectorEntry
	for _, e := range s.rows {
		if documentID == "" || e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryEntryStore) DeleteByDocumentID(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.rows {
		if e.DocumentID == documentID {
			delete(s.rows, id)
		}
	}
	return nil
}

func TestMySQLIndexContract(t *testing.T) {
	exerciseIndex(t, NewMySQLIndex(newMemoryEntryStore(), 3))
}

func TestMySQLIndexStoresColumns(t *testing.T) {
	store := newMemoryEntryStore()
	idx := NewMySQLIndex(store, 3)
	require.NoError(t, idx.Upsert(context.Background(), makeEntries(2, "doc_9")))

	row := store.rows["doc_9_chunk_1"]
	assert.Equal(t, "doc_9", row.DocumentID)
	assert.Equal(t, 1, row.ChunkIndex)
	assert.Equal(t, []float32{2, 1, 0}, row.EmbeddingVector())
	assert.Equal(t, 1, store.migrations)
}

func TestMySQLIndexRetriesMigrationAfterFailure(t *testing.T) {
	store := newMemoryEntryStore()
	store.migrateErr = errors.New("db down")
	idx := NewMySQLIndex(store, 3)

	assert.Error(t, idx.EnsureReady(context.Background()))
	store.migrateErr = nil
	assert.NoError(t, idx.EnsureReady(context.Background()))
	assert.NoError(t, idx.EnsureReady(context.Background()))
	assert.Equal(t, 2, store.migrations)
}

func TestMySQLIndexUpsertFailureIsBatchError(t *testing.T) {
	store := newMemoryEntryStore()
	store.upsertErr = errors.New("deadlock")
	err := NewMySQLIndex(store, 3).Upsert(context.Background(), makeEntries(120, "d"))

	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 0, be.Batch)
	assert.Equal(t, 100, be.End)
}
