package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemIndexContract(t *testing.T) {
	exerciseIndex(t, NewChromemIndex(ChromemConfig{Dimension: 3}))
}

func TestChromemIndexEmpty(t *testing.T) {
	idx := NewChromemIndex(ChromemConfig{Dimension: 3})
	matches, err := idx.Query(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.NoError(t, idx.DeleteByDocument(context.Background(), "x"))
}

func TestChromemIndexPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chromem")
	ctx := context.Background()

	first := NewChromemIndex(ChromemConfig{Path: dir, Dimension: 3})
	require.NoError(t, first.Upsert(ctx, makeEntries(3, "doc_1")))

	second := NewChromemIndex(ChromemConfig{Path: dir, Dimension: 3})
	matches, err := second.Query(ctx, []float32{3, 1, 0}, 1, Metadata{KeyDocumentID: "doc_1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc_1_chunk_2", matches[0].ID)
}
