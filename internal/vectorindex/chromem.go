package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

var errEmbeddingsSupplied = errors.New("chromem index expects precomputed embeddings")

type ChromemConfig struct {
	// Path enables on-disk persistence; empty keeps the index in memory.
	Path       string
	Compress   bool
	Collection string
	Dimension  int
}

// ChromemIndex is an in-process backend. Vectors are always supplied by the
// caller so the collection's embedding func is never used.
type ChromemIndex struct {
	cfg ChromemConfig

	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
}

func NewChromemIndex(cfg ChromemConfig) *ChromemIndex {
	if cfg.Collection == "" {
		cfg.Collection = "financial-documents"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	return &ChromemIndex{cfg: cfg}
}

func (c *ChromemIndex) Name() string { return "chromem" }

func (c *ChromemIndex) EnsureReady(ctx context.Context) error {
	_, err := c.ready()
	return err
}

func (c *ChromemIndex) ready() (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collection != nil {
		return c.collection, nil
	}

	if c.db == nil {
		db := chromem.NewDB()
		if c.cfg.Path != "" {
			var err error
			db, err = chromem.NewPersistentDB(c.cfg.Path, c.cfg.Compress)
			if err != nil {
				return nil, fmt.Errorf("open chromem db failed: %w", err)
			}
		}
		c.db = db
	}

	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errEmbeddingsSupplied }
	col, err := c.db.GetOrCreateCollection(c.cfg.Collection, map[string]string{"distance": "cosine"}, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection failed: %w", err)
	}
	c.collection = col
	return col, nil
}

func (c *ChromemIndex) Upsert(ctx context.Context, entries []Entry) error {
	if err := validateEntries(entries, c.cfg.Dimension); err != nil {
		return err
	}
	col, err := c.ready()
	if err != nil {
		return err
	}
	return UpsertBatched(ctx, entries, DefaultBatchSize, func(ctx context.Context, batch []Entry) error {
		docs := make([]chromem.Document, len(batch))
		for i, e := range batch {
			vec := make([]float32, len(e.Vector))
			copy(vec, e.Vector)
			docs[i] = chromem.Document{
				ID:        e.ID,
				Metadata:  e.Metadata.clone(),
				Embedding: vec,
				Content:   e.Metadata[KeyFullText],
			}
		}
		return col.AddDocuments(ctx, docs, 1)
	})
}

func (c *ChromemIndex) Query(ctx context.Context, vector []float32, topN int, filter Metadata) ([]Match, error) {
	if err := validateQuery(vector, c.cfg.Dimension); err != nil {
		return nil, err
	}
	col, err := c.ready()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the candidate set, so filtered
	// queries rank the whole collection and filter afterwards.
	count := col.Count()
	if count == 0 || topN <= 0 {
		return nil, nil
	}
	nResults := topN
	if len(filter) > 0 || nResults > count {
		nResults = count
	}

	results, err := col.QueryEmbedding(ctx, vector, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		md := Metadata(r.Metadata)
		if !md.matches(filter) {
			continue
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			Metadata: md.clone(),
		})
	}
	return topK(matches, topN), nil
}

func (c *ChromemIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	col, err := c.ready()
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{KeyDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("chromem delete failed: %w", err)
	}
	return nil
}
