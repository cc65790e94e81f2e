package model

import (
	"encoding/json"
	"time"
)

// VectorEntry backs the MySQL vector index. Embedding and Metadata are JSON.
type VectorEntry struct {
	ID         string    `gorm:"primaryKey;size:191" json:"id"`
	DocumentID string    `gorm:"size:191;not null;index" json:"document_id"`
	ChunkIndex int       `gorm:"not null" json:"chunk_index"`
	Metadata   string    `gorm:"type:longtext" json:"-"`
	Embedding  string    `gorm:"type:longtext" json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EmbeddingVector returns the parsed embedding; nil on parse error.
func (e *VectorEntry) EmbeddingVector() []float32 {
	if e.Embedding == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(e.Embedding), &v); err != nil {
		return nil
	}
	return v
}

func (e *VectorEntry) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		e.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	e.Embedding = string(b)
}

func (e *VectorEntry) MetadataMap() map[string]string {
	m := map[string]string{}
	if e.Metadata != "" {
		_ = json.Unmarshal([]byte(e.Metadata), &m)
	}
	return m
}

func (e *VectorEntry) SetMetadata(m map[string]string) {
	b, _ := json.Marshal(m)
	e.Metadata = string(b)
}
