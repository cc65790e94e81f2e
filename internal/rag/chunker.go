package rag

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var ErrInvalidChunkConfig = errors.New("invalid chunk config")

// Chunk is a window of words cut from a document. StartIndex and EndIndex are
// word offsets, EndIndex exclusive.
type Chunk struct {
	Text       string `json:"text"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

// Chunker splits text into overlapping word windows.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if err := ValidateWindow(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Chunk(text string) []Chunk {
	chunks, _ := ChunkWords(text, c.size, c.overlap)
	return chunks
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// ValidateWindow rejects windows that cannot advance.
func ValidateWindow(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunkConfig, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidChunkConfig, overlap)
	}
	if size <= overlap {
		return fmt.Errorf("%w: chunk size %d must exceed overlap %d", ErrInvalidChunkConfig, size, overlap)
	}
	return nil
}

// ChunkWords windows text starting at word offsets 0, stride, 2*stride, ...
// where stride = size - overlap. Each window covers [start, min(start+size, n)).
func ChunkWords(text string, size, overlap int) ([]Chunk, error) {
	if err := ValidateWindow(size, overlap); err != nil {
		return nil, err
	}
	words := strings.Fields(text)
	stride := size - overlap

	var chunks []Chunk
	for start := 0; start < len(words); start += stride {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		joined := strings.Join(words[start:end], " ")
		if strings.TrimSpace(joined) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Text:       joined,
			StartIndex: start,
			EndIndex:   end,
		})
	}
	return chunks, nil
}
