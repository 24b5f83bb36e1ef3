package domain

import (
	"fmt"
	"time"
)

// ReferenceDocument is a user-supplied document indexed for retrieval.
type ReferenceDocument struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	ChunkIDs     []string  `json:"chunk_ids"`
	ChunkCount   int       `json:"chunk_count"`
	SkippedCount int       `json:"skipped_count"`
	Processed    bool      `json:"processed"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chunk is a window of reference text with its embedding.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// ChunkID builds the stable identifier of the i-th chunk of a document.
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, i)
}
