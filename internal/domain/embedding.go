package domain

import "time"

// Embedding is the vector representation of one chunk for one model version.
// Embeddings are never edited; a new model version produces a new record and
// retires the previous one.
type Embedding struct {
	ChunkID      string
	DocumentID   string
	Vector       []float32
	ModelVersion string
	CreatedAt    time.Time
	RetiredAt    *time.Time
}

// IndexEntry is the materialized row held by the vector index.
type IndexEntry struct {
	Vector     []float32
	ChunkID    string
	DocumentID string
	Active     bool
}

// EntryFromEmbedding projects an embedding into an active index entry.
func EntryFromEmbedding(e Embedding) IndexEntry {
	return IndexEntry{
		Vector:     e.Vector,
		ChunkID:    e.ChunkID,
		DocumentID: e.DocumentID,
		Active:     true,
	}
}
