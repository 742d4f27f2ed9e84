package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// chunkNamespace seeds deterministic chunk identifiers.
var chunkNamespace = uuid.MustParse("8d6c1f0e-51a4-4f55-9b8e-3f1f4c2e7a10")

// Chunk is a bounded text window of a document, the unit of embedding and retrieval.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	TokenCount int
	CreatedAt  time.Time
}

// ChunkID derives a stable identifier from the owning document, ordinal and text
// so re-ingesting identical content yields identical chunk IDs.
func ChunkID(documentID string, ordinal int, text string) string {
	name := documentID + "\x00" + strconv.Itoa(ordinal) + "\x00" + text
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// NewChunk creates a Chunk with a deterministic ID.
func NewChunk(documentID string, ordinal int, text string, tokenCount int, createdAt time.Time) Chunk {
	return Chunk{
		ID:         ChunkID(documentID, ordinal, text),
		DocumentID: documentID,
		Ordinal:    ordinal,
		Text:       text,
		TokenCount: tokenCount,
		CreatedAt:  createdAt,
	}
}
