package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/cloo-solutions/medindex/internal/domain"
)

// EmbeddingRepository is the in-memory service.EmbeddingRepository.
type EmbeddingRepository struct {
	view
}

func (r *EmbeddingRepository) Save(_ context.Context, embeddings []domain.Embedding) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	for _, e := range embeddings {
		if _, ok := r.data().chunks[e.ChunkID]; !ok {
			return domain.ErrMissingRequiredField.WithCause(errUnknownChunk(e.ChunkID))
		}
		key := embeddingKey{chunkID: e.ChunkID, model: e.ModelVersion}
		if _, ok := r.data().embeddings[key]; ok {
			continue
		}
		e.Vector = slices.Clone(e.Vector)
		e.RetiredAt = nil
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		r.data().embeddings[key] = e

		for k, other := range r.data().embeddings {
			if k.chunkID == e.ChunkID && k.model != e.ModelVersion && k.serial == 0 {
				retired := now
				other.RetiredAt = &retired
				delete(r.data().embeddings, k)
				k.serial = r.s.seq.Add(1)
				r.data().embeddings[k] = other
			}
		}
	}
	return nil
}

func (r *EmbeddingRepository) ByChunkIDs(_ context.Context, chunkIDs []string, model string) (map[string]domain.Embedding, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[string]domain.Embedding, len(chunkIDs))
	for _, id := range chunkIDs {
		if e, ok := r.data().embeddings[embeddingKey{chunkID: id, model: model}]; ok && e.RetiredAt == nil {
			out[id] = e
		}
	}
	return out, nil
}

func (r *EmbeddingRepository) ListIndexed(_ context.Context, model string) ([]domain.Embedding, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Embedding
	for key, e := range r.data().embeddings {
		if key.model != model || e.RetiredAt != nil {
			continue
		}
		c, ok := r.data().chunks[key.chunkID]
		if !ok {
			continue
		}
		if d, ok := r.data().documents[c.DocumentID]; ok && d.Searchable() {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b domain.Embedding) int { return strings.Compare(a.ChunkID, b.ChunkID) })
	return out, nil
}

type errUnknownChunk string

func (e errUnknownChunk) Error() string { return "unknown chunk " + string(e) }
