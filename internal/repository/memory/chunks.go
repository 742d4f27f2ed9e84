package memory

import (
	"context"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/service"
)

// ChunkRepository is the in-memory service.ChunkRepository.
type ChunkRepository struct {
	view
}

func (r *ChunkRepository) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	keep := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = struct{}{}
	}
	for id, c := range r.data().chunks {
		if c.DocumentID != documentID {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(r.data().chunks, id)
			for key := range r.data().embeddings {
				if key.chunkID == id {
					delete(r.data().embeddings, key)
				}
			}
		}
	}
	for _, c := range chunks {
		if existing, ok := r.data().chunks[c.ID]; ok {
			c.CreatedAt = existing.CreatedAt
		}
		r.data().chunks[c.ID] = c
	}
	return nil
}

func (r *ChunkRepository) ListByDocument(_ context.Context, documentID string) ([]domain.Chunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Chunk
	for _, c := range r.data().chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Chunk) int { return a.Ordinal - b.Ordinal })
	return out, nil
}

func (r *ChunkRepository) GetByIDs(_ context.Context, ids []string) (map[string]domain.Chunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[string]domain.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := r.data().chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (r *ChunkRepository) CountIndexed(_ context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, c := range r.data().chunks {
		if d, ok := r.data().documents[c.DocumentID]; ok && d.Searchable() {
			n++
		}
	}
	return n, nil
}

// SearchLexical scores chunks by query term frequency, damped by chunk length.
func (r *ChunkRepository) SearchLexical(_ context.Context, query string, filter service.SearchFilters, limit int) ([]*service.LexicalHit, error) {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || limit <= 0 {
		return nil, nil
	}

	r.s.mu.RLock()
	var hits []*service.LexicalHit
	for _, c := range r.data().chunks {
		d, ok := r.data().documents[c.DocumentID]
		if !ok || !d.Searchable() || !filter.Matches(&d) {
			continue
		}
		words := tokenize(c.Text)
		if len(words) == 0 {
			continue
		}
		freq := make(map[string]int, len(words))
		for _, w := range words {
			freq[w]++
		}
		matched := 0
		for _, t := range queryTerms {
			matched += freq[t]
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, &service.LexicalHit{Chunk: c, Score: float64(matched) / math.Sqrt(float64(len(words)))})
	}
	r.s.mu.RUnlock()

	slices.SortFunc(hits, func(a, b *service.LexicalHit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Chunk.ID, b.Chunk.ID)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
