package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/ranking"
	"github.com/cloo-solutions/medindex/internal/telemetry"
)

const (
	DefaultTopK = 10
	MaxTopK     = 100
)

// QueryEmbedder embeds a search query with the same model as the chunks.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Synthesizer writes an answer from ranked passages.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, passages []string) (string, error)
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultAlpha        float64
	CandidateMultiplier int
}

// SearchInput is a retrieval request. A nil Alpha uses the configured default.
type SearchInput struct {
	Query   string
	TopK    int
	Alpha   *float64
	Filters SearchFilters
}

// SearchResult is one ranked chunk.
type SearchResult struct {
	ChunkID        string
	DocumentID     string
	Title          string
	SourceURI      string
	Text           string
	Score          float64
	Similarity     float64
	Lexical        float64
	Freshness      float64
	FeedbackWeight float64
	Outdated       bool
	PublishedAt    *time.Time
}

// SearchOutput holds ranked results. Degraded is set when vector retrieval
// failed and results are ranked by lexical relevance only.
type SearchOutput struct {
	Results  []SearchResult
	Alpha    float64
	Degraded bool
}

// SearchService answers retrieval queries over the vector index and the
// lexical chunk search.
type SearchService struct {
	docs     DocumentRepository
	chunks   ChunkRepository
	feedback FeedbackRepository
	index    VectorIndex
	embedder QueryEmbedder
	synth    Synthesizer
	ranker   *ranking.Ranker
	cfg      SearchConfig
}

// NewSearchService creates a new SearchService instance. synth may be nil
// when answer synthesis is not configured.
func NewSearchService(
	docs DocumentRepository,
	chunks ChunkRepository,
	feedback FeedbackRepository,
	idx VectorIndex,
	embedder QueryEmbedder,
	synth Synthesizer,
	cfg SearchConfig,
) *SearchService {
	if cfg.CandidateMultiplier == 0 {
		cfg.CandidateMultiplier = ranking.DefaultCandidateMultiplier
	}
	return &SearchService{
		docs:     docs,
		chunks:   chunks,
		feedback: feedback,
		index:    idx,
		embedder: embedder,
		synth:    synth,
		ranker:   ranking.NewRanker(nil),
		cfg:      cfg,
	}
}

// Search ranks chunks for the query. When the query cannot be embedded it
// falls back to lexical-only ranking; when lexical search fails too it
// returns ErrRetrievalUnavailable.
func (s *SearchService) Search(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}

	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		Category:  input.Filters.Category,
		Operation: "search",
	})
	defer span.End()

	topK := input.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	alpha := s.cfg.DefaultAlpha
	if input.Alpha != nil {
		alpha = *input.Alpha
	}
	alpha = ranking.ClampAlpha(alpha)
	pool := ranking.CandidatePool(topK, s.cfg.CandidateMultiplier)

	keep, err := s.keepFunc(ctx, input.Filters)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	out := &SearchOutput{Alpha: alpha}

	var vector []ranking.Candidate
	if alpha > 0 {
		vector, err = s.vectorCandidates(ctx, query, pool, keep)
		if err != nil {
			log.Printf("search: vector retrieval unavailable, falling back to lexical: %v", err)
			out.Degraded = true
			out.Alpha = 0
		}
	}

	var lexical []ranking.Candidate
	if out.Alpha < 1 {
		lexical, err = s.lexicalCandidates(ctx, query, input.Filters, pool)
		if err != nil {
			// nothing else to rank by
			if out.Degraded || out.Alpha == 0 {
				span.SetError(err)
				return nil, domain.ErrRetrievalUnavailable.WithCause(err)
			}
			// vector scores alone still rank
			log.Printf("search: lexical retrieval failed: %v", err)
		}
	}

	candidates, docs, err := s.hydrate(ctx, ranking.Merge(vector, lexical), input.Filters)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	for _, r := range s.ranker.Rank(candidates, out.Alpha, topK) {
		doc := docs[r.DocumentID]
		weight := r.FeedbackWeight
		if weight == 0 {
			weight = domain.DefaultFeedbackWeight
		}
		out.Results = append(out.Results, SearchResult{
			ChunkID:        r.ChunkID,
			DocumentID:     r.DocumentID,
			Title:          doc.Title,
			SourceURI:      doc.SourceURI,
			Text:           r.Text,
			Score:          r.Score,
			Similarity:     r.Similarity,
			Lexical:        r.Lexical,
			Freshness:      r.Freshness,
			FeedbackWeight: weight,
			Outdated:       r.Outdated,
			PublishedAt:    r.PublishedAt,
		})
	}
	span.SetCount("results", len(out.Results))
	return out, nil
}

// keepFunc restricts vector hits to documents matching filters. Without
// filters every index entry is a candidate and searchability is checked
// during hydration.
func (s *SearchService) keepFunc(ctx context.Context, filters SearchFilters) (func(string) bool, error) {
	if filters.Empty() {
		return nil, nil
	}
	ids, err := s.docs.SearchableIDs(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve search filters: %w", err)
	}
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return func(documentID string) bool {
		_, ok := allowed[documentID]
		return ok
	}, nil
}

func (s *SearchService) vectorCandidates(ctx context.Context, query string, pool int, keep func(string) bool) ([]ranking.Candidate, error) {
	if s.embedder == nil {
		return nil, errors.New("no query embedder configured")
	}
	vec, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, domain.ErrEmbeddingService.WithCause(err)
	}
	hits, err := s.index.QueryFiltered(vec, pool, keep)
	if err != nil {
		return nil, err
	}

	out := make([]ranking.Candidate, len(hits))
	for i, h := range hits {
		out[i] = ranking.Candidate{ChunkID: h.ChunkID, DocumentID: h.DocumentID, Similarity: h.Score}
	}
	return out, nil
}

func (s *SearchService) lexicalCandidates(ctx context.Context, query string, filters SearchFilters, pool int) ([]ranking.Candidate, error) {
	hits, err := s.chunks.SearchLexical(ctx, query, filters, pool)
	if err != nil {
		return nil, err
	}
	out := make([]ranking.Candidate, len(hits))
	for i, h := range hits {
		out[i] = ranking.Candidate{
			ChunkID:    h.Chunk.ID,
			DocumentID: h.Chunk.DocumentID,
			Text:       h.Chunk.Text,
			Lexical:    h.Score,
		}
	}
	return out, nil
}

// hydrate fills chunk text, publication date and feedback weight, dropping
// candidates whose document is no longer searchable.
func (s *SearchService) hydrate(ctx context.Context, candidates []ranking.Candidate, filters SearchFilters) ([]ranking.Candidate, map[string]*domain.Document, error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	var missingText []string
	docIDs := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.Text == "" {
			missingText = append(missingText, c.ChunkID)
		}
		if _, ok := seen[c.DocumentID]; !ok {
			seen[c.DocumentID] = struct{}{}
			docIDs = append(docIDs, c.DocumentID)
		}
	}

	docs, err := s.docs.GetByIDs(ctx, docIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load documents: %w", err)
	}
	var chunks map[string]domain.Chunk
	if len(missingText) > 0 {
		chunks, err = s.chunks.GetByIDs(ctx, missingText)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load chunks: %w", err)
		}
	}
	weights, err := s.feedback.Weights(ctx, docIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load feedback weights: %w", err)
	}

	out := candidates[:0]
	for _, c := range candidates {
		doc, ok := docs[c.DocumentID]
		if !ok || !doc.Searchable() || !filters.Matches(doc) {
			continue
		}
		if c.Text == "" {
			chunk, ok := chunks[c.ChunkID]
			if !ok {
				continue
			}
			c.Text = chunk.Text
		}
		c.PublishedAt = doc.PublishedAt
		c.FeedbackWeight = weights[c.DocumentID]
		out = append(out, c)
	}
	return out, docs, nil
}

// Passage is a ranked chunk cited by an answer.
type Passage struct {
	Citation int
	SearchResult
}

// AnswerOutput is a synthesized answer and the passages it was built from.
type AnswerOutput struct {
	Answer   string
	Passages []Passage
	Degraded bool
}

// NoContextAnswer is returned when no passage matched the question.
const NoContextAnswer = "The indexed literature does not contain passages relevant to this question."

// Answer searches and synthesizes an answer from the top passages.
func (s *SearchService) Answer(ctx context.Context, query string, topK int) (*AnswerOutput, error) {
	if s.synth == nil {
		return nil, domain.ErrRetrievalUnavailable.WithCause(errors.New("answer synthesis is not configured"))
	}

	ctx, span := telemetry.StartSpan(ctx, "SearchService.Answer", telemetry.SpanAttributes{
		Operation: "answer",
	})
	defer span.End()

	found, err := s.Search(ctx, SearchInput{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}

	out := &AnswerOutput{Degraded: found.Degraded}
	if len(found.Results) == 0 {
		out.Answer = NoContextAnswer
		return out, nil
	}

	texts := make([]string, len(found.Results))
	for i, r := range found.Results {
		texts[i] = r.Text
		out.Passages = append(out.Passages, Passage{Citation: i + 1, SearchResult: r})
	}

	answer, err := s.synth.Synthesize(ctx, query, texts)
	if err != nil {
		span.SetError(err)
		return nil, domain.ErrRetrievalUnavailable.WithCause(err)
	}
	out.Answer = answer
	return out, nil
}
