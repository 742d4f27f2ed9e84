// Package ranking scores retrieval candidates by blending vector similarity,
// lexical relevance, freshness and feedback.
package ranking

import (
	"sort"
	"time"
)

const (
	// DefaultAlpha weights vector similarity against lexical relevance.
	DefaultAlpha = 0.5
	// DefaultCandidateMultiplier is how many candidates are retrieved per requested result.
	DefaultCandidateMultiplier = 3

	minCandidateMultiplier = 2
	maxCandidateMultiplier = 4
	defaultFeedbackWeight  = 1.0
)

// Candidate is a chunk retrieved by the vector index, lexical search or both.
type Candidate struct {
	ChunkID     string
	DocumentID  string
	Text        string
	Similarity  float64
	Lexical     float64
	PublishedAt *time.Time
	// FeedbackWeight of the owning document; zero means no feedback.
	FeedbackWeight float64
}

// Result is a ranked candidate.
type Result struct {
	Candidate
	Score     float64
	Freshness float64
	Outdated  bool
}

// Ranker orders candidates. It is stateless apart from its clock.
type Ranker struct {
	now func() time.Time
}

// NewRanker creates a Ranker. A nil clock uses time.Now.
func NewRanker(now func() time.Time) *Ranker {
	if now == nil {
		now = time.Now
	}
	return &Ranker{now: now}
}

// ClampAlpha limits alpha to [0, 1].
func ClampAlpha(alpha float64) float64 {
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	}
	return alpha
}

// CandidatePool returns how many candidates to retrieve for limit results.
func CandidatePool(limit, multiplier int) int {
	if multiplier < minCandidateMultiplier || multiplier > maxCandidateMultiplier {
		multiplier = DefaultCandidateMultiplier
	}
	return limit * multiplier
}

// Rank scores candidates as
//
//	(alpha*similarity + (1-alpha)*lexical) * freshness * feedback
//
// and returns the best limit of them. Lexical scores are normalised by the
// largest lexical score in the set.
func (r *Ranker) Rank(candidates []Candidate, alpha float64, limit int) []Result {
	if len(candidates) == 0 || limit <= 0 {
		return nil
	}
	alpha = ClampAlpha(alpha)
	now := r.now()

	maxLexical := 0.0
	for _, c := range candidates {
		if c.Lexical > maxLexical {
			maxLexical = c.Lexical
		}
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		similarity := max(c.Similarity, 0)
		lexical := 0.0
		if maxLexical > 0 {
			lexical = max(c.Lexical, 0) / maxLexical
		}
		feedback := c.FeedbackWeight
		if feedback == 0 {
			feedback = defaultFeedbackWeight
		}
		freshness, outdated := Freshness(c.PublishedAt, now)

		results[i] = Result{
			Candidate: c,
			Score:     (alpha*similarity + (1-alpha)*lexical) * freshness * feedback,
			Freshness: freshness,
			Outdated:  outdated,
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return less(results[i], results[j])
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	switch {
	case a.PublishedAt != nil && b.PublishedAt == nil:
		return true
	case a.PublishedAt == nil && b.PublishedAt != nil:
		return false
	case a.PublishedAt != nil && !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.After(*b.PublishedAt)
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	return a.ChunkID < b.ChunkID
}

// Merge combines vector and lexical candidate lists by chunk ID.
func Merge(vector, lexical []Candidate) []Candidate {
	pos := make(map[string]int, len(vector)+len(lexical))
	out := make([]Candidate, 0, len(vector)+len(lexical))
	for _, c := range vector {
		pos[c.ChunkID] = len(out)
		out = append(out, c)
	}
	for _, c := range lexical {
		if i, ok := pos[c.ChunkID]; ok {
			out[i].Lexical = c.Lexical
			if out[i].Text == "" {
				out[i].Text = c.Text
			}
			continue
		}
		pos[c.ChunkID] = len(out)
		out = append(out, c)
	}
	return out
}
