package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cloo-solutions/medindex/internal/api"
	"github.com/cloo-solutions/medindex/internal/service"
)

type Searcher interface {
	Search(ctx context.Context, input service.SearchInput) (*service.SearchOutput, error)
	Answer(ctx context.Context, query string, topK int) (*service.AnswerOutput, error)
}

type SearchHandler struct {
	search Searcher
}

func NewSearchHandler(search Searcher) *SearchHandler {
	return &SearchHandler{search: search}
}

type SearchRequest struct {
	Query          string     `json:"query" validate:"required,max=4096"`
	TopK           int        `json:"top_k" validate:"gte=0,lte=100"`
	Alpha          *float64   `json:"alpha" validate:"omitempty,gte=0,lte=1"`
	Category       string     `json:"category" validate:"max=128"`
	DocumentIDs    []string   `json:"document_ids" validate:"omitempty,max=100,dive,required"`
	PublishedAfter *time.Time `json:"published_after"`
}

type SearchResultResponse struct {
	ChunkID        string  `json:"chunk_id"`
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title,omitempty"`
	SourceURI      string  `json:"source_uri"`
	Text           string  `json:"text"`
	Score          float64 `json:"score"`
	Similarity     float64 `json:"similarity"`
	Lexical        float64 `json:"lexical"`
	Freshness      float64 `json:"freshness"`
	FeedbackWeight float64 `json:"feedback_weight"`
	Outdated       bool    `json:"outdated"`
	PublishedAt    *string `json:"published_at,omitempty"`
}

type SearchResponse struct {
	Results  []SearchResultResponse `json:"results"`
	Alpha    float64                `json:"alpha"`
	Degraded bool                   `json:"degraded"`
}

type AnswerRequest struct {
	Query string `json:"query" validate:"required,max=4096"`
	TopK  int    `json:"top_k" validate:"gte=0,lte=20"`
}

type PassageResponse struct {
	Citation int `json:"citation"`
	SearchResultResponse
}

type AnswerResponse struct {
	Answer   string            `json:"answer"`
	Passages []PassageResponse `json:"passages"`
	Degraded bool              `json:"degraded"`
}

func resultToResponse(r service.SearchResult) SearchResultResponse {
	return SearchResultResponse{
		ChunkID:        r.ChunkID,
		DocumentID:     r.DocumentID,
		Title:          r.Title,
		SourceURI:      r.SourceURI,
		Text:           r.Text,
		Score:          r.Score,
		Similarity:     r.Similarity,
		Lexical:        r.Lexical,
		Freshness:      r.Freshness,
		FeedbackWeight: r.FeedbackWeight,
		Outdated:       r.Outdated,
		PublishedAt:    formatTimePtr(r.PublishedAt),
	}
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.search.Search(r.Context(), service.SearchInput{
		Query: req.Query,
		TopK:  req.TopK,
		Alpha: req.Alpha,
		Filters: service.SearchFilters{
			Category:       req.Category,
			DocumentIDs:    req.DocumentIDs,
			PublishedAfter: req.PublishedAfter,
		},
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := SearchResponse{
		Results:  make([]SearchResultResponse, 0, len(out.Results)),
		Alpha:    out.Alpha,
		Degraded: out.Degraded,
	}
	for _, res := range out.Results {
		resp.Results = append(resp.Results, resultToResponse(res))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *SearchHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.search.Answer(r.Context(), req.Query, req.TopK)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := AnswerResponse{
		Answer:   out.Answer,
		Passages: make([]PassageResponse, 0, len(out.Passages)),
		Degraded: out.Degraded,
	}
	for _, p := range out.Passages {
		resp.Passages = append(resp.Passages, PassageResponse{
			Citation:             p.Citation,
			SearchResultResponse: resultToResponse(p.SearchResult),
		})
	}
	api.Success(w, http.StatusOK, resp)
}
