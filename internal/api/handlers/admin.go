package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/medindex/internal/api"
	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/jobs"
	"github.com/go-chi/chi/v5"
)

type IndexAdmin interface {
	IndexStats() index.Stats
	CompactIndex() index.Stats
	ListDeadLetters(ctx context.Context, limit int) ([]*domain.IngestionJob, error)
	Redrive(ctx context.Context, jobID string) (*domain.IngestionJob, error)
}

type IntegrityChecker interface {
	Check(ctx context.Context) (jobs.Report, error)
	Rebuild(ctx context.Context) (jobs.Report, error)
}

type FeedSyncer interface {
	Sync(ctx context.Context) (jobs.SyncResult, error)
}

type AdminHandler struct {
	admin     IndexAdmin
	integrity IntegrityChecker
	feed      FeedSyncer
}

// NewAdminHandler creates an AdminHandler. feed may be nil when no
// literature feed is configured.
func NewAdminHandler(admin IndexAdmin, integrity IntegrityChecker, feed FeedSyncer) *AdminHandler {
	return &AdminHandler{admin: admin, integrity: integrity, feed: feed}
}

type IndexStatsResponse struct {
	Generation uint64 `json:"generation"`
	Active     int    `json:"active"`
	Inactive   int    `json:"inactive"`
	Dimension  int    `json:"dimension"`
}

type IntegrityReportResponse struct {
	OK          bool     `json:"ok"`
	IndexActive int      `json:"index_active"`
	Expected    int      `json:"expected"`
	Drift       int      `json:"drift"`
	Issues      []string `json:"issues"`
	Rebuilt     bool     `json:"rebuilt"`
	Generation  uint64   `json:"generation"`
	CheckedAt   string   `json:"checked_at"`
}

type JobResponse struct {
	ID           string  `json:"id"`
	DocumentID   string  `json:"document_id"`
	State        string  `json:"state"`
	AttemptCount int     `json:"attempt_count"`
	LastError    string  `json:"last_error,omitempty"`
	EnqueuedAt   string  `json:"enqueued_at"`
	ClaimedAt    *string `json:"claimed_at,omitempty"`
	UpdatedAt    string  `json:"updated_at"`
}

type FeedSyncResponse struct {
	Fetched    int `json:"fetched"`
	Submitted  int `json:"submitted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

func statsToResponse(s index.Stats) IndexStatsResponse {
	return IndexStatsResponse{
		Generation: s.Generation,
		Active:     s.Active,
		Inactive:   s.Inactive,
		Dimension:  s.Dimension,
	}
}

func reportToResponse(r jobs.Report) IntegrityReportResponse {
	issues := r.Issues
	if issues == nil {
		issues = []string{}
	}
	return IntegrityReportResponse{
		OK:          r.OK,
		IndexActive: r.IndexActive,
		Expected:    r.Expected,
		Drift:       r.Drift,
		Issues:      issues,
		Rebuilt:     r.Rebuilt,
		Generation:  r.Generation,
		CheckedAt:   formatTime(r.CheckedAt),
	}
}

func jobToResponse(j *domain.IngestionJob) JobResponse {
	return JobResponse{
		ID:           j.ID,
		DocumentID:   j.DocumentID,
		State:        string(j.State),
		AttemptCount: j.AttemptCount,
		LastError:    j.LastError,
		EnqueuedAt:   formatTime(j.EnqueuedAt),
		ClaimedAt:    formatTimePtr(j.ClaimedAt),
		UpdatedAt:    formatTime(j.UpdatedAt),
	}
}

func (h *AdminHandler) IndexStats(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, statsToResponse(h.admin.IndexStats()))
}

func (h *AdminHandler) CompactIndex(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, statsToResponse(h.admin.CompactIndex()))
}

func (h *AdminHandler) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.integrity.Check(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, reportToResponse(report))
}

func (h *AdminHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	report, err := h.integrity.Rebuild(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, reportToResponse(report))
}

func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	dead, err := h.admin.ListDeadLetters(r.Context(), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]JobResponse, 0, len(dead))
	for _, j := range dead {
		resp = append(resp, jobToResponse(j))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *AdminHandler) Redrive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.admin.Redrive(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, jobToResponse(job))
}

func (h *AdminHandler) SyncFeed(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		api.Error(w, http.StatusNotImplemented, "literature feed is not configured")
		return
	}

	result, err := h.feed.Sync(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, FeedSyncResponse{
		Fetched:    result.Fetched,
		Submitted:  result.Submitted,
		Duplicates: result.Duplicates,
		Failed:     result.Failed,
	})
}
