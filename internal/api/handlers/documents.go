package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/medindex/internal/api"
	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/go-chi/chi/v5"
)

type DocumentIngester interface {
	Submit(ctx context.Context, input service.SubmitInput) (*service.SubmitResult, error)
	Reingest(ctx context.Context, documentID string) (*domain.IngestionJob, error)
}

type DocumentManager interface {
	Get(ctx context.Context, id string) (*service.DocumentDetail, error)
	Chunks(ctx context.Context, id string) ([]domain.Chunk, error)
	List(ctx context.Context, input service.ListDocumentsInput) (*service.DocumentPageResult, error)
	Deactivate(ctx context.Context, id string) (int, error)
	Purge(ctx context.Context, id string) error
}

// DownloadURLGenerator presigns raw document downloads. It is only available
// when raw documents are kept in S3.
type DownloadURLGenerator interface {
	DownloadURL(ctx context.Context, documentID string) (string, error)
}

type DocumentHandler struct {
	ingest    DocumentIngester
	docs      DocumentManager
	downloads DownloadURLGenerator
}

// NewDocumentHandler creates a DocumentHandler. downloads may be nil.
func NewDocumentHandler(ingest DocumentIngester, docs DocumentManager, downloads DownloadURLGenerator) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, docs: docs, downloads: downloads}
}

type SubmitDocumentRequest struct {
	Content       string     `json:"content" validate:"required_without=ContentBase64"`
	ContentBase64 string     `json:"content_base64" validate:"omitempty,base64"`
	SourceURI     string     `json:"source_uri" validate:"required,max=2048"`
	Title         string     `json:"title" validate:"max=512"`
	Category      string     `json:"category" validate:"required,max=128"`
	ContentType   string     `json:"content_type" validate:"max=255"`
	PublishedAt   *time.Time `json:"published_at"`
}

type SubmitDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Created    bool   `json:"created"`
}

type DocumentResponse struct {
	ID             string  `json:"id"`
	SourceURI      string  `json:"source_uri"`
	Title          string  `json:"title,omitempty"`
	Category       string  `json:"category"`
	ContentType    string  `json:"content_type,omitempty"`
	Status         string  `json:"status"`
	LastError      string  `json:"last_error,omitempty"`
	PublishedAt    *string `json:"published_at,omitempty"`
	DeactivatedAt  *string `json:"deactivated_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	ChunkCount     *int    `json:"chunk_count,omitempty"`
	FeedbackWeight float64 `json:"feedback_weight,omitempty"`
}

type ListDocumentsResponse struct {
	Items      []*DocumentResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
	HasMore    bool                `json:"has_more"`
}

type ChunkResponse struct {
	ID         string `json:"id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

type ReingestResponse struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

type DeactivateResponse struct {
	DocumentID         string `json:"document_id"`
	EntriesDeactivated int    `json:"entries_deactivated"`
}

type DownloadURLResponse struct {
	DownloadURL string `json:"download_url"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:            d.ID,
		SourceURI:     d.SourceURI,
		Title:         d.Title,
		Category:      d.Category,
		ContentType:   d.ContentType,
		Status:        string(d.Status),
		LastError:     d.LastError,
		PublishedAt:   formatTimePtr(d.PublishedAt),
		DeactivatedAt: formatTimePtr(d.DeactivatedAt),
		CreatedAt:     formatTime(d.CreatedAt),
		UpdatedAt:     formatTime(d.UpdatedAt),
	}
}

// Submit accepts either a JSON body or a multipart upload with a "file" part.
func (h *DocumentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var (
		input service.SubmitInput
		ok    bool
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		input, ok = submitInputFromMultipart(w, r)
	} else {
		input, ok = submitInputFromJSON(w, r)
	}
	if !ok {
		return
	}

	result, err := h.ingest.Submit(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusAccepted
	if !result.Created {
		status = http.StatusOK
	}
	api.Success(w, status, SubmitDocumentResponse{
		DocumentID: result.DocumentID,
		Status:     string(result.Status),
		Created:    result.Created,
	})
}

func submitInputFromJSON(w http.ResponseWriter, r *http.Request) (service.SubmitInput, bool) {
	var req SubmitDocumentRequest
	if !decodeJSON(w, r, &req) {
		return service.SubmitInput{}, false
	}

	raw := []byte(req.Content)
	contentType := req.ContentType
	if req.ContentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "content_base64 is not valid base64")
			return service.SubmitInput{}, false
		}
		raw = decoded
	} else if contentType == "" {
		contentType = "text/plain"
	}

	return service.SubmitInput{
		Raw:         raw,
		SourceURI:   req.SourceURI,
		Title:       req.Title,
		Category:    req.Category,
		ContentType: contentType,
		PublishedAt: req.PublishedAt,
	}, true
}

type multipartFields struct {
	SourceURI string `json:"source_uri" validate:"required,max=2048"`
	Title     string `json:"title" validate:"max=512"`
	Category  string `json:"category" validate:"required,max=128"`
}

func submitInputFromMultipart(w http.ResponseWriter, r *http.Request) (service.SubmitInput, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			api.Error(w, http.StatusBadRequest, "invalid multipart form")
		}
		return service.SubmitInput{}, false
	}

	fields := multipartFields{
		SourceURI: r.FormValue("source_uri"),
		Title:     r.FormValue("title"),
		Category:  r.FormValue("category"),
	}
	if !validateStruct(w, &fields) {
		return service.SubmitInput{}, false
	}

	var publishedAt *time.Time
	if v := r.FormValue("published_at"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "published_at must be RFC 3339 or YYYY-MM-DD")
			return service.SubmitInput{}, false
		}
		publishedAt = &t
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return service.SubmitInput{}, false
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read file")
		return service.SubmitInput{}, false
	}

	title := fields.Title
	if title == "" {
		title = header.Filename
	}
	return service.SubmitInput{
		Raw:         raw,
		SourceURI:   fields.SourceURI,
		Title:       title,
		Category:    fields.Category,
		ContentType: header.Header.Get("Content-Type"),
		PublishedAt: publishedAt,
	}, true
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	detail, err := h.docs.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := documentToResponse(detail.Document)
	resp.ChunkCount = &detail.ChunkCount
	resp.FeedbackWeight = detail.FeedbackWeight
	api.Success(w, http.StatusOK, resp)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := service.ListDocumentsInput{
		Status:   domain.DocumentStatus(q.Get("status")),
		Category: q.Get("category"),
		Cursor:   q.Get("cursor"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		input.Limit = limit
	}

	page, err := h.docs.List(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := ListDocumentsResponse{
		Items:      make([]*DocumentResponse, 0, len(page.Items)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, d := range page.Items {
		resp.Items = append(resp.Items, documentToResponse(d))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *DocumentHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	chunks, err := h.docs.Chunks(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]ChunkResponse, len(chunks))
	for i, c := range chunks {
		resp[i] = ChunkResponse{ID: c.ID, Ordinal: c.Ordinal, Text: c.Text, TokenCount: c.TokenCount}
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *DocumentHandler) Reingest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.ingest.Reingest(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, ReingestResponse{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		Status:     string(job.State),
	})
}

func (h *DocumentHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.docs.Deactivate(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DeactivateResponse{DocumentID: id, EntriesDeactivated: n})
}

func (h *DocumentHandler) Purge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.docs.Purge(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	if h.downloads == nil {
		api.Error(w, http.StatusNotImplemented, "raw document downloads require S3 storage")
		return
	}
	id := chi.URLParam(r, "id")

	url, err := h.downloads.DownloadURL(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DownloadURLResponse{DownloadURL: url})
}
