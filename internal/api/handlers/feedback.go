package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/medindex/internal/api"
	"github.com/cloo-solutions/medindex/internal/service"
)

type FeedbackSubmitter interface {
	Submit(ctx context.Context, input service.FeedbackInput) (float64, error)
}

type FeedbackHandler struct {
	feedback FeedbackSubmitter
}

func NewFeedbackHandler(feedback FeedbackSubmitter) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

type FeedbackRequest struct {
	DocumentID   string `json:"document_id" validate:"required"`
	Rating       int    `json:"rating" validate:"required,min=1,max=5"`
	QueryContext string `json:"query_context" validate:"max=4096"`
}

type FeedbackResponse struct {
	DocumentID string  `json:"document_id"`
	Weight     float64 `json:"weight"`
}

func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	weight, err := h.feedback.Submit(r.Context(), service.FeedbackInput{
		DocumentID:   req.DocumentID,
		Rating:       req.Rating,
		QueryContext: req.QueryContext,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, FeedbackResponse{DocumentID: req.DocumentID, Weight: weight})
}
