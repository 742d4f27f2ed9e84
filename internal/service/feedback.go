package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/telemetry"
)

// FeedbackInput is a user rating of a retrieved document.
type FeedbackInput struct {
	DocumentID   string
	Rating       int
	QueryContext string
}

// FeedbackService records ratings.
type FeedbackService struct {
	store   FeedbackRepository
	uuidGen UUIDGenerator
	now     func() time.Time
}

// NewFeedbackService creates a new FeedbackService instance
func NewFeedbackService(store FeedbackRepository) *FeedbackService {
	return &FeedbackService{
		store:   store,
		uuidGen: &DefaultUUIDGenerator{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit appends the rating and returns the document's new weight.
func (s *FeedbackService) Submit(ctx context.Context, input FeedbackInput) (float64, error) {
	ctx, span := telemetry.StartSpan(ctx, "FeedbackService.Submit", telemetry.SpanAttributes{
		DocumentID: input.DocumentID,
		Operation:  "feedback",
	})
	defer span.End()

	record := &domain.FeedbackRecord{
		ID:           s.uuidGen.NewString(),
		DocumentID:   strings.TrimSpace(input.DocumentID),
		Rating:       input.Rating,
		QueryContext: input.QueryContext,
		CreatedAt:    s.now(),
	}
	if err := domain.ValidateFeedbackRecord(record); err != nil {
		return 0, err
	}

	weight, err := s.store.Record(ctx, record)
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	return weight, nil
}

// Weight returns the current weight of a document.
func (s *FeedbackService) Weight(ctx context.Context, documentID string) (float64, error) {
	return s.store.Weight(ctx, documentID)
}
