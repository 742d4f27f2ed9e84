package domain

import (
	"fmt"
	"time"
)

const (
	MinFeedbackWeight     = 0.1
	MaxFeedbackWeight     = 2.0
	DefaultFeedbackWeight = 1.0
)

// FeedbackRecord is one user rating of a document. The log is append-only.
type FeedbackRecord struct {
	ID           string
	DocumentID   string
	Rating       int
	QueryContext string
	CreatedAt    time.Time
}

// ValidateFeedbackRecord validates a FeedbackRecord instance
func ValidateFeedbackRecord(r *FeedbackRecord) error {
	if r == nil {
		return fmt.Errorf("feedback record cannot be nil")
	}
	if r.DocumentID == "" {
		return ErrMissingRequiredField.WithCause(fmt.Errorf("document_id"))
	}
	if r.Rating < 1 || r.Rating > 5 {
		return ErrInvalidRating
	}
	return nil
}
