package memory

import (
	"context"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/feedback"
)

// FeedbackRepository is the in-memory feedback.Store. Updates to one
// document's weight are serialised by a per-document lock.
type FeedbackRepository struct {
	view
}

var _ feedback.Store = (*FeedbackRepository)(nil)

func (r *FeedbackRepository) Record(_ context.Context, record *domain.FeedbackRecord) (float64, error) {
	if err := domain.ValidateFeedbackRecord(record); err != nil {
		return 0, err
	}

	unlock := r.s.keyed.Lock(record.DocumentID)
	defer unlock()

	r.s.mu.RLock()
	_, exists := r.data().documents[record.DocumentID]
	old, ok := r.data().weights[record.DocumentID]
	r.s.mu.RUnlock()
	if !exists {
		return 0, domain.ErrDocumentNotFound
	}
	if !ok {
		old = domain.DefaultFeedbackWeight
	}

	next, err := feedback.Apply(old, record.Rating)
	if err != nil {
		return 0, err
	}

	r.s.mu.Lock()
	r.data().records = append(r.data().records, *record)
	r.data().weights[record.DocumentID] = next
	r.s.mu.Unlock()
	return next, nil
}

func (r *FeedbackRepository) Weight(_ context.Context, documentID string) (float64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if w, ok := r.data().weights[documentID]; ok {
		return w, nil
	}
	return domain.DefaultFeedbackWeight, nil
}

func (r *FeedbackRepository) Weights(_ context.Context, documentIDs []string) (map[string]float64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[string]float64, len(documentIDs))
	for _, id := range documentIDs {
		if w, ok := r.data().weights[id]; ok {
			out[id] = w
		} else {
			out[id] = domain.DefaultFeedbackWeight
		}
	}
	return out, nil
}

// Records returns the feedback log of a document, oldest first.
func (r *FeedbackRepository) Records(documentID string) []domain.FeedbackRecord {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.FeedbackRecord
	for _, rec := range r.data().records {
		if rec.DocumentID == documentID {
			out = append(out, rec)
		}
	}
	return out
}
