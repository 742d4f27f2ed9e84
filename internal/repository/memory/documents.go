package memory

import (
	"context"
	"slices"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/pagination"
	"github.com/cloo-solutions/medindex/internal/service"
)

// DocumentRepository is the in-memory service.DocumentRepository.
type DocumentRepository struct {
	view
}

func (r *DocumentRepository) Create(_ context.Context, d *domain.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.data().documents[d.ID]; ok {
		return domain.ErrDocumentAlreadyExists
	}
	r.data().documents[d.ID] = copyDocument(*d)
	return nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.data().documents[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	out := copyDocument(d)
	return &out, nil
}

func (r *DocumentRepository) GetByIDs(_ context.Context, ids []string) (map[string]*domain.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[string]*domain.Document, len(ids))
	for _, id := range ids {
		if d, ok := r.data().documents[id]; ok {
			c := copyDocument(d)
			out[id] = &c
		}
	}
	return out, nil
}

// List orders by created_at then id, newest first.
func (r *DocumentRepository) List(_ context.Context, filter service.DocumentListFilter, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	r.s.mu.RLock()
	var docs []domain.Document
	for _, d := range r.data().documents {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		docs = append(docs, copyDocument(d))
	}
	r.s.mu.RUnlock()

	slices.SortFunc(docs, func(a, b domain.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	items := make([]*domain.Document, 0, limit+1)
	for i := range docs {
		d := &docs[i]
		if cursor != nil && !before(d, cursor) {
			continue
		}
		items = append(items, d)
		if len(items) > limit {
			break
		}
	}

	result := &service.DocumentPageResult{}
	if len(items) > limit {
		result.HasMore = true
		items = items[:limit]
		last := items[len(items)-1]
		result.NextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}
	result.Items = items
	return result, nil
}

// before reports whether d sorts after the cursor position.
func before(d *domain.Document, c *pagination.Cursor) bool {
	if !d.CreatedAt.Equal(c.Timestamp) {
		return d.CreatedAt.Before(c.Timestamp)
	}
	return d.ID < c.LastID
}

func (r *DocumentRepository) SearchableIDs(_ context.Context, filter service.SearchFilters) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var ids []string
	for id, d := range r.data().documents {
		if d.Searchable() && filter.Matches(&d) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *DocumentRepository) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, lastError string) error {
	if !domain.IsValidDocumentStatus(status) {
		return domain.ErrInvalidDocumentStatus
	}
	return r.update(id, func(d *domain.Document) {
		d.Status = status
		d.LastError = lastError
	})
}

func (r *DocumentRepository) Reset(_ context.Context, id string) error {
	return r.update(id, func(d *domain.Document) {
		d.Status = domain.DocumentStatusQueued
		d.LastError = ""
		d.DeactivatedAt = nil
	})
}

func (r *DocumentRepository) Deactivate(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(d *domain.Document) {
		if d.DeactivatedAt == nil {
			d.DeactivatedAt = &at
		}
	})
}

// Delete removes a document and everything it owns.
func (r *DocumentRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.data().documents[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(r.data().documents, id)
	delete(r.data().blobs, id)
	for chunkID, c := range r.data().chunks {
		if c.DocumentID == id {
			delete(r.data().chunks, chunkID)
		}
	}
	for key, e := range r.data().embeddings {
		if e.DocumentID == id {
			delete(r.data().embeddings, key)
		}
	}
	for jobID, j := range r.data().jobs {
		if j.DocumentID == id {
			delete(r.data().jobs, jobID)
		}
	}
	r.data().records = slices.DeleteFunc(r.data().records, func(rec domain.FeedbackRecord) bool {
		return rec.DocumentID == id
	})
	delete(r.data().weights, id)
	return nil
}

func (r *DocumentRepository) update(id string, fn func(d *domain.Document)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.data().documents[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	fn(&d)
	d.UpdatedAt = r.s.now()
	r.data().documents[id] = d
	return nil
}

func copyDocument(d domain.Document) domain.Document {
	if d.PublishedAt != nil {
		t := *d.PublishedAt
		d.PublishedAt = &t
	}
	if d.DeactivatedAt != nil {
		t := *d.DeactivatedAt
		d.DeactivatedAt = &t
	}
	return d
}
