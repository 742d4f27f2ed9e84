package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
)

// JobRepository is the in-memory service.JobRepository.
type JobRepository struct {
	view
}

func (r *JobRepository) Enqueue(_ context.Context, job *domain.IngestionJob) error {
	if err := domain.ValidateIngestionJob(job); err != nil {
		return domain.ErrMissingRequiredField.WithCause(err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, existing := range r.data().jobs {
		if existing.DocumentID != job.DocumentID {
			continue
		}
		if existing.State == domain.JobStateDeadLetter {
			delete(r.data().jobs, id)
			continue
		}
		return domain.ErrJobAlreadyQueued
	}
	r.data().jobs[job.ID] = *job
	return nil
}

func (r *JobRepository) ClaimPending(_ context.Context, limit int) ([]*domain.IngestionJob, error) {
	if limit <= 0 {
		limit = 100
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var queued []domain.IngestionJob
	for _, j := range r.data().jobs {
		if j.State == domain.JobStateQueued {
			queued = append(queued, j)
		}
	}
	slices.SortFunc(queued, func(a, b domain.IngestionJob) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(queued) > limit {
		queued = queued[:limit]
	}

	now := r.s.now()
	claimed := make([]*domain.IngestionJob, 0, len(queued))
	for _, j := range queued {
		j.State = domain.JobStateProcessing
		j.ClaimedAt = &now
		j.UpdatedAt = now
		r.data().jobs[j.ID] = j
		out := j
		claimed = append(claimed, &out)
	}
	return claimed, nil
}

func (r *JobRepository) Complete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, err := r.transition(id, domain.JobEventSucceed)
	if err != nil {
		return err
	}
	delete(r.data().jobs, j.ID)
	return nil
}

func (r *JobRepository) Requeue(_ context.Context, id string, attempts int, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, err := r.transition(id, domain.JobEventRetry)
	if err != nil {
		return err
	}
	j.AttemptCount = attempts
	j.LastError = lastError
	j.ClaimedAt = nil
	r.data().jobs[id] = j
	return nil
}

func (r *JobRepository) DeadLetter(_ context.Context, id string, attempts int, lastError string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.data().jobs[id]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	if current.State != domain.JobStateProcessing {
		return false, nil
	}
	j, err := r.transition(id, domain.JobEventExhaust)
	if err != nil {
		return false, err
	}
	j.AttemptCount = attempts
	j.LastError = lastError
	r.data().jobs[id] = j
	return true, nil
}

func (r *JobRepository) ReleaseStale(_ context.Context, claimedBefore time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for id, j := range r.data().jobs {
		if j.State != domain.JobStateProcessing || j.ClaimedAt == nil || !j.ClaimedAt.Before(claimedBefore) {
			continue
		}
		released, err := r.transition(id, domain.JobEventRelease)
		if err != nil {
			return n, err
		}
		released.ClaimedAt = nil
		r.data().jobs[id] = released
		n++
	}
	return n, nil
}

func (r *JobRepository) ListDeadLetters(_ context.Context, limit int) ([]*domain.IngestionJob, error) {
	if limit <= 0 {
		limit = 100
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var dead []*domain.IngestionJob
	for _, j := range r.data().jobs {
		if j.State == domain.JobStateDeadLetter {
			c := j
			dead = append(dead, &c)
		}
	}
	slices.SortFunc(dead, func(a, b *domain.IngestionJob) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

func (r *JobRepository) Redrive(_ context.Context, id string) (*domain.IngestionJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, err := r.transition(id, domain.JobEventRedrive)
	if err != nil {
		return nil, err
	}
	j.AttemptCount = 0
	j.ClaimedAt = nil
	j.EnqueuedAt = j.UpdatedAt
	r.data().jobs[id] = j
	return &j, nil
}

func (r *JobRepository) DeleteByDocument(_ context.Context, documentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, j := range r.data().jobs {
		if j.DocumentID == documentID {
			delete(r.data().jobs, id)
		}
	}
	return nil
}

// transition applies event to a stored job. Callers hold the write lock.
func (r *JobRepository) transition(id string, event domain.JobEvent) (domain.IngestionJob, error) {
	j, ok := r.data().jobs[id]
	if !ok {
		return domain.IngestionJob{}, domain.ErrJobNotFound
	}
	outcome, err := domain.Transition(j.State, event)
	if err != nil {
		return domain.IngestionJob{}, err
	}
	if !outcome.Removed {
		j.State = outcome.State
	}
	j.UpdatedAt = r.s.now()
	return j, nil
}
