package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, document_id, state, attempt_count, last_error, enqueued_at, claimed_at, updated_at`

type IngestionJobRepository struct {
	db dbtx
}

func NewIngestionJobRepository(pool *pgxpool.Pool) *IngestionJobRepository {
	return &IngestionJobRepository{db: pool}
}

func NewIngestionJobRepositoryWithTx(tx pgx.Tx) *IngestionJobRepository {
	return &IngestionJobRepository{db: tx}
}

// Enqueue replaces any dead-lettered job of the document with a new queued one.
func (r *IngestionJobRepository) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	if err := domain.ValidateIngestionJob(job); err != nil {
		return domain.ErrMissingRequiredField.WithCause(err)
	}

	if _, err := r.db.Exec(ctx,
		`DELETE FROM ingestion_jobs WHERE document_id = $1 AND state = $2`,
		job.DocumentID, domain.JobStateDeadLetter,
	); err != nil {
		return err
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO ingestion_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.DocumentID, job.State, job.AttemptCount, nullableString(job.LastError),
		job.EnqueuedAt, job.ClaimedAt, job.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrJobAlreadyQueued
	}
	return err
}

func (r *IngestionJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.IngestionJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM ingestion_jobs
			 WHERE state = $1
			 ORDER BY enqueued_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE ingestion_jobs
		 SET state = $3,
		     claimed_at = $4,
		     updated_at = $4
		 FROM cte
		 WHERE ingestion_jobs.id = cte.id
		 RETURNING ingestion_jobs.id, ingestion_jobs.document_id, ingestion_jobs.state, ingestion_jobs.attempt_count,
		           ingestion_jobs.last_error, ingestion_jobs.enqueued_at, ingestion_jobs.claimed_at, ingestion_jobs.updated_at`,
		domain.JobStateQueued, limit, domain.JobStateProcessing, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Complete removes a processing job.
func (r *IngestionJobRepository) Complete(ctx context.Context, id string) error {
	return r.apply(ctx, id, domain.JobEventSucceed,
		`DELETE FROM ingestion_jobs WHERE id = $1 AND state = $2`,
		id, domain.JobStateProcessing,
	)
}

func (r *IngestionJobRepository) Requeue(ctx context.Context, id string, attempts int, lastError string) error {
	return r.apply(ctx, id, domain.JobEventRetry,
		`UPDATE ingestion_jobs
		 SET state = $3, attempt_count = $4, last_error = $5, claimed_at = NULL, updated_at = $6
		 WHERE id = $1 AND state = $2`,
		id, domain.JobStateProcessing, domain.JobStateQueued, attempts, nullableString(lastError), time.Now().UTC(),
	)
}

func (r *IngestionJobRepository) DeadLetter(ctx context.Context, id string, attempts int, lastError string) (bool, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingestion_jobs
		 SET state = $3, attempt_count = $4, last_error = $5, updated_at = $6
		 WHERE id = $1 AND state = $2`,
		id, domain.JobStateProcessing, domain.JobStateDeadLetter, attempts, nullableString(lastError), time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	if cmdTag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *IngestionJobRepository) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingestion_jobs
		 SET state = $1, claimed_at = NULL, updated_at = $2
		 WHERE state = $3 AND claimed_at < $4`,
		domain.JobStateQueued, time.Now().UTC(), domain.JobStateProcessing, claimedBefore,
	)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

func (r *IngestionJobRepository) ListDeadLetters(ctx context.Context, limit int) ([]*domain.IngestionJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE state = $1 ORDER BY updated_at ASC, id ASC LIMIT $2`,
		domain.JobStateDeadLetter, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *IngestionJobRepository) Redrive(ctx context.Context, id string) (*domain.IngestionJob, error) {
	now := time.Now().UTC()
	job, err := scanJob(r.db.QueryRow(ctx,
		`UPDATE ingestion_jobs
		 SET state = $3, attempt_count = 0, claimed_at = NULL, enqueued_at = $4, updated_at = $4
		 WHERE id = $1 AND state = $2
		 RETURNING `+jobColumns,
		id, domain.JobStateDeadLetter, domain.JobStateQueued, now,
	))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	current, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	_, err = domain.Transition(current.State, domain.JobEventRedrive)
	return nil, err
}

func (r *IngestionJobRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM ingestion_jobs WHERE document_id = $1`, documentID)
	return err
}

// apply runs a guarded statement for event. When no row matched it reports
// ErrJobNotFound or the transition error for the job's actual state.
func (r *IngestionJobRepository) apply(ctx context.Context, id string, event domain.JobEvent, sql string, args ...any) error {
	cmdTag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}
	current, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := domain.Transition(current.State, event); err != nil {
		return err
	}
	return fmt.Errorf("job %s changed concurrently", id)
}

func (r *IngestionJobRepository) get(ctx context.Context, id string) (*domain.IngestionJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanJob(row pgx.Row) (*domain.IngestionJob, error) {
	var j domain.IngestionJob
	var lastError *string
	if err := row.Scan(&j.ID, &j.DocumentID, &j.State, &j.AttemptCount, &lastError, &j.EnqueuedAt, &j.ClaimedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.LastError = stringOrEmpty(lastError)
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.IngestionJob, error) {
	var jobs []*domain.IngestionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
