package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/cloo-solutions/medindex/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxRetries is the number of attempts a job gets before it is dead-lettered
	MaxRetries = 3
	// DefaultBatchSize is how many jobs are claimed and run concurrently per poll
	DefaultBatchSize = 3
	// DefaultJobTimeout bounds a single pipeline run
	DefaultJobTimeout = time.Hour
)

// DocumentProcessor runs one document through the ingestion pipeline.
type DocumentProcessor interface {
	Process(ctx context.Context, documentID string) (*service.IngestStats, error)
}

// IngestionWorkerConfig tunes the queue processor.
type IngestionWorkerConfig struct {
	BatchSize  int
	MaxRetries int
	JobTimeout time.Duration
}

// IngestionWorker claims queued ingestion jobs and runs them through the pipeline.
type IngestionWorker struct {
	jobs      service.JobRepository
	tx        service.TxRunner
	processor DocumentProcessor
	cfg       IngestionWorkerConfig
	now       func() time.Time
}

// NewIngestionWorker creates a new IngestionWorker instance
func NewIngestionWorker(
	jobs service.JobRepository,
	tx service.TxRunner,
	processor DocumentProcessor,
	cfg IngestionWorkerConfig,
) *IngestionWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = MaxRetries
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	return &IngestionWorker{
		jobs:      jobs,
		tx:        tx,
		processor: processor,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestionWorker) ProcessJobs(ctx context.Context) error {
	released, err := w.jobs.ReleaseStale(ctx, w.now().Add(-w.cfg.JobTimeout))
	if err != nil {
		return fmt.Errorf("failed to release stale jobs: %w", err)
	}
	if released > 0 {
		log.Printf("ingest: released %d stale jobs", released)
	}

	claimed, err := w.jobs.ClaimPending(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}

	log.Printf("ingest: processing %d jobs", len(claimed))

	var g errgroup.Group
	g.SetLimit(w.cfg.BatchSize)
	for _, job := range claimed {
		g.Go(func() error {
			w.processJob(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (w *IngestionWorker) processJob(ctx context.Context, job *domain.IngestionJob) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionWorker.processJob", telemetry.SpanAttributes{
		DocumentID: job.DocumentID,
		JobID:      job.ID,
		Operation:  "ingest",
	})
	defer span.End()

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	_, err := w.processor.Process(jobCtx, job.DocumentID)
	if err == nil {
		if err := w.jobs.Complete(ctx, job.ID); err != nil {
			log.Printf("ingest: failed to complete job %s: %v", job.ID, err)
		}
		return
	}

	if ctx.Err() != nil {
		// shutting down; the claim goes stale and is released on a later poll
		log.Printf("ingest: job %s interrupted: %v", job.ID, err)
		return
	}

	if err := w.fail(ctx, job, err); err != nil {
		span.SetError(err)
		log.Printf("ingest: failed to record failure of job %s: %v", job.ID, err)
	}
}

// fail requeues a retryable failure while attempts remain and dead-letters
// everything else. The document follows the job: queued on retry, failed on
// dead letter.
func (w *IngestionWorker) fail(ctx context.Context, job *domain.IngestionJob, cause error) error {
	attempt := job.AttemptCount + 1
	msg := cause.Error()

	if domain.IsRetryable(cause) && attempt < w.cfg.MaxRetries {
		log.Printf("ingest: job %s attempt %d/%d failed, retrying: %v", job.ID, attempt, w.cfg.MaxRetries, cause)
		return w.tx.WithTx(ctx, func(repos service.TxRepositories) error {
			if err := repos.Jobs().Requeue(ctx, job.ID, attempt, msg); err != nil {
				return err
			}
			return ignoreMissing(repos.Documents().UpdateStatus(ctx, job.DocumentID, domain.DocumentStatusQueued, msg))
		})
	}

	var moved bool
	err := w.tx.WithTx(ctx, func(repos service.TxRepositories) error {
		var err error
		moved, err = repos.Jobs().DeadLetter(ctx, job.ID, attempt, msg)
		if err != nil || !moved {
			return err
		}
		return ignoreMissing(repos.Documents().UpdateStatus(ctx, job.DocumentID, domain.DocumentStatusFailed, msg))
	})
	if err != nil {
		return err
	}
	if moved {
		log.Printf("ingest: job %s dead-lettered after %d attempts: %v", job.ID, attempt, cause)
		telemetry.CaptureError(ctx, fmt.Errorf("ingestion of document %s failed: %w", job.DocumentID, cause))
	}
	return nil
}

func ignoreMissing(err error) error {
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil
	}
	return err
}
