// Package embedding turns chunk text into vectors by calling the embedding
// service in bounded, concurrent batches.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cloo-solutions/medindex/internal/domain"
)

// BatchEmbedder embeds a batch of texts, returning one vector per input in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config controls batching, concurrency and retry.
type Config struct {
	BatchSize      int
	MaxInFlight    int
	MaxAttempts    int
	InitialBackoff time.Duration
	// Dimensions, when positive, is enforced on every returned vector.
	Dimensions int
	// RequestsPerSecond throttles calls to the embedder; zero disables throttling.
	RequestsPerSecond float64
}

// DefaultConfig returns the default batcher configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      100,
		MaxInFlight:    4,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
	}
}

// Item is a chunk waiting to be embedded.
type Item struct {
	ChunkID string
	Text    string
}

// Vector is an embedded chunk.
type Vector struct {
	ChunkID string
	Vector  []float32
}

// Result holds the vectors of every batch that succeeded, in input order.
type Result struct {
	Vectors       []Vector
	Batches       int
	FailedBatches int
}

// BatchFailure records a batch that exhausted its retries.
type BatchFailure struct {
	ChunkIDs []string
	Err      error
}

// BatchError is returned when one or more batches failed. It matches
// domain.ErrEmbeddingService with errors.Is.
type BatchError struct {
	Failures []BatchFailure
}

func (e *BatchError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("%d chunks: %v", len(f.ChunkIDs), f.Err))
	}
	return fmt.Sprintf("%d embedding batches failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, domain.ErrEmbeddingService)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ChunkIDs returns the IDs of every chunk left without a vector.
func (e *BatchError) ChunkIDs() []string {
	var ids []string
	for _, f := range e.Failures {
		ids = append(ids, f.ChunkIDs...)
	}
	return ids
}

// Batcher fans chunk batches out to a BatchEmbedder.
type Batcher struct {
	embedder BatchEmbedder
	cfg      Config
	limiter  *rate.Limiter
}

// NewBatcher creates a Batcher. Non-positive config values fall back to defaults.
func NewBatcher(embedder BatchEmbedder, cfg Config) *Batcher {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}

	b := &Batcher{embedder: embedder, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return b
}

type batchOutcome struct {
	vectors []Vector
	err     error
}

// EmbedAll embeds every item. Vectors from succeeded batches are returned even
// when the error is non-nil.
func (b *Batcher) EmbedAll(ctx context.Context, items []Item) (Result, error) {
	if len(items) == 0 {
		return Result{}, nil
	}

	batches := split(items, b.cfg.BatchSize)
	outcomes := make([]batchOutcome, len(batches))

	var g errgroup.Group
	g.SetLimit(b.cfg.MaxInFlight)
	for i, batch := range batches {
		g.Go(func() error {
			vectors, err := b.embedWithRetry(ctx, batch)
			outcomes[i] = batchOutcome{vectors: vectors, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Batches: len(batches)}
	var failures []BatchFailure
	for i, o := range outcomes {
		if o.err != nil {
			ids := make([]string, len(batches[i]))
			for j, item := range batches[i] {
				ids[j] = item.ChunkID
			}
			failures = append(failures, BatchFailure{ChunkIDs: ids, Err: o.err})
			result.FailedBatches++
			continue
		}
		result.Vectors = append(result.Vectors, o.vectors...)
	}

	if len(failures) > 0 {
		return result, &BatchError{Failures: failures}
	}
	return result, nil
}

func (b *Batcher) embedWithRetry(ctx context.Context, batch []Item) ([]Vector, error) {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.Text
	}

	var vectors [][]float32
	attempt := 0
	op := func() error {
		attempt++
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		out, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := b.check(out, len(texts)); err != nil {
			return err
		}
		vectors = out
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.InitialBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = b.cfg.InitialBackoff << uint(b.cfg.MaxAttempts)
	policy.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		log.Printf("embedding: batch of %d failed after %d attempts: %v", len(batch), attempt, err)
		return nil, err
	}

	result := make([]Vector, len(batch))
	for i, item := range batch {
		result[i] = Vector{ChunkID: item.ChunkID, Vector: vectors[i]}
	}
	return result, nil
}

var errVectorCount = errors.New("embedding service returned wrong number of vectors")

func (b *Batcher) check(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d, want %d", errVectorCount, len(vectors), want)
	}
	if b.cfg.Dimensions <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != b.cfg.Dimensions {
			return fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), b.cfg.Dimensions)
		}
	}
	return nil
}

func split(items []Item, size int) [][]Item {
	batches := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}
