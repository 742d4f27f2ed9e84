package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/repository/memory"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockDocumentProcessor is a mock implementation of DocumentProcessor
type MockDocumentProcessor struct {
	mock.Mock
}

func (m *MockDocumentProcessor) Process(ctx context.Context, documentID string) (*service.IngestStats, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestStats), args.Error(1)
}

// countingTx counts dead-letter moves made through transactions.
type countingTx struct {
	*memory.Store
	deadLettered atomic.Int32
}

func (c *countingTx) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	return c.Store.WithTx(ctx, func(repos service.TxRepositories) error {
		return fn(countingRepos{TxRepositories: repos, c: c})
	})
}

type countingRepos struct {
	service.TxRepositories
	c *countingTx
}

func (r countingRepos) Jobs() service.JobRepository {
	return countingJobs{JobRepository: r.TxRepositories.Jobs(), c: r.c}
}

type countingJobs struct {
	service.JobRepository
	c *countingTx
}

func (j countingJobs) DeadLetter(ctx context.Context, id string, attempts int, lastError string) (bool, error) {
	moved, err := j.JobRepository.DeadLetter(ctx, id, attempts, lastError)
	if moved {
		j.c.deadLettered.Add(1)
	}
	return moved, err
}

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newQueue(t *testing.T, docIDs ...string) *countingTx {
	t.Helper()
	store := memory.NewStore()
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for i, id := range docIDs {
		require.NoError(t, store.Documents().Create(ctx, &domain.Document{
			ID:        id,
			SourceURI: "s3://lit/" + id,
			Category:  "cardiology",
			Status:    domain.DocumentStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}))
		job := domain.NewIngestionJob("job-"+id, id, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Jobs().Enqueue(ctx, job))
	}
	return &countingTx{Store: store}
}

func newTestWorker(q *countingTx, processor DocumentProcessor, cfg IngestionWorkerConfig) *IngestionWorker {
	w := NewIngestionWorker(q.Jobs(), q, processor, cfg)
	w.now = func() time.Time { return now }
	return w
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker("test", mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(250 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(errors.New("transient"))

	worker := NewWorker("test", mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	cancel()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestWorker_RunAtStart(t *testing.T) {
	var calls atomic.Int32
	processor := processorFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	worker := NewWorker("test", processor, time.Hour, RunAtStart())
	assert.Equal(t, "test", worker.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	// the hourly ticker never fires during the test
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	worker.Stop()
}

func TestWorker_SurvivesPanickingPass(t *testing.T) {
	var calls atomic.Int32
	processor := processorFunc(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("malformed input")
		}
		return nil
	})

	worker := NewWorker("test", processor, 10*time.Millisecond, RunAtStart())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	worker.Stop()
}

type processorFunc func(ctx context.Context) error

func (f processorFunc) ProcessJobs(ctx context.Context) error { return f(ctx) }

func TestIngestionWorker_NoPendingJobs(t *testing.T) {
	q := newQueue(t)
	processor := new(MockDocumentProcessor)

	err := newTestWorker(q, processor, IngestionWorkerConfig{}).ProcessJobs(context.Background())

	assert.NoError(t, err)
	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestIngestionWorker_Success(t *testing.T) {
	q := newQueue(t, "doc-1")
	processor := new(MockDocumentProcessor)
	processor.On("Process", mock.Anything, "doc-1").Return(&service.IngestStats{DocumentID: "doc-1"}, nil)

	err := newTestWorker(q, processor, IngestionWorkerConfig{}).ProcessJobs(context.Background())
	require.NoError(t, err)

	// completed jobs are removed
	claimed, err := q.Jobs().ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	processor.AssertExpectations(t)
}

func TestIngestionWorker_RetryableFailureRequeues(t *testing.T) {
	q := newQueue(t, "doc-1")
	ctx := context.Background()
	processor := new(MockDocumentProcessor)
	processor.On("Process", mock.Anything, "doc-1").Return(nil, domain.ErrEmbeddingService).Once()

	require.NoError(t, newTestWorker(q, processor, IngestionWorkerConfig{}).ProcessJobs(ctx))

	doc, err := q.Documents().GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusQueued, doc.Status)
	assert.Contains(t, doc.LastError, "embedding service failed")

	claimed, err := q.Jobs().ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].AttemptCount)
}

func TestIngestionWorker_RetryExhaustion(t *testing.T) {
	q := newQueue(t, "doc-1")
	ctx := context.Background()
	processor := new(MockDocumentProcessor)
	processor.On("Process", mock.Anything, "doc-1").Return(nil, errors.New("upstream timeout"))

	w := newTestWorker(q, processor, IngestionWorkerConfig{})
	for i := 0; i < 5; i++ {
		require.NoError(t, w.ProcessJobs(ctx))
	}

	processor.AssertNumberOfCalls(t, "Process", MaxRetries)
	assert.Equal(t, int32(1), q.deadLettered.Load())

	doc, err := q.Documents().GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, doc.Status)
	assert.Equal(t, "upstream timeout", doc.LastError)

	dead, err := q.Jobs().ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, MaxRetries, dead[0].AttemptCount)
	assert.Equal(t, domain.JobStateDeadLetter, dead[0].State)

	// a repeated failure report for the same job moves nothing
	require.NoError(t, w.fail(ctx, dead[0], errors.New("again")))
	assert.Equal(t, int32(1), q.deadLettered.Load())
}

func TestIngestionWorker_NonRetryableFailureDeadLettersImmediately(t *testing.T) {
	q := newQueue(t, "doc-1")
	ctx := context.Background()
	processor := new(MockDocumentProcessor)
	processor.On("Process", mock.Anything, "doc-1").Return(nil, domain.ErrExtraction.WithCause(errors.New("corrupt pdf")))

	w := newTestWorker(q, processor, IngestionWorkerConfig{})
	require.NoError(t, w.ProcessJobs(ctx))
	require.NoError(t, w.ProcessJobs(ctx))

	processor.AssertNumberOfCalls(t, "Process", 1)
	assert.Equal(t, int32(1), q.deadLettered.Load())

	doc, err := q.Documents().GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, doc.Status)
}

func TestIngestionWorker_RunsBatchConcurrently(t *testing.T) {
	q := newQueue(t, "doc-1", "doc-2", "doc-3", "doc-4")
	ctx := context.Background()

	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	processor := new(MockDocumentProcessor)
	processor.On("Process", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
	}).Return(&service.IngestStats{}, nil)

	done := make(chan error)
	go func() { done <- newTestWorker(q, processor, IngestionWorkerConfig{BatchSize: 3}).ProcessJobs(ctx) }()

	assert.Eventually(t, func() bool { return inFlight.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(3), peak.Load())
	processor.AssertNumberOfCalls(t, "Process", 3)
}

func TestIngestionWorker_JobTimeout(t *testing.T) {
	q := newQueue(t, "doc-1")
	ctx := context.Background()
	processor := new(MockDocumentProcessor)
	processor.On("Process", mock.Anything, "doc-1").Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded)

	w := newTestWorker(q, processor, IngestionWorkerConfig{JobTimeout: 20 * time.Millisecond})
	require.NoError(t, w.ProcessJobs(ctx))

	doc, err := q.Documents().GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusQueued, doc.Status)
}

func TestIngestionWorker_ReleasesStaleClaims(t *testing.T) {
	q := newQueue(t, "doc-1")
	ctx := context.Background()

	// a previous process claimed the job and died
	claimed, err := q.Jobs().ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	processor := new(MockDocumentProcessor)
	processor.On("Process", mock.Anything, "doc-1").Return(&service.IngestStats{}, nil)

	w := newTestWorker(q, processor, IngestionWorkerConfig{JobTimeout: time.Minute})
	w.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.NoError(t, w.ProcessJobs(ctx))

	processor.AssertExpectations(t)
}
