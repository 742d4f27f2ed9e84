package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/medindex/internal/telemetry"
)

// JobProcessor defines the interface for processing jobs
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker runs a JobProcessor on a fixed interval
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	runAtStart   bool
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// RunAtStart makes the worker poll once immediately instead of waiting a
// full interval, so a queue backlog left by a restart is picked up at once.
func RunAtStart() WorkerOption {
	return func(w *Worker) { w.runAtStart = true }
}

// NewWorker creates a new Worker instance. name prefixes its log lines.
func NewWorker(name string, processor JobProcessor, pollInterval time.Duration, opts ...WorkerOption) *Worker {
	w := &Worker{
		name:         name,
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// Start runs the polling loop until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("%s: worker started with poll interval: %v", w.name, w.pollInterval)

	if w.runAtStart {
		w.poll(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			log.Printf("%s: worker stopped: context cancelled", w.name)
			return
		case <-w.stopChan:
			log.Printf("%s: worker stopped: stop signal received", w.name)
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll runs one pass. A panicking pass is reported and the loop carries on.
func (w *Worker) poll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s: worker pass panicked: %v", w.name, r)
			log.Print(err)
			telemetry.CaptureError(ctx, err)
		}
	}()

	if err := w.processor.ProcessJobs(ctx); err != nil {
		log.Printf("%s: error processing jobs: %v", w.name, err)
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Printf("%s: worker shutdown complete", w.name)
}
