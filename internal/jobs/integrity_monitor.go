package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/telemetry"
)

// DefaultDriftTolerance is how far the index may drift from the chunk table
// before it is rebuilt.
const DefaultDriftTolerance = 10

// ChunkCounter counts chunks that should be served by the index.
type ChunkCounter interface {
	CountIndexed(ctx context.Context) (int, error)
}

// IndexedEmbeddingLister loads the embeddings the index is rebuilt from.
type IndexedEmbeddingLister interface {
	ListIndexed(ctx context.Context, model string) ([]domain.Embedding, error)
}

// RebuildableIndex is the part of the vector index the monitor needs.
type RebuildableIndex interface {
	Stats() index.Stats
	Rebuild(entries []domain.IndexEntry) error
	Exclusive() (done func())
}

// Report is the outcome of an integrity check.
type Report struct {
	OK          bool
	IndexActive int
	Expected    int
	Drift       int
	Issues      []string
	Rebuilt     bool
	Generation  uint64
	CheckedAt   time.Time
}

// IntegrityMonitor compares the vector index with the chunk table and
// rebuilds the index when they drift apart.
type IntegrityMonitor struct {
	chunks       ChunkCounter
	embeddings   IndexedEmbeddingLister
	index        RebuildableIndex
	modelVersion string
	tolerance    int

	mu sync.Mutex
}

// NewIntegrityMonitor creates a new IntegrityMonitor. A negative tolerance
// uses DefaultDriftTolerance.
func NewIntegrityMonitor(chunks ChunkCounter, embeddings IndexedEmbeddingLister, idx RebuildableIndex, modelVersion string, tolerance int) *IntegrityMonitor {
	if tolerance < 0 {
		tolerance = DefaultDriftTolerance
	}
	return &IntegrityMonitor{
		chunks:       chunks,
		embeddings:   embeddings,
		index:        idx,
		modelVersion: modelVersion,
		tolerance:    tolerance,
	}
}

// ProcessJobs implements the JobProcessor interface
func (m *IntegrityMonitor) ProcessJobs(ctx context.Context) error {
	_, err := m.Check(ctx)
	return err
}

// Check measures drift and rebuilds the index when it exceeds the tolerance.
// Drift is logged and reported to Sentry, never returned as an error.
func (m *IntegrityMonitor) Check(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "IntegrityMonitor.Check", telemetry.SpanAttributes{
		Operation: "integrity_check",
	})
	defer span.End()

	report, err := m.measure(ctx)
	if err != nil {
		span.SetError(err)
		return report, err
	}

	abs := report.Drift
	if abs < 0 {
		abs = -abs
	}
	if abs <= m.tolerance {
		report.OK = true
		return report, nil
	}

	drift := domain.ErrIntegrityDrift.WithCause(fmt.Errorf(
		"index has %d active entries, chunk table expects %d (drift %d, tolerance %d)",
		report.IndexActive, report.Expected, report.Drift, m.tolerance))
	report.Issues = append(report.Issues, drift.Error())
	log.Printf("integrity: %v; rebuilding", drift)
	telemetry.CaptureMessage(ctx, drift.Error())

	return m.rebuild(ctx, report)
}

// Rebuild unconditionally rebuilds the index from the embedding table.
func (m *IntegrityMonitor) Rebuild(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report, err := m.measure(ctx)
	if err != nil {
		return report, err
	}
	return m.rebuild(ctx, report)
}

func (m *IntegrityMonitor) measure(ctx context.Context) (Report, error) {
	expected, err := m.chunks.CountIndexed(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to count indexed chunks: %w", err)
	}
	stats := m.index.Stats()
	return Report{
		IndexActive: stats.Active,
		Expected:    expected,
		Drift:       stats.Active - expected,
		Generation:  stats.Generation,
		CheckedAt:   time.Now().UTC(),
	}, nil
}

func (m *IntegrityMonitor) rebuild(ctx context.Context, report Report) (Report, error) {
	done := m.index.Exclusive()
	defer done()

	expected, err := m.chunks.CountIndexed(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to count indexed chunks: %w", err)
	}
	report.Expected = expected

	embeddings, err := m.embeddings.ListIndexed(ctx, m.modelVersion)
	if err != nil {
		return report, fmt.Errorf("failed to load indexed embeddings: %w", err)
	}

	entries := make([]domain.IndexEntry, len(embeddings))
	for i, e := range embeddings {
		entries[i] = domain.EntryFromEmbedding(e)
	}
	if err := m.index.Rebuild(entries); err != nil {
		return report, fmt.Errorf("failed to rebuild index: %w", err)
	}

	if missing := report.Expected - len(entries); missing > 0 {
		issue := fmt.Sprintf("%d indexed chunks have no %s embedding", missing, m.modelVersion)
		report.Issues = append(report.Issues, issue)
		log.Printf("integrity: %s", issue)
	}

	stats := m.index.Stats()
	report.Rebuilt = true
	report.IndexActive = stats.Active
	report.Drift = stats.Active - report.Expected
	report.Generation = stats.Generation
	report.OK = report.Drift == 0
	log.Printf("integrity: index rebuilt at generation %d with %d entries", stats.Generation, stats.Active)
	return report, nil
}
