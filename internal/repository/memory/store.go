// Package memory implements every repository in process memory. It backs
// database-less runs and end-to-end tests.
package memory

import (
	"context"
	"maps"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/feedback"
	"github.com/cloo-solutions/medindex/internal/service"
)

type blob struct {
	raw         []byte
	contentType string
}

// embeddingKey identifies an embedding row. Current rows have a zero serial;
// retiring a row moves it to a fresh serial so history is kept.
type embeddingKey struct {
	chunkID string
	model   string
	serial  int64
}

type state struct {
	documents  map[string]domain.Document
	blobs      map[string]blob
	chunks     map[string]domain.Chunk
	embeddings map[embeddingKey]domain.Embedding
	jobs       map[string]domain.IngestionJob
	records    []domain.FeedbackRecord
	weights    map[string]float64
}

func newState() state {
	return state{
		documents:  map[string]domain.Document{},
		blobs:      map[string]blob{},
		chunks:     map[string]domain.Chunk{},
		embeddings: map[embeddingKey]domain.Embedding{},
		jobs:       map[string]domain.IngestionJob{},
		weights:    map[string]float64{},
	}
}

func (s state) clone() state {
	return state{
		documents:  maps.Clone(s.documents),
		blobs:      maps.Clone(s.blobs),
		chunks:     maps.Clone(s.chunks),
		embeddings: maps.Clone(s.embeddings),
		jobs:       maps.Clone(s.jobs),
		records:    append([]domain.FeedbackRecord(nil), s.records...),
		weights:    maps.Clone(s.weights),
	}
}

// Store holds all state. Values are copied in and out so callers never share
// memory with the store.
type Store struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	data  state
	keyed feedback.KeyedMutex
	now   func() time.Time
	seq   atomic.Int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the store clock, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Documents() *DocumentRepository   { return &DocumentRepository{view{s: s}} }
func (s *Store) Blobs() *BlobStore                { return &BlobStore{view{s: s}} }
func (s *Store) Chunks() *ChunkRepository         { return &ChunkRepository{view{s: s}} }
func (s *Store) Embeddings() *EmbeddingRepository { return &EmbeddingRepository{view{s: s}} }
func (s *Store) Jobs() *JobRepository             { return &JobRepository{view{s: s}} }
func (s *Store) Feedback() *FeedbackRepository    { return &FeedbackRepository{view{s: s}} }

// view is what a repository reads and writes: the shared state, or the
// working copy of an open transaction.
type view struct {
	s  *Store
	tx *state
}

func (v view) data() *state {
	if v.tx != nil {
		return v.tx
	}
	return &v.s.data
}

// WithTx runs fn against a private copy of the state, with transactions
// serialised against each other. On success only the rows fn changed are
// written back, so writes made outside the transaction meanwhile survive.
// On error the copy is dropped.
func (s *Store) WithTx(_ context.Context, fn func(repos service.TxRepositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	base := s.data.clone()
	s.mu.RUnlock()
	work := base.clone()

	if err := fn(txRepos{v: view{s: s, tx: &work}}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mergeChanged(s.data.documents, base.documents, work.documents)
	mergeChanged(s.data.blobs, base.blobs, work.blobs)
	mergeChanged(s.data.chunks, base.chunks, work.chunks)
	mergeChanged(s.data.embeddings, base.embeddings, work.embeddings)
	mergeChanged(s.data.jobs, base.jobs, work.jobs)
	mergeChanged(s.data.weights, base.weights, work.weights)
	s.data.records = mergeRecords(s.data.records, base.records, work.records)
	return nil
}

// mergeRecords drops from live the records work removed and appends the ones
// work added.
func mergeRecords(live, base, work []domain.FeedbackRecord) []domain.FeedbackRecord {
	inWork := make(map[string]bool, len(work))
	for _, rec := range work {
		inWork[rec.ID] = true
	}
	inBase := make(map[string]bool, len(base))
	removed := map[string]bool{}
	for _, rec := range base {
		inBase[rec.ID] = true
		if !inWork[rec.ID] {
			removed[rec.ID] = true
		}
	}
	if len(removed) > 0 {
		live = slices.DeleteFunc(live, func(rec domain.FeedbackRecord) bool { return removed[rec.ID] })
	}
	for _, rec := range work {
		if !inBase[rec.ID] {
			live = append(live, rec)
		}
	}
	return live
}

// mergeChanged applies to live the keys that differ between base and work.
func mergeChanged[K comparable, V any](live, base, work map[K]V) {
	for k, v := range work {
		if old, ok := base[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		live[k] = v
	}
	for k := range base {
		if _, ok := work[k]; !ok {
			delete(live, k)
		}
	}
}

type txRepos struct {
	v view
}

func (r txRepos) Documents() service.DocumentRepository   { return &DocumentRepository{r.v} }
func (r txRepos) Chunks() service.ChunkRepository         { return &ChunkRepository{r.v} }
func (r txRepos) Embeddings() service.EmbeddingRepository { return &EmbeddingRepository{r.v} }
func (r txRepos) Jobs() service.JobRepository             { return &JobRepository{r.v} }

var (
	_ service.DocumentRepository  = (*DocumentRepository)(nil)
	_ service.BlobStore           = (*BlobStore)(nil)
	_ service.ChunkRepository     = (*ChunkRepository)(nil)
	_ service.EmbeddingRepository = (*EmbeddingRepository)(nil)
	_ service.JobRepository       = (*JobRepository)(nil)
	_ service.FeedbackRepository  = (*FeedbackRepository)(nil)
	_ service.TxRunner            = (*Store)(nil)
)
