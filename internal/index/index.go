// Package index holds the in-memory vector index: a rebuildable projection of
// the chunk and embedding tables that answers nearest-neighbour queries.
//
// Entries live in an append-only arena. Every write builds the next snapshot
// (arena view, active bitmap, chunk lookup) privately and publishes it with a
// single atomic pointer swap, so readers never observe a half-applied batch.
// Writers are serialised by a mutex.
package index

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloo-solutions/medindex/internal/domain"
)

var (
	errDimension = errors.New("vector dimension mismatch")
	errZeroNorm  = errors.New("vector has zero norm")
	errDuplicate = errors.New("duplicate chunk in batch")
	errMissingID = errors.New("entry is missing chunk or document id")
)

// Hit is a query result.
type Hit struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// Stats describes the published snapshot.
type Stats struct {
	Generation uint64
	Active     int
	Inactive   int
	Dimension  int
}

type entry struct {
	chunkID    string
	documentID string
	unit       []float32
}

type snapshot struct {
	generation uint64
	dimension  int
	arena      []entry
	active     []bool
	byChunk    map[string]int
	activeN    int
}

// Index is safe for concurrent use: one writer at a time, any number of readers.
type Index struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	pub  sync.RWMutex
}

// New creates an empty index. A zero dimension is fixed by the first insert.
func New(dimension int) *Index {
	idx := &Index{}
	idx.snap.Store(&snapshot{dimension: dimension, byChunk: map[string]int{}})
	return idx
}

// InsertBatch makes every entry active, or none of them. An entry whose chunk
// is already active replaces it. Returns the number of entries inserted.
func (idx *Index) InsertBatch(entries []domain.IndexEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	dim := cur.dimension
	if dim == 0 {
		dim = len(entries[0].Vector)
	}

	prepared, err := prepare(entries, dim)
	if err != nil {
		return 0, domain.ErrIndexWrite.WithCause(err)
	}

	next := &snapshot{
		generation: cur.generation,
		dimension:  dim,
		arena:      append(cur.arena, prepared...),
		active:     make([]bool, len(cur.active), len(cur.active)+len(prepared)),
		byChunk:    make(map[string]int, len(cur.byChunk)+len(prepared)),
		activeN:    cur.activeN,
	}
	copy(next.active, cur.active)
	for k, v := range cur.byChunk {
		next.byChunk[k] = v
	}

	for i, e := range prepared {
		if old, ok := next.byChunk[e.chunkID]; ok {
			next.active[old] = false
			next.activeN--
		}
		pos := len(cur.arena) + i
		next.active = append(next.active, true)
		next.byChunk[e.chunkID] = pos
		next.activeN++
	}

	idx.snap.Store(next)
	return len(prepared), nil
}

func prepare(entries []domain.IndexEntry, dim int) ([]entry, error) {
	out := make([]entry, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.ChunkID == "" || e.DocumentID == "" {
			return nil, fmt.Errorf("entry %d: %w", i, errMissingID)
		}
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("entry %d (%s): %w: got %d, want %d", i, e.ChunkID, errDimension, len(e.Vector), dim)
		}
		if _, dup := seen[e.ChunkID]; dup {
			return nil, fmt.Errorf("entry %d: %w: %s", i, errDuplicate, e.ChunkID)
		}
		seen[e.ChunkID] = struct{}{}

		unit, ok := normalize(e.Vector)
		if !ok {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.ChunkID, errZeroNorm)
		}
		out[i] = entry{chunkID: e.ChunkID, documentID: e.DocumentID, unit: unit}
	}
	return out, nil
}

func normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, false
	}
	norm := math.Sqrt(sum)
	unit := make([]float32, len(v))
	for i, x := range v {
		unit[i] = float32(float64(x) / norm)
	}
	return unit, true
}

// Query returns up to topK active entries by cosine similarity.
func (idx *Index) Query(vector []float32, topK int) ([]Hit, error) {
	return idx.QueryFiltered(vector, topK, nil)
}

// QueryFiltered is Query restricted to documents accepted by keep. A nil keep
// accepts every document.
func (idx *Index) QueryFiltered(vector []float32, topK int, keep func(documentID string) bool) ([]Hit, error) {
	snap := idx.snap.Load()
	if topK <= 0 || snap.activeN == 0 {
		return nil, nil
	}
	if len(vector) != snap.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", errDimension, len(vector), snap.dimension)
	}
	q, ok := normalize(vector)
	if !ok {
		return nil, errZeroNorm
	}

	hits := make([]Hit, 0, min(snap.activeN, topK*2))
	for i := range snap.active {
		if !snap.active[i] {
			continue
		}
		e := snap.arena[i]
		if keep != nil && !keep(e.documentID) {
			continue
		}
		hits = append(hits, Hit{ChunkID: e.chunkID, DocumentID: e.documentID, Score: dot(q, e.unit)})
	}

	slices.SortFunc(hits, func(a, b Hit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Deactivate soft-deletes every entry of a document and returns how many were active.
func (idx *Index) Deactivate(documentID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	var positions []int
	for _, pos := range cur.byChunk {
		if cur.arena[pos].documentID == documentID {
			positions = append(positions, pos)
		}
	}
	if len(positions) == 0 {
		return 0
	}

	next := &snapshot{
		generation: cur.generation,
		dimension:  cur.dimension,
		arena:      cur.arena,
		active:     slices.Clone(cur.active),
		byChunk:    make(map[string]int, len(cur.byChunk)),
		activeN:    cur.activeN - len(positions),
	}
	for k, v := range cur.byChunk {
		if cur.arena[v].documentID != documentID {
			next.byChunk[k] = v
		}
	}
	for _, pos := range positions {
		next.active[pos] = false
	}

	idx.snap.Store(next)
	return len(positions)
}

// Publish marks the start of a change that spans the index and the tables it
// is rebuilt from, such as inserting a document's entries and then marking the
// document indexed. Any number of changes may be in flight; Exclusive waits
// for all of them. Call done once the tables agree with the index.
func (idx *Index) Publish() (done func()) {
	idx.pub.RLock()
	return idx.pub.RUnlock
}

// Exclusive waits for in-flight changes and holds off new ones until done is
// called. A rebuild reads the tables and swaps the snapshot under it, so it
// never drops entries whose document has not been marked indexed yet.
func (idx *Index) Exclusive() (done func()) {
	idx.pub.Lock()
	return idx.pub.Unlock
}

// Rebuild replaces the whole index with entries in a fresh arena. On error the
// published snapshot is left untouched.
func (idx *Index) Rebuild(entries []domain.IndexEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	dim := cur.dimension
	if len(entries) > 0 {
		dim = len(entries[0].Vector)
	}
	prepared, err := prepare(entries, dim)
	if err != nil {
		return domain.ErrIndexWrite.WithCause(err)
	}

	idx.snap.Store(fresh(cur.generation+1, dim, prepared))
	return nil
}

// Compact drops inactive entries from the arena.
func (idx *Index) Compact() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	if cur.activeN == len(cur.arena) {
		return
	}
	live := make([]entry, 0, cur.activeN)
	for i, e := range cur.arena {
		if cur.active[i] {
			live = append(live, e)
		}
	}
	idx.snap.Store(fresh(cur.generation+1, cur.dimension, live))
}

func fresh(generation uint64, dim int, entries []entry) *snapshot {
	s := &snapshot{
		generation: generation,
		dimension:  dim,
		arena:      entries,
		active:     make([]bool, len(entries)),
		byChunk:    make(map[string]int, len(entries)),
		activeN:    len(entries),
	}
	for i, e := range entries {
		s.active[i] = true
		s.byChunk[e.chunkID] = i
	}
	return s
}

// Stats reports counts for the published snapshot.
func (idx *Index) Stats() Stats {
	s := idx.snap.Load()
	return Stats{
		Generation: s.generation,
		Active:     s.activeN,
		Inactive:   len(s.arena) - s.activeN,
		Dimension:  s.dimension,
	}
}

// Contains reports whether chunkID has an active entry.
func (idx *Index) Contains(chunkID string) bool {
	_, ok := idx.snap.Load().byChunk[chunkID]
	return ok
}
