// Package feedback turns user ratings into a bounded per-document weight.
package feedback

import (
	"context"
	"math"
	"sync"

	"github.com/cloo-solutions/medindex/internal/domain"
)

var deltas = map[int]float64{
	5: 0.10,
	4: 0.05,
	3: 0,
	2: -0.10,
	1: -0.20,
}

// Store records ratings and serves the resulting weights. Implementations
// must serialise updates per document.
type Store interface {
	Record(ctx context.Context, record *domain.FeedbackRecord) (float64, error)
	Weight(ctx context.Context, documentID string) (float64, error)
	Weights(ctx context.Context, documentIDs []string) (map[string]float64, error)
}

// Delta returns the weight change for a 1 to 5 rating.
func Delta(rating int) (float64, error) {
	d, ok := deltas[rating]
	if !ok {
		return 0, domain.ErrInvalidRating
	}
	return d, nil
}

// Apply returns the weight after a rating is applied to old.
func Apply(old float64, rating int) (float64, error) {
	d, err := Delta(rating)
	if err != nil {
		return old, err
	}
	return Clamp(old + d), nil
}

// Clamp bounds a weight to [MinFeedbackWeight, MaxFeedbackWeight], rounding
// away float noise from repeated additions.
func Clamp(w float64) float64 {
	w = math.Round(w*1e6) / 1e6
	switch {
	case w < domain.MinFeedbackWeight:
		return domain.MinFeedbackWeight
	case w > domain.MaxFeedbackWeight:
		return domain.MaxFeedbackWeight
	}
	return w
}

// KeyedMutex hands out one lock per key and forgets keys nobody holds.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
