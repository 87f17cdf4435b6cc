// Package memory provides an in-memory storage.Store for tests and
// single-process deployments. Runs are lost when the process restarts.
// Optional LRU eviction bounds the number of runs kept; ratings survive
// the eviction of the run they rate so statistics stay stable.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/storage"
)

type entry struct {
	run      *api.Run
	tenantID string
	lruElem  *list.Element
}

type ratingEntry struct {
	rating   *api.RatingRecord
	tenantID string
}

// Store is an in-memory storage.Store with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ratings map[string]*ratingEntry // by run ID
	lruList *list.List              // front = most recently saved
	maxSize int                     // 0 = unlimited
}

var _ storage.Store = (*Store)(nil)

// New creates a store holding at most maxSize runs. Zero means unlimited.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		ratings: make(map[string]*ratingEntry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveRun implements storage.Store.
func (s *Store) SaveRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[run.ID]; exists {
		return storage.ErrConflict
	}
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	cp := *run
	cp.Artifacts = append([]api.Artifact(nil), run.Artifacts...)
	s.entries[run.ID] = &entry{
		run:      &cp,
		tenantID: storage.GetTenant(ctx),
		lruElem:  s.lruList.PushFront(run.ID),
	}
	return nil
}

// GetRun implements storage.Store.
func (s *Store) GetRun(ctx context.Context, id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e.run
	return &cp, nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(ctx context.Context, id string) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if tenant := storage.GetTenant(ctx); tenant != "" && e.tenantID != tenant {
		return nil, false
	}
	return e, true
}

// ListRuns implements storage.Store.
func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) (*storage.RunList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant := storage.GetTenant(ctx)
	var matches []*api.Run
	for _, e := range s.entries {
		if tenant != "" && e.tenantID != tenant {
			continue
		}
		if opts.DatasetID != "" && e.run.DatasetID != opts.DatasetID {
			continue
		}
		matches = append(matches, e.run)
	}

	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.CreatedAt != b.CreatedAt {
			if asc {
				return a.CreatedAt < b.CreatedAt
			}
			return a.CreatedAt > b.CreatedAt
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if opts.After != "" {
		idx := -1
		for i, r := range matches {
			if r.ID == opts.After {
				idx = i
				break
			}
		}
		if idx < 0 {
			matches = nil
		} else {
			matches = matches[idx+1:]
		}
	}

	limit := opts.EffectiveLimit()
	if len(matches) > limit+1 {
		matches = matches[:limit+1]
	}
	page := make([]*api.Run, len(matches))
	for i, r := range matches {
		page[i] = storage.StripArtifactData(r)
	}
	return storage.NewRunList(page, limit), nil
}

// SaveRating implements storage.Store. Writes are serialized by the store
// mutex, so concurrent ratings of one run never interleave.
func (s *Store) SaveRating(ctx context.Context, rating *api.RatingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(ctx, rating.RunID); !ok {
		return storage.ErrNotFound
	}
	cp := *rating
	s.ratings[rating.RunID] = &ratingEntry{rating: &cp, tenantID: storage.GetTenant(ctx)}
	return nil
}

// RatingStats implements storage.Store.
func (s *Store) RatingStats(ctx context.Context) (api.RatingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant := storage.GetTenant(ctx)
	var good, bad int
	for _, r := range s.ratings {
		if tenant != "" && r.tenantID != tenant {
			continue
		}
		if r.rating.Score == 1 {
			good++
		} else {
			bad++
		}
	}
	return api.ComputeRatingStats(good, bad), nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored runs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictOldest removes the least recently saved run.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
