package dataset

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/rhuss/plotwise/pkg/api"
)

// ErrNotFound is returned when a dataset ID is not registered.
var ErrNotFound = errors.New("dataset not found")

// Entry is a registered dataset: its parsed table and its summary.
type Entry struct {
	Dataset api.Dataset
	Table   *Table
}

// Registry keeps uploaded datasets in memory for the lifetime of a
// session, evicting the least recently used entry when full.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	max     int
}

// NewRegistry creates a registry holding at most max datasets.
// A max of zero or less means unlimited.
func NewRegistry(max int) *Registry {
	return &Registry{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     max,
	}
}

// Add profiles t and registers it under a new dataset ID.
func (r *Registry) Add(filename string, t *Table, opts Options) *Entry {
	e := &Entry{
		Dataset: api.Dataset{
			ID:        api.NewDatasetID(),
			Filename:  filename,
			Summary:   Profile(t, opts),
			CreatedAt: time.Now().Unix(),
		},
		Table: t,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Dataset.ID] = r.order.PushFront(e)
	if r.max > 0 {
		for r.order.Len() > r.max {
			oldest := r.order.Back()
			r.order.Remove(oldest)
			delete(r.entries, oldest.Value.(*Entry).Dataset.ID)
		}
	}
	return e
}

// Get returns the dataset with the given ID and marks it recently used.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.order.MoveToFront(el)
	return el.Value.(*Entry), nil
}

// Delete removes a dataset. Deleting an unknown ID returns ErrNotFound.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	r.order.Remove(el)
	delete(r.entries, id)
	return nil
}

// Len returns the number of registered datasets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
