// Package artifacts keeps chart image bytes outside the result store.
//
// A run stored with an object store configured carries artifact metadata
// and an object key per image; the bytes live in a local directory tree or
// an S3-compatible bucket.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/rhuss/plotwise/pkg/api"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("artifact not found")

// ObjectStore is the minimal blob interface needed for artifacts.
type ObjectStore interface {
	Ping(ctx context.Context) error
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewKey returns a fresh object key for an artifact of a run. Keys never
// collide between retries of the same run name.
func NewKey(runID, name string) string {
	name = strings.ReplaceAll(path.Base("/"+name), "..", "_")
	return path.Join("runs", runID, uuid.NewString()[:8]+"-"+name)
}

// Offload writes every in-memory artifact of a run to store and returns
// copies that carry the object key instead of the bytes. Artifacts that
// already have a key are kept as they are. On error the keys written so
// far are removed again.
func Offload(ctx context.Context, store ObjectStore, runID string, in []api.Artifact) ([]api.Artifact, error) {
	out := make([]api.Artifact, len(in))
	var written []string
	for i, a := range in {
		if a.Key != "" || a.Data == nil {
			out[i] = a
			continue
		}
		key := NewKey(runID, a.Name)
		if err := store.Put(ctx, key, a.ContentType(), a.Data); err != nil {
			for _, k := range written {
				_ = store.Delete(context.WithoutCancel(ctx), k)
			}
			return nil, fmt.Errorf("storing %s: %w", a.Name, err)
		}
		written = append(written, key)
		a.Key = key
		a.Data = nil
		out[i] = a
	}
	return out, nil
}

// Load returns the bytes of an artifact, reading them from store when the
// artifact was offloaded.
func Load(ctx context.Context, store ObjectStore, a *api.Artifact) ([]byte, error) {
	if a.Data != nil {
		return a.Data, nil
	}
	if a.Key == "" {
		return nil, ErrNotFound
	}
	if store == nil {
		return nil, fmt.Errorf("artifact %s is offloaded but no object store is configured", a.Name)
	}
	return store.Get(ctx, a.Key)
}
