package transport

import (
	"context"
	"io"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/storage"
)

// Visualizer handles the core visualize operation. A returned run may
// describe a failed execution; a returned error means no run was made.
type Visualizer interface {
	Visualize(ctx context.Context, req *api.VisualizeRequest) (*api.Run, error)
}

// VisualizerFunc is an adapter that allows using an ordinary function
// as a Visualizer.
type VisualizerFunc func(ctx context.Context, req *api.VisualizeRequest) (*api.Run, error)

// Visualize calls f(ctx, req).
func (f VisualizerFunc) Visualize(ctx context.Context, req *api.VisualizeRequest) (*api.Run, error) {
	return f(ctx, req)
}

// DatasetService manages uploaded datasets.
type DatasetService interface {
	AddDataset(ctx context.Context, filename string, r io.Reader) (*api.Dataset, error)
	GetDataset(ctx context.Context, id string) (*api.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
}

// RunService reads stored runs and records feedback on them.
type RunService interface {
	GetRun(ctx context.Context, id string) (*api.Run, error)
	ListRuns(ctx context.Context, opts storage.ListOptions) (*storage.RunList, error)
	Artifact(ctx context.Context, runID string, index int) (*api.Artifact, []byte, error)
	Diff(ctx context.Context, id, other string) (*api.ScriptDiff, error)
	Rate(ctx context.Context, runID string, req *api.RateRequest) (*api.RatingRecord, error)
	Stats(ctx context.Context) (api.RatingStats, error)
}

// Service is everything the HTTP adapter serves.
type Service interface {
	Visualizer
	DatasetService
	RunService

	// Health reports whether the backing stores are reachable.
	Health(ctx context.Context) error
}
