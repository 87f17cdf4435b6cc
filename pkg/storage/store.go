package storage

import (
	"context"

	"github.com/rhuss/plotwise/pkg/api"
)

// Store persists runs and ratings. Implementations must be safe for
// concurrent use and scope every operation to the tenant in the context,
// when one is set.
type Store interface {
	// SaveRun persists a finished run, artifacts included. Returns
	// ErrConflict when the ID is taken.
	SaveRun(ctx context.Context, run *api.Run) error

	// GetRun returns a run with its artifacts. Returns ErrNotFound when
	// the run does not exist.
	GetRun(ctx context.Context, id string) (*api.Run, error)

	// ListRuns returns runs newest first, without artifact bytes.
	ListRuns(ctx context.Context, opts ListOptions) (*RunList, error)

	// SaveRating records a rating for an existing run, replacing any
	// earlier rating of the same run. Returns ErrNotFound for unknown runs.
	SaveRating(ctx context.Context, rating *api.RatingRecord) error

	// RatingStats aggregates the latest rating of every rated run.
	RatingStats(ctx context.Context) (api.RatingStats, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Pagination bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListOptions filters and paginates ListRuns.
type ListOptions struct {
	DatasetID string
	Limit     int
	After     string
	Order     string // "asc" or "desc" (default)
}

// EffectiveLimit clamps Limit into [1, MaxListLimit].
func (o ListOptions) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return o.Limit
	}
}

// RunList is a page of runs.
type RunList struct {
	Object  string     `json:"object"`
	Data    []*api.Run `json:"data"`
	FirstID string     `json:"first_id,omitempty"`
	LastID  string     `json:"last_id,omitempty"`
	HasMore bool       `json:"has_more"`
}

// NewRunList builds a page from runs already trimmed to limit+1 entries.
func NewRunList(runs []*api.Run, limit int) *RunList {
	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	if runs == nil {
		runs = []*api.Run{}
	}
	l := &RunList{Object: "list", Data: runs, HasMore: hasMore}
	if len(runs) > 0 {
		l.FirstID = runs[0].ID
		l.LastID = runs[len(runs)-1].ID
	}
	return l
}

// StripArtifactData returns a shallow copy of run whose artifacts carry
// metadata only.
func StripArtifactData(run *api.Run) *api.Run {
	cp := *run
	if len(run.Artifacts) > 0 {
		cp.Artifacts = make([]api.Artifact, len(run.Artifacts))
		for i, a := range run.Artifacts {
			a.Data = nil
			cp.Artifacts[i] = a
		}
	}
	return &cp
}

type tenantKey struct{}

// SetTenant scopes ctx to a tenant. Stores filter every read and tag every
// write with it.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant returns the tenant in ctx, or "" in single-tenant mode.
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
