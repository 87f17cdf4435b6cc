package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/debug"
)

// Acquirer provides the base URL of a remote service instance. The release
// function must be called once the instance is no longer needed.
type Acquirer interface {
	Acquire(ctx context.Context) (baseURL string, release func(), err error)
}

// StaticAcquirer always returns the same URL.
type StaticAcquirer struct {
	URL string
}

// Acquire implements Acquirer.
func (a *StaticAcquirer) Acquire(context.Context) (string, func(), error) {
	return a.URL, func() {}, nil
}

// Executor runs plans on the remote service, acquiring an instance per
// attempt. An on-demand instance that passed the availability check is
// kept for the next Execute so it is not claimed twice.
type Executor struct {
	acquirer Acquirer
	client   *Client
	logger   *slog.Logger

	mu     sync.Mutex
	warmed []instance
}

type instance struct {
	url     string
	release func()
}

// NewExecutor creates an Executor.
func NewExecutor(acquirer Acquirer, client *Client) *Executor {
	return &Executor{acquirer: acquirer, client: client, logger: client.logger}
}

// Available reports whether a remote attempt can be made: the instance
// must answer GET /health. A static URL is checked directly; an on-demand
// instance is acquired and checked, and released again when unhealthy.
func (e *Executor) Available(ctx context.Context) bool {
	if static, ok := e.acquirer.(*StaticAcquirer); ok {
		if err := e.client.Health(ctx, static.URL); err != nil {
			debug.Log("remote", "health check failed", "url", static.URL, "error", err.Error())
			return false
		}
		return true
	}

	inst, err := e.acquireHealthy(ctx)
	if err != nil {
		debug.Log("remote", "remote instance unavailable", "error", err.Error())
		return false
	}
	e.mu.Lock()
	e.warmed = append(e.warmed, inst)
	e.mu.Unlock()
	return true
}

// Execute makes one remote attempt. The result is never nil.
func (e *Executor) Execute(ctx context.Context, prompt string, summary *api.DatasetSummary) *api.ExecutionResult {
	inst, ok := e.takeWarmed()
	if !ok {
		var err error
		if inst, err = e.acquireHealthy(ctx); err != nil {
			e.logger.Warn("remote acquisition failed", slog.String("error", err.Error()))
			return api.NewFailedResult(api.RouteRemote,
				api.NewExecutionError(api.CodeRemoteUnreachable, "%v", err))
		}
	}
	defer inst.release()
	return e.client.Visualize(ctx, inst.url, prompt, summary)
}

// Close releases instances acquired by Available that were never used.
func (e *Executor) Close() error {
	e.mu.Lock()
	warmed := e.warmed
	e.warmed = nil
	e.mu.Unlock()
	for _, inst := range warmed {
		inst.release()
	}
	return nil
}

func (e *Executor) takeWarmed() (instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.warmed) == 0 {
		return instance{}, false
	}
	inst := e.warmed[0]
	e.warmed = e.warmed[1:]
	return inst, true
}

// acquireHealthy acquires an instance and, unless it is the static URL
// (checked by Available), checks its health.
func (e *Executor) acquireHealthy(ctx context.Context) (instance, error) {
	url, release, err := e.acquirer.Acquire(ctx)
	if err != nil {
		return instance{}, fmt.Errorf("acquiring remote instance: %w", err)
	}
	if _, static := e.acquirer.(*StaticAcquirer); !static {
		if err := e.client.Health(ctx, url); err != nil {
			release()
			return instance{}, fmt.Errorf("remote instance not healthy: %w", err)
		}
	}
	return instance{url: url, release: release}, nil
}
