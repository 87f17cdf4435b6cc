package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/artifacts"
	"github.com/rhuss/plotwise/pkg/dataset"
	"github.com/rhuss/plotwise/pkg/debug"
	"github.com/rhuss/plotwise/pkg/interpret"
	"github.com/rhuss/plotwise/pkg/observability"
	"github.com/rhuss/plotwise/pkg/routing"
	"github.com/rhuss/plotwise/pkg/sandbox"
	"github.com/rhuss/plotwise/pkg/storage"
)

// LocalExecutor runs a plan in the local sandbox. *sandbox.Runner
// implements it.
type LocalExecutor interface {
	Execute(ctx context.Context, req *sandbox.Request) *api.ExecutionResult
}

// RemoteExecutor delegates a request to the remote visualization service.
// *remote.Executor implements it.
type RemoteExecutor interface {
	Available(ctx context.Context) bool
	Execute(ctx context.Context, prompt string, summary *api.DatasetSummary) *api.ExecutionResult
}

// Engine runs the visualization pipeline. It is safe for concurrent use;
// every request gets its own plan, working directory or HTTP call.
type Engine struct {
	datasets    *dataset.Registry
	interpreter *interpret.Interpreter
	policy      *routing.Policy
	local       LocalExecutor
	remote      RemoteExecutor
	store       storage.Store
	blobs       artifacts.ObjectStore
	profileOpts dataset.Options
	cfg         Config
	logger      *slog.Logger
}

// Option configures optional engine dependencies.
type Option func(*Engine)

// WithRemote enables remote routing through r.
func WithRemote(r RemoteExecutor) Option {
	return func(e *Engine) { e.remote = r }
}

// WithObjectStore moves artifact bytes into s before runs are persisted.
func WithObjectStore(s artifacts.ObjectStore) Option {
	return func(e *Engine) { e.blobs = s }
}

// WithDatasets replaces the default unbounded dataset registry.
func WithDatasets(r *dataset.Registry) Option {
	return func(e *Engine) { e.datasets = r }
}

// WithPolicy replaces the default routing policy.
func WithPolicy(p *routing.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithProfileOptions tunes dataset profiling on upload.
func WithProfileOptions(o dataset.Options) Option {
	return func(e *Engine) { e.profileOpts = o }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. The store, interpreter and local executor are
// required; the remote executor and object store are optional.
func New(store storage.Store, interpreter *interpret.Interpreter, local LocalExecutor, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: store must not be nil")
	}
	if interpreter == nil {
		return nil, errors.New("engine: interpreter must not be nil")
	}
	if local == nil {
		return nil, errors.New("engine: local executor must not be nil")
	}
	e := &Engine{
		datasets:    dataset.NewRegistry(0),
		interpreter: interpreter,
		policy:      routing.NewPolicy(routing.DefaultThreshold, nil),
		local:       local,
		store:       store,
		cfg:         cfg,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RemoteEnabled reports whether a remote executor is configured.
func (e *Engine) RemoteEnabled() bool {
	return e.remote != nil
}

// ---------------------------------------------------------------------------
// Datasets
// ---------------------------------------------------------------------------

// AddDataset parses an uploaded CSV or XLSX file, profiles it and
// registers it under a new dataset ID.
func (e *Engine) AddDataset(ctx context.Context, filename string, r io.Reader) (*api.Dataset, error) {
	format, err := dataset.DetectFormat(filename)
	if err != nil {
		return nil, api.NewInvalidRequestError("file", err.Error())
	}
	table, err := dataset.Read(r, format)
	if err != nil {
		return nil, api.NewInvalidRequestError("file", fmt.Sprintf("reading %s: %v", filename, err))
	}
	entry := e.datasets.Add(filename, table, e.profileOpts)

	e.logger.InfoContext(ctx, "dataset registered",
		slog.String("dataset_id", entry.Dataset.ID),
		slog.String("filename", filename),
		slog.Int("rows", entry.Dataset.Summary.RowCount),
		slog.Int("columns", len(entry.Dataset.Summary.Columns)))
	return &entry.Dataset, nil
}

// GetDataset returns a registered dataset.
func (e *Engine) GetDataset(_ context.Context, id string) (*api.Dataset, error) {
	entry, err := e.datasets.Get(id)
	if err != nil {
		return nil, api.NewNotFoundError(fmt.Sprintf("dataset %q not found", id))
	}
	return &entry.Dataset, nil
}

// DeleteDataset forgets an uploaded dataset. Runs made from it stay in the
// result store.
func (e *Engine) DeleteDataset(_ context.Context, id string) error {
	if err := e.datasets.Delete(id); err != nil {
		return api.NewNotFoundError(fmt.Sprintf("dataset %q not found", id))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Visualization
// ---------------------------------------------------------------------------

// Visualize runs one request through interpretation, routing and
// execution and persists the outcome as a run. Invalid requests, unknown
// datasets and an impossible forced route are reported as *api.APIError;
// every execution outcome, failures included, comes back as a stored run.
func (e *Engine) Visualize(ctx context.Context, req *api.VisualizeRequest) (*api.Run, error) {
	if apiErr := api.ValidateVisualizeRequest(req, e.cfg.Validation); apiErr != nil {
		return nil, apiErr
	}
	entry, err := e.datasets.Get(req.DatasetID)
	if err != nil {
		return nil, api.NewNotFoundError(fmt.Sprintf("dataset %q not found", req.DatasetID))
	}
	if req.RetryOf != "" {
		if _, err := e.store.GetRun(ctx, req.RetryOf); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, api.NewNotFoundError(fmt.Sprintf("run %q not found", req.RetryOf))
			}
			return nil, fmt.Errorf("loading run %s: %w", req.RetryOf, err)
		}
	}
	forced := api.Route(req.Route)
	if forced == api.RouteRemote && e.remote == nil {
		return nil, api.NewUnavailableError("remote execution is not configured")
	}

	summary := &entry.Dataset.Summary
	plan := e.plan(ctx, summary, req.Prompt)
	route := e.route(ctx, plan, forced)

	start := time.Now()
	var result *api.ExecutionResult
	switch route {
	case api.RouteRemote:
		result = e.remote.Execute(ctx, req.Prompt, summary)
		observability.RemoteLatency.Observe(time.Since(start).Seconds())
	default:
		observability.SandboxActive.Inc()
		result = e.local.Execute(ctx, &sandbox.Request{Summary: summary, Plan: plan, Data: entry.Table})
		observability.SandboxActive.Dec()
		observability.SandboxDuration.Observe(time.Since(start).Seconds())
		if result.Success && !result.NoArtifacts && e.cfg.Insight {
			e.explain(ctx, summary, plan, result)
		}
	}
	if result.DurationMS == 0 {
		result.DurationMS = time.Since(start).Milliseconds()
	}
	observability.ExecutionsTotal.WithLabelValues(string(result.Route), result.Outcome()).Inc()

	// A cancelled or timed-out request still records its attempt.
	run := api.NewRun(req, plan, result)
	if err := e.persist(context.WithoutCancel(ctx), run); err != nil {
		return nil, err
	}

	attrs := []slog.Attr{
		slog.String("run_id", run.ID),
		slog.String("dataset_id", run.DatasetID),
		slog.String("route", string(run.Route)),
		slog.String("outcome", run.Outcome()),
		slog.Int("artifacts", len(run.Artifacts)),
		slog.Int64("duration_ms", run.DurationMS),
	}
	if run.RetryOf != "" {
		attrs = append(attrs, slog.String("retry_of", run.RetryOf))
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "visualization finished", attrs...)
	return run, nil
}

// plan interprets the request. A failing model call degrades to the
// rule-based plan so routing still has something to decide on.
func (e *Engine) plan(ctx context.Context, summary *api.DatasetSummary, prompt string) *api.VisualizationPlan {
	plan, err := e.interpreter.Interpret(ctx, summary, prompt)
	if err != nil {
		e.logger.WarnContext(ctx, "interpretation failed, using rule-based plan",
			slog.String("error", err.Error()))
		plan = interpret.Heuristic(summary, prompt)
	}
	debug.Log("engine", "plan",
		"kinds", plan.ChartKinds, "columns", plan.Columns,
		"complexity", plan.Complexity, "specific", plan.Specific)
	return plan
}

// route honors a forced route and otherwise asks the routing policy. The
// remote service is only probed when the plan could go remote at all.
func (e *Engine) route(ctx context.Context, plan *api.VisualizationPlan, forced api.Route) api.Route {
	if forced == api.RouteLocal || forced == api.RouteRemote {
		observability.RouteDecisionsTotal.WithLabelValues(string(forced), "true").Inc()
		debug.Log("engine", "route forced", "route", forced)
		return forced
	}
	available := false
	if e.remote != nil {
		if wanted, _ := e.policy.Explain(plan, true); wanted == api.RouteRemote {
			available = e.remote.Available(ctx)
		}
	}
	route := e.policy.Decide(plan, available)
	observability.RouteDecisionsTotal.WithLabelValues(string(route), "false").Inc()
	return route
}

func (e *Engine) explain(ctx context.Context, summary *api.DatasetSummary, plan *api.VisualizationPlan, result *api.ExecutionResult) {
	insight, err := e.interpreter.Explain(ctx, summary, plan, result.Artifacts)
	if err != nil {
		e.logger.WarnContext(ctx, "insight generation failed", slog.String("error", err.Error()))
		return
	}
	result.Insight = insight
}

// persist offloads artifact bytes when an object store is configured and
// saves the run. The returned run keeps its in-memory bytes either way.
func (e *Engine) persist(ctx context.Context, run *api.Run) error {
	stored := run
	if e.blobs != nil && len(run.Artifacts) > 0 {
		offloaded, err := artifacts.Offload(ctx, e.blobs, run.ID, run.Artifacts)
		if err != nil {
			e.logger.WarnContext(ctx, "artifact offload failed, storing inline",
				slog.String("run_id", run.ID), slog.String("error", err.Error()))
		} else {
			cp := *run
			cp.Artifacts = offloaded
			stored = &cp
			for i := range run.Artifacts {
				run.Artifacts[i].Key = offloaded[i].Key
			}
		}
	}
	if err := e.store.SaveRun(ctx, stored); err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// GetRun returns a stored run.
func (e *Engine) GetRun(ctx context.Context, id string) (*api.Run, error) {
	run, err := e.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, api.NewNotFoundError(fmt.Sprintf("run %q not found", id))
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns a page of stored runs without artifact bytes.
func (e *Engine) ListRuns(ctx context.Context, opts storage.ListOptions) (*storage.RunList, error) {
	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return nil, api.NewInvalidRequestError("order", `order must be "asc" or "desc"`)
	}
	return e.store.ListRuns(ctx, opts)
}

// Artifact returns the artifact at index of a run together with its bytes.
func (e *Engine) Artifact(ctx context.Context, runID string, index int) (*api.Artifact, []byte, error) {
	run, err := e.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if index < 0 || index >= len(run.Artifacts) {
		return nil, nil, api.NewNotFoundError(
			"run " + runID + " has no artifact " + strconv.Itoa(index))
	}
	a := &run.Artifacts[index]
	data, err := artifacts.Load(ctx, e.blobs, a)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, nil, api.NewNotFoundError(fmt.Sprintf("artifact %s of run %s is gone", a.Name, runID))
		}
		return nil, nil, fmt.Errorf("loading artifact: %w", err)
	}
	return a, data, nil
}

// ---------------------------------------------------------------------------
// Ratings
// ---------------------------------------------------------------------------

// Rate records good (1) or bad (0) feedback for a run. Rating a run again
// replaces the earlier rating.
func (e *Engine) Rate(ctx context.Context, runID string, req *api.RateRequest) (*api.RatingRecord, error) {
	score, apiErr := api.ValidateRateRequest(req, e.cfg.Validation)
	if apiErr != nil {
		return nil, apiErr
	}
	rec := &api.RatingRecord{
		ID:        api.NewRatingID(),
		RunID:     runID,
		Score:     score,
		Feedback:  req.Feedback,
		CreatedAt: time.Now().Unix(),
	}
	if err := e.store.SaveRating(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, api.NewNotFoundError(fmt.Sprintf("run %q not found", runID))
		}
		return nil, fmt.Errorf("saving rating: %w", err)
	}
	observability.RatingsTotal.WithLabelValues(observability.ScoreLabel(score)).Inc()
	debug.Log("engine", "run rated", "run_id", runID, "score", score)
	return rec, nil
}

// Stats aggregates all ratings.
func (e *Engine) Stats(ctx context.Context) (api.RatingStats, error) {
	return e.store.RatingStats(ctx)
}

// Health checks the result store and, when configured, the object store.
func (e *Engine) Health(ctx context.Context) error {
	if err := e.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("result store: %w", err)
	}
	if e.blobs != nil {
		if err := e.blobs.Ping(ctx); err != nil {
			return fmt.Errorf("object store: %w", err)
		}
	}
	return nil
}
