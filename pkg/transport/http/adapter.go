package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/storage"
	"github.com/rhuss/plotwise/pkg/transport"
)

// Adapter serves the plotwise API over HTTP.
// It routes requests to the service and serializes results as JSON.
type Adapter struct {
	svc        transport.Service
	visualizer transport.Visualizer
	inflight   *transport.InFlightRegistry
	mux        *http.ServeMux
	config     Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	MaxUploadSize   int64
	ShutdownTimeout int // seconds
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     1 << 20,  // 1 MB
		MaxUploadSize:   50 << 20, // 50 MB
		ShutdownTimeout: 30,
	}
}

// NewAdapter creates an HTTP adapter for the given service.
// Middleware is applied to the visualize operation in the given order.
func NewAdapter(svc transport.Service, cfg Config, middlewares ...transport.Middleware) *Adapter {
	var v transport.Visualizer = svc
	if len(middlewares) > 0 {
		v = transport.Chain(middlewares...)(v)
	}

	a := &Adapter{
		svc:        svc,
		visualizer: v,
		inflight:   transport.NewInFlightRegistry(),
		mux:        http.NewServeMux(),
		config:     cfg,
	}

	a.mux.HandleFunc("POST /v1/datasets", a.handleUploadDataset)
	a.mux.HandleFunc("GET /v1/datasets/{id}", a.handleGetDataset)
	a.mux.HandleFunc("DELETE /v1/datasets/{id}", a.handleDeleteDataset)
	a.mux.HandleFunc("POST /v1/visualizations", a.handleVisualize)
	a.mux.HandleFunc("DELETE /v1/visualizations/{request_id}", a.handleCancelVisualization)
	a.mux.HandleFunc("GET /v1/runs", a.handleListRuns)
	a.mux.HandleFunc("GET /v1/runs/{id}", a.handleGetRun)
	a.mux.HandleFunc("GET /v1/runs/{id}/artifacts/{index}", a.handleGetArtifact)
	a.mux.HandleFunc("GET /v1/runs/{id}/diff/{other}", a.handleDiff)
	a.mux.HandleFunc("POST /v1/runs/{id}/ratings", a.handleRate)
	a.mux.HandleFunc("GET /v1/ratings/stats", a.handleStats)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	return a
}

// Mux returns the underlying ServeMux so callers can mount extra routes
// such as /metrics or the MCP endpoint.
func (a *Adapter) Mux() *http.ServeMux {
	return a.mux
}

// Handler returns the mux behind request ID propagation: a client supplied
// X-Request-ID is kept, otherwise one is generated, and either way it is
// echoed on the response and carried in the request context.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		a.mux.ServeHTTP(w, r.WithContext(transport.WithRequestID(r.Context(), id)))
	})
}

// ---------------------------------------------------------------------------
// Datasets
// ---------------------------------------------------------------------------

// handleUploadDataset handles POST /v1/datasets (multipart field "file").
func (a *Adapter) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("file", fmt.Sprintf("upload too large (max %d bytes)", a.config.MaxUploadSize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("file", "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	ds, err := a.svc.AddDataset(r.Context(), header.Filename, file)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

// handleGetDataset handles GET /v1/datasets/{id}.
func (a *Adapter) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateDatasetID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed dataset ID"))
		return
	}
	ds, err := a.svc.GetDataset(r.Context(), id)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// handleDeleteDataset handles DELETE /v1/datasets/{id}.
func (a *Adapter) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateDatasetID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed dataset ID"))
		return
	}
	if err := a.svc.DeleteDataset(r.Context(), id); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Visualizations
// ---------------------------------------------------------------------------

// handleVisualize handles POST /v1/visualizations. A run is returned with
// 200 whether or not its execution succeeded.
func (a *Adapter) handleVisualize(w http.ResponseWriter, r *http.Request) {
	var req api.VisualizeRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	ctx, release := a.inflight.Track(r.Context(), transport.RequestIDFrom(r.Context()))
	defer release()

	run, err := a.visualizer.Visualize(ctx, &req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleCancelVisualization handles DELETE /v1/visualizations/{request_id}.
// Cancelling kills a running local script or aborts the remote call; the
// interrupted attempt is still stored as a run.
func (a *Adapter) handleCancelVisualization(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("request_id")
	if !a.inflight.Cancel(id) {
		transport.WriteAPIError(w, api.NewNotFoundError("no visualization in flight for request "+id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// handleListRuns handles GET /v1/runs.
func (a *Adapter) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	result, err := a.svc.ListRuns(r.Context(), opts)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetRun handles GET /v1/runs/{id}.
func (a *Adapter) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r, "id")
	if !ok {
		return
	}
	run, err := a.svc.GetRun(r.Context(), id)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetArtifact handles GET /v1/runs/{id}/artifacts/{index} and
// answers with the raw image bytes.
func (a *Adapter) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r, "id")
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("index", "index must be a non-negative integer"))
		return
	}

	art, data, err := a.svc.Artifact(r.Context(), id, index)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", art.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", art.Name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleDiff handles GET /v1/runs/{id}/diff/{other}.
func (a *Adapter) handleDiff(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r, "id")
	if !ok {
		return
	}
	other, ok := runIDParam(w, r, "other")
	if !ok {
		return
	}
	diff, err := a.svc.Diff(r.Context(), id, other)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// ---------------------------------------------------------------------------
// Ratings
// ---------------------------------------------------------------------------

// handleRate handles POST /v1/runs/{id}/ratings.
func (a *Adapter) handleRate(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r, "id")
	if !ok {
		return
	}
	var req api.RateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	rec, err := a.svc.Rate(r.Context(), id, &req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleStats handles GET /v1/ratings/stats.
func (a *Adapter) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Health(r.Context()); err != nil {
		http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// decodeJSON checks the content type, limits the body and decodes it into
// v. On failure it writes the error response and returns false.
func (a *Adapter) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func runIDParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if !api.ValidateRunID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError(name, "malformed run ID"))
		return "", false
	}
	return id, true
}

// parseListOptions extracts pagination parameters from query string.
func parseListOptions(r *http.Request) (storage.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		DatasetID: q.Get("dataset_id"),
		After:     q.Get("after"),
		Order:     q.Get("order"),
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'")
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}
	if opts.After != "" && !api.ValidateRunID(opts.After) {
		return opts, api.NewInvalidRequestError("after", "malformed run ID")
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
