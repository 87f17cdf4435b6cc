package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/debug"
	"github.com/rhuss/plotwise/pkg/interpret"
	"github.com/rhuss/plotwise/pkg/remote"
	"github.com/rhuss/plotwise/pkg/sandbox"
)

const maxRequestBody = 10 << 20

// planner turns a prompt into a plan and explains the result.
type planner interface {
	Interpret(ctx context.Context, summary *api.DatasetSummary, request string) (*api.VisualizationPlan, error)
	Explain(ctx context.Context, summary *api.DatasetSummary, plan *api.VisualizationPlan, artifacts []api.Artifact) (string, error)
}

// executor runs a plan against data.
type executor interface {
	Execute(ctx context.Context, req *sandbox.Request) *api.ExecutionResult
}

type remoteServer struct {
	planner       planner
	executor      executor
	maxConcurrent int32
	currentLoad   atomic.Int32
	startTime     time.Time
}

func newRemoteServer(p planner, e executor, maxConcurrent int) *remoteServer {
	return &remoteServer{
		planner:       p,
		executor:      e,
		maxConcurrent: int32(maxConcurrent),
		startTime:     time.Now(),
	}
}

func (s *remoteServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /advanced-visualization", s.handleVisualize)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *remoteServer) handleVisualize(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)

	if current > s.maxConcurrent {
		writeJSON(w, http.StatusTooManyRequests, remote.VisualizeResponse{
			Error: fmt.Sprintf("at capacity (%d/%d concurrent requests)", current, s.maxConcurrent),
		})
		return
	}

	var req remote.VisualizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, remote.VisualizeResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, remote.VisualizeResponse{Error: "prompt is required"})
		return
	}
	if len(req.DatasetInfo.Columns) == 0 {
		writeJSON(w, http.StatusBadRequest, remote.VisualizeResponse{Error: "dataset_info.columns is required"})
		return
	}

	slog.Info("visualization request",
		"prompt", debug.Truncate(req.Prompt, 120),
		"columns", len(req.DatasetInfo.Columns),
		"sample_rows", len(req.DatasetInfo.SampleData),
		"format", req.OutputFormat)

	summary := req.DatasetInfo.Summary()
	plan, err := s.planner.Interpret(r.Context(), &summary, req.Prompt)
	if err != nil {
		slog.Warn("planning failed, using rule-based plan", "error", err)
		plan = interpret.Heuristic(&summary, req.Prompt)
	}
	if req.OutputFormat != "" {
		plan.Prompt += "\nSave every chart as " + req.OutputFormat + "."
	}

	start := time.Now()
	res := s.executor.Execute(r.Context(), &sandbox.Request{
		Summary: &summary,
		Plan:    plan,
		Data:    req.DatasetInfo.SampleTable(),
	})
	if res.Error == nil && len(res.Artifacts) > 0 {
		insight, err := s.planner.Explain(r.Context(), &summary, plan, res.Artifacts)
		if err != nil {
			slog.Warn("insight failed", "error", err)
		}
		res.Insight = insight
	}
	if res.Error == nil && res.NoArtifacts {
		res.Logs = append(res.Logs, "script ran but saved no charts")
	}

	slog.Info("visualization complete",
		"outcome", res.Outcome(),
		"artifacts", len(res.Artifacts),
		"duration_ms", time.Since(start).Milliseconds())

	writeJSON(w, http.StatusOK, remote.NewVisualizeResponse(res))
}

type healthResponse struct {
	Status      string `json:"status"`
	Capacity    int    `json:"capacity"`
	CurrentLoad int    `json:"current_load"`
	UptimeSecs  int64  `json:"uptime_seconds"`
}

func (s *remoteServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		Capacity:    int(s.maxConcurrent),
		CurrentLoad: int(s.currentLoad.Load()),
		UptimeSecs:  int64(time.Since(s.startTime).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
