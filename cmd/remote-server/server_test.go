package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/remote"
	"github.com/rhuss/plotwise/pkg/sandbox"
)

type fakePlanner struct {
	err     error
	insight string
}

func (f *fakePlanner) Interpret(_ context.Context, _ *api.DatasetSummary, request string) (*api.VisualizationPlan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &api.VisualizationPlan{Prompt: request, ChartKinds: []api.ChartKind{api.ChartScatter3D}, Specific: true}, nil
}

func (f *fakePlanner) Explain(context.Context, *api.DatasetSummary, *api.VisualizationPlan, []api.Artifact) (string, error) {
	return f.insight, nil
}

type fakeExecutor struct {
	mu      sync.Mutex
	got     *sandbox.Request
	result  *api.ExecutionResult
	block   chan struct{}
	started chan struct{}
}

func (f *fakeExecutor) Execute(_ context.Context, req *sandbox.Request) *api.ExecutionResult {
	f.mu.Lock()
	f.got = req
	f.mu.Unlock()
	if f.block != nil {
		f.started <- struct{}{}
		<-f.block
	}
	return f.result
}

func requestBody(t *testing.T, prompt string) *bytes.Reader {
	t.Helper()
	info := remote.NewDatasetInfo(&api.DatasetSummary{
		Columns: []api.Column{
			{Name: "x", Type: api.ColumnNumeric},
			{Name: "y", Type: api.ColumnNumeric},
			{Name: "z", Type: api.ColumnNumeric},
		},
		RowCount: 100,
		Sample:   []map[string]any{{"x": 1.0, "y": 2.0, "z": 3.0}},
	})
	body, err := json.Marshal(remote.VisualizeRequest{Prompt: prompt, DatasetInfo: info, OutputFormat: "png"})
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(body)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) remote.VisualizeResponse {
	t.Helper()
	var vr remote.VisualizeResponse
	if err := json.NewDecoder(rec.Body).Decode(&vr); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return vr
}

func TestVisualizeReturnsImages(t *testing.T) {
	exec := &fakeExecutor{result: &api.ExecutionResult{
		Route:     api.RouteLocal,
		Success:   true,
		Artifacts: []api.Artifact{{Name: "main.png", Format: "png", Size: 3, Data: []byte("PNG")}},
		Script:    "import matplotlib",
	}}
	srv := newRemoteServer(&fakePlanner{insight: "points cluster"}, exec, 2)

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/advanced-visualization", requestBody(t, "3d scatter of x y z")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	vr := decodeResponse(t, rec)
	res := remote.Normalize(&vr, "png")
	if !res.Success || len(res.Artifacts) != 1 || string(res.Artifacts[0].Data) != "PNG" {
		t.Fatalf("normalized = %+v", res)
	}
	if res.Insight != "points cluster" || res.Script != "import matplotlib" {
		t.Errorf("insight=%q script=%q", res.Insight, res.Script)
	}

	if exec.got.Data == nil || len(exec.got.Data.Rows) != 1 || exec.got.Data.Rows[0][2] != "3" {
		t.Errorf("sandbox data = %+v", exec.got.Data)
	}
	if !strings.Contains(exec.got.Plan.Prompt, "png") {
		t.Errorf("plan prompt = %q", exec.got.Plan.Prompt)
	}
}

func TestVisualizeFallsBackToHeuristicPlan(t *testing.T) {
	exec := &fakeExecutor{result: &api.ExecutionResult{Success: true, NoArtifacts: true}}
	srv := newRemoteServer(&fakePlanner{err: errors.New("provider down")}, exec, 1)

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/advanced-visualization", requestBody(t, "histogram of x")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if exec.got.Plan == nil || !exec.got.Plan.HasKind(api.ChartHistogram) {
		t.Errorf("plan = %+v", exec.got.Plan)
	}
	vr := decodeResponse(t, rec)
	if !vr.Success || !strings.Contains(string(vr.Logs), "no charts") {
		t.Errorf("response = %+v", vr)
	}
}

func TestVisualizeScriptFailure(t *testing.T) {
	exec := &fakeExecutor{result: &api.ExecutionResult{
		Error:  api.NewExecutionError(api.CodeRuntime, "exit status 1"),
		Stderr: "Traceback\nKeyError: 'w'",
	}}
	srv := newRemoteServer(&fakePlanner{}, exec, 1)

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/advanced-visualization", requestBody(t, "surface")))

	vr := decodeResponse(t, rec)
	if vr.Success || vr.Error != "exit status 1" || !strings.Contains(string(vr.Logs), "KeyError") {
		t.Errorf("response = %+v", vr)
	}
}

func TestVisualizeBadRequests(t *testing.T) {
	srv := newRemoteServer(&fakePlanner{}, &fakeExecutor{}, 1)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"no prompt", `{"prompt":"  ","dataset_info":{"columns":["x"]}}`},
		{"no columns", `{"prompt":"bar","dataset_info":{"columns":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/advanced-visualization", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestVisualizeAtCapacity(t *testing.T) {
	exec := &fakeExecutor{
		result:  &api.ExecutionResult{Success: true, NoArtifacts: true},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	srv := newRemoteServer(&fakePlanner{}, exec, 1)
	handler := srv.routes()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/advanced-visualization", requestBody(t, "bar")))
	}()
	<-exec.started

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/advanced-visualization", requestBody(t, "bar")))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	var h healthResponse
	json.NewDecoder(health.Body).Decode(&h)
	if h.Status != "healthy" || h.Capacity != 1 || h.CurrentLoad != 1 {
		t.Errorf("health = %+v", h)
	}

	close(exec.block)
	<-done
}
