package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/artifacts"
	"github.com/rhuss/plotwise/pkg/interpret"
	"github.com/rhuss/plotwise/pkg/observability"
	"github.com/rhuss/plotwise/pkg/provider"
	"github.com/rhuss/plotwise/pkg/remote"
	"github.com/rhuss/plotwise/pkg/sandbox"
	"github.com/rhuss/plotwise/pkg/storage"
	"github.com/rhuss/plotwise/pkg/storage/memory"
)

const (
	revenueCSV = "date,revenue\n2024-01-01,10\n2024-01-02,12\n2024-01-03,9\n"
	xyzCSV     = "x,y,z\n1,2,3\n4,5,6\n7,8,9\n"
)

// shellGenerator writes one chart per plan, except for 3D plans, which
// fail the way a sandbox without 3D support would.
var shellGenerator = sandbox.GeneratorFunc(func(_ context.Context, _ *api.DatasetSummary, plan *api.VisualizationPlan) (string, error) {
	if plan.HasKind(api.ChartScatter3D) {
		return `echo "ModuleNotFoundError: No module named 'mpl_toolkits'" >&2; exit 1`, nil
	}
	return `head -1 "$DATASET_PATH"; printf 'PNG' > "$OUTPUT_DIR/main.png"`, nil
})

type testEnv struct {
	engine *Engine
	store  *memory.Store
	root   string
}

type envOption func(*testing.T, *[]Option, *Config)

func withRemoteServer(srv *httptest.Server) envOption {
	return func(_ *testing.T, opts *[]Option, _ *Config) {
		ex := remote.NewExecutor(&remote.StaticAcquirer{URL: srv.URL}, remote.NewClient())
		*opts = append(*opts, WithRemote(ex))
	}
}

func newTestEnv(t *testing.T, p provider.Provider, extra ...envOption) *testEnv {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()
	runner := sandbox.New(sandbox.Config{Interpreter: "sh", WorkRoot: root}, shellGenerator)
	store := memory.New(0)
	cfg := DefaultConfig()
	var opts []Option
	for _, x := range extra {
		x(t, &opts, &cfg)
	}
	e, err := New(store, interpret.New(p, "test-model"), runner, cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{engine: e, store: store, root: root}
}

func (env *testEnv) upload(t *testing.T, name, content string) *api.Dataset {
	t.Helper()
	ds, err := env.engine.AddDataset(context.Background(), name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("AddDataset: %v", err)
	}
	return ds
}

// remoteServer answers the advanced-visualization contract. A false
// healthy flag makes GET /health fail.
func remoteServer(t *testing.T, healthy bool, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/advanced-visualization":
			calls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"success":       true,
				"visualization": base64.StdEncoding.EncodeToString([]byte("3D-PNG")),
				"insight":       "points lie on a line",
				"logs":          []string{"rendered scatter_3d"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresDependencies(t *testing.T) {
	store := memory.New(0)
	interp := interpret.New(nil, "")
	runner := sandbox.New(sandbox.Config{}, nil)
	if _, err := New(nil, interp, runner, Config{}); err == nil {
		t.Error("nil store should fail")
	}
	if _, err := New(store, nil, runner, Config{}); err == nil {
		t.Error("nil interpreter should fail")
	}
	if _, err := New(store, interp, nil, Config{}); err == nil {
		t.Error("nil local executor should fail")
	}
}

// A basic line chart stays local and yields exactly one artifact.
func TestVisualize_LineChartRunsLocally(t *testing.T) {
	env := newTestEnv(t, nil)
	ds := env.upload(t, "revenue.csv", revenueCSV)

	run, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "line chart of revenue over date",
	})
	if err != nil {
		t.Fatalf("Visualize: %v", err)
	}
	if run.Route != api.RouteLocal {
		t.Errorf("route = %q, want local", run.Route)
	}
	if !run.Success || run.NoArtifacts || run.Error != nil {
		t.Fatalf("result = %+v", run.ExecutionResult)
	}
	if len(run.Artifacts) != 1 || run.Artifacts[0].Name != "main.png" {
		t.Fatalf("artifacts = %+v", run.Artifacts)
	}
	if !strings.Contains(run.Stdout, "date,revenue") {
		t.Errorf("dataset not visible to script: %q", run.Stdout)
	}
	if run.Plan == nil || !run.Plan.HasKind(api.ChartLine) {
		t.Errorf("plan = %+v", run.Plan)
	}

	stored, err := env.engine.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Script == "" || stored.DatasetID != ds.ID {
		t.Errorf("stored run = %+v", stored)
	}
}

// A 3D scatter goes remote when the service is healthy.
func TestVisualize_AdvancedPlanRunsRemotely(t *testing.T) {
	var calls atomic.Int32
	srv := remoteServer(t, true, &calls)
	env := newTestEnv(t, nil, withRemoteServer(srv))
	ds := env.upload(t, "xyz.csv", xyzCSV)

	before := testutil.ToFloat64(observability.ExecutionsTotal.WithLabelValues("remote", "success"))
	run, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "3d scatter of x y z",
	})
	if err != nil {
		t.Fatalf("Visualize: %v", err)
	}
	if run.Route != api.RouteRemote || calls.Load() != 1 {
		t.Fatalf("route = %q, remote calls = %d", run.Route, calls.Load())
	}
	if !run.Success || len(run.Artifacts) != 1 || string(run.Artifacts[0].Data) != "3D-PNG" {
		t.Fatalf("result = %+v", run.ExecutionResult)
	}
	if run.Insight != "points lie on a line" {
		t.Errorf("insight = %q", run.Insight)
	}
	if after := testutil.ToFloat64(observability.ExecutionsTotal.WithLabelValues("remote", "success")); after-before != 1 {
		t.Errorf("executions metric delta = %v", after-before)
	}
}

// With the service down a 3D plan runs locally and its failure is
// reported as a runtime error of the 3D attempt.
func TestVisualize_AdvancedPlanFallsToLocalWhenRemoteDown(t *testing.T) {
	var calls atomic.Int32
	srv := remoteServer(t, false, &calls)
	env := newTestEnv(t, nil, withRemoteServer(srv))
	ds := env.upload(t, "xyz.csv", xyzCSV)

	run, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "3d scatter of x y z",
	})
	if err != nil {
		t.Fatalf("Visualize: %v", err)
	}
	if run.Route != api.RouteLocal || calls.Load() != 0 {
		t.Fatalf("route = %q, remote calls = %d", run.Route, calls.Load())
	}
	if run.Success || run.Error == nil || run.Error.Code != api.CodeRuntime {
		t.Fatalf("expected runtime_error, got %+v", run.ExecutionResult)
	}
	if !run.Plan.HasKind(api.ChartScatter3D) {
		t.Errorf("plan changed kinds: %v", run.Plan.ChartKinds)
	}
	if !strings.Contains(run.Stderr, "mpl_toolkits") {
		t.Errorf("stderr = %q", run.Stderr)
	}
}

func TestVisualize_BasicPlanSkipsRemoteHealth(t *testing.T) {
	var healthCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthCalls.Add(1)
	}))
	t.Cleanup(srv.Close)
	env := newTestEnv(t, nil, withRemoteServer(srv))
	ds := env.upload(t, "revenue.csv", revenueCSV)

	run, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{DatasetID: ds.ID, Prompt: "bar chart of revenue"})
	if err != nil {
		t.Fatal(err)
	}
	if run.Route != api.RouteLocal || healthCalls.Load() != 0 {
		t.Errorf("route = %q, healthCalls = %d", run.Route, healthCalls.Load())
	}
}

func TestVisualize_ForcedRoutesAndRetry(t *testing.T) {
	var calls atomic.Int32
	srv := remoteServer(t, true, &calls)
	env := newTestEnv(t, nil, withRemoteServer(srv))
	ds := env.upload(t, "xyz.csv", xyzCSV)
	ctx := context.Background()

	local, err := env.engine.Visualize(ctx, &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "3d scatter of x y z", Route: "local",
	})
	if err != nil {
		t.Fatal(err)
	}
	if local.Route != api.RouteLocal || !local.Forced || local.Error == nil {
		t.Fatalf("forced local = %+v", local)
	}

	retry, err := env.engine.Visualize(ctx, &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "3d scatter of x y z", Route: "remote", RetryOf: local.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if retry.Route != api.RouteRemote || !retry.Forced || retry.RetryOf != local.ID || !retry.Success {
		t.Fatalf("retry = %+v", retry)
	}

	list, err := env.engine.ListRuns(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 2 {
		t.Errorf("both attempts should be stored, got %d", len(list.Data))
	}

	_, err = env.engine.Visualize(ctx, &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "again", RetryOf: "run_" + strings.Repeat("x", 24),
	})
	assertAPIError(t, err, api.ErrorTypeNotFound)
}

func TestVisualize_ForcedRemoteWithoutRemote(t *testing.T) {
	env := newTestEnv(t, nil)
	ds := env.upload(t, "xyz.csv", xyzCSV)
	_, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "3d scatter", Route: "remote",
	})
	assertAPIError(t, err, api.ErrorTypeUnavailable)
}

func TestVisualize_RemoteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	env := newTestEnv(t, nil, withRemoteServer(srv))
	ds := env.upload(t, "xyz.csv", xyzCSV)

	run, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "3d scatter of x y z", Route: "remote",
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.Success || run.Error == nil || run.Error.Code != api.CodeRemoteUnreachable {
		t.Fatalf("result = %+v", run.ExecutionResult)
	}
	if _, err := env.engine.GetRun(context.Background(), run.ID); err != nil {
		t.Errorf("failed run not stored: %v", err)
	}
}

func TestVisualize_RequestErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ds := env.upload(t, "revenue.csv", revenueCSV)
	ctx := context.Background()

	tests := []struct {
		name string
		req  api.VisualizeRequest
		want api.ErrorType
	}{
		{"missing dataset", api.VisualizeRequest{Prompt: "bar"}, api.ErrorTypeInvalidRequest},
		{"empty prompt", api.VisualizeRequest{DatasetID: ds.ID, Prompt: "  "}, api.ErrorTypeInvalidRequest},
		{"bad route", api.VisualizeRequest{DatasetID: ds.ID, Prompt: "bar", Route: "gpu"}, api.ErrorTypeInvalidRequest},
		{"unknown dataset", api.VisualizeRequest{DatasetID: "ds_" + strings.Repeat("a", 24), Prompt: "bar"}, api.ErrorTypeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.Visualize(ctx, &tt.req)
			assertAPIError(t, err, tt.want)
		})
	}
}

type insightProvider struct{ calls atomic.Int32 }

func (p *insightProvider) Name() string { return "insight" }
func (p *insightProvider) Close() error { return nil }
func (p *insightProvider) Complete(_ context.Context, req *provider.Request) (*provider.Response, error) {
	p.calls.Add(1)
	return &provider.Response{Text: "  Revenue peaks on the second day.  "}, nil
}

func TestVisualize_LocalInsight(t *testing.T) {
	p := &insightProvider{}
	env := newTestEnv(t, Instrument(p))
	ds := env.upload(t, "revenue.csv", revenueCSV)

	before := testutil.ToFloat64(observability.ProviderRequestsTotal.WithLabelValues("insight", "test-model", "success"))
	run, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{DatasetID: ds.ID, Prompt: "line chart of revenue"})
	if err != nil {
		t.Fatal(err)
	}
	if run.Insight != "Revenue peaks on the second day." {
		t.Errorf("insight = %q", run.Insight)
	}
	// One unparseable planning answer plus one insight call.
	if p.calls.Load() != 2 {
		t.Errorf("provider calls = %d", p.calls.Load())
	}
	if after := testutil.ToFloat64(observability.ProviderRequestsTotal.WithLabelValues("insight", "test-model", "success")); after-before != 2 {
		t.Errorf("provider metric delta = %v", after-before)
	}
}

var errBackendDown = errors.New("backend down")

type failingProvider struct{}

func (failingProvider) Name() string { return "down" }
func (failingProvider) Close() error { return nil }
func (failingProvider) Complete(context.Context, *provider.Request) (*provider.Response, error) {
	return nil, errBackendDown
}

func TestVisualize_InterpretationFailureUsesRules(t *testing.T) {
	env := newTestEnv(t, failingProvider{})
	ds := env.upload(t, "revenue.csv", revenueCSV)

	run, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{DatasetID: ds.ID, Prompt: "line chart of revenue"})
	if err != nil {
		t.Fatal(err)
	}
	if run.Plan.Reasoning != "rule-based plan" || !run.Success {
		t.Errorf("run = %+v plan = %+v", run.ExecutionResult, run.Plan)
	}
	if run.Insight != "" {
		t.Errorf("failed insight should be empty, got %q", run.Insight)
	}
}

func TestVisualize_OffloadsArtifacts(t *testing.T) {
	blobs, err := artifacts.NewLocalStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, nil, func(_ *testing.T, opts *[]Option, _ *Config) {
		*opts = append(*opts, WithObjectStore(blobs))
	})
	ds := env.upload(t, "revenue.csv", revenueCSV)
	ctx := context.Background()

	run, err := env.engine.Visualize(ctx, &api.VisualizeRequest{DatasetID: ds.ID, Prompt: "line chart"})
	if err != nil {
		t.Fatal(err)
	}
	stored, err := env.store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Artifacts[0].Data != nil || stored.Artifacts[0].Key == "" {
		t.Errorf("stored artifact = %+v", stored.Artifacts[0])
	}

	a, data, err := env.engine.Artifact(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if a.Name != "main.png" || string(data) != "PNG" {
		t.Errorf("artifact %+v data %q", a, data)
	}
	if _, _, err := env.engine.Artifact(ctx, run.ID, 1); err == nil {
		t.Error("out of range index should fail")
	}
	if err := env.engine.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestDatasets(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	ds := env.upload(t, "revenue.csv", revenueCSV)
	if ds.Summary.RowCount != 3 || len(ds.Summary.Columns) != 2 {
		t.Errorf("summary = %+v", ds.Summary)
	}
	got, err := env.engine.GetDataset(ctx, ds.ID)
	if err != nil || got.ID != ds.ID {
		t.Fatalf("GetDataset = %v, %v", got, err)
	}

	run, err := env.engine.Visualize(ctx, &api.VisualizeRequest{DatasetID: ds.ID, Prompt: "bar chart"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.engine.DeleteDataset(ctx, ds.ID); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}
	_, err = env.engine.GetDataset(ctx, ds.ID)
	assertAPIError(t, err, api.ErrorTypeNotFound)
	assertAPIError(t, env.engine.DeleteDataset(ctx, ds.ID), api.ErrorTypeNotFound)
	if _, err := env.engine.GetRun(ctx, run.ID); err != nil {
		t.Errorf("runs must survive dataset deletion: %v", err)
	}

	_, err = env.engine.AddDataset(ctx, "notes.pdf", strings.NewReader("x"))
	assertAPIError(t, err, api.ErrorTypeInvalidRequest)
	_, err = env.engine.AddDataset(ctx, "empty.csv", strings.NewReader(""))
	assertAPIError(t, err, api.ErrorTypeInvalidRequest)
}

func TestRateAndStats(t *testing.T) {
	env := newTestEnv(t, nil)
	ds := env.upload(t, "revenue.csv", revenueCSV)
	ctx := context.Background()

	a, _ := env.engine.Visualize(ctx, &api.VisualizeRequest{DatasetID: ds.ID, Prompt: "line chart"})
	b, _ := env.engine.Visualize(ctx, &api.VisualizeRequest{DatasetID: ds.ID, Prompt: "bar chart"})

	if _, err := env.engine.Rate(ctx, a.ID, &api.RateRequest{Score: "bad"}); err != nil {
		t.Fatal(err)
	}
	rec, err := env.engine.Rate(ctx, a.ID, &api.RateRequest{Score: "good", Feedback: "better now"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Score != 1 || rec.RunID != a.ID || !api.ValidateRatingID(rec.ID) {
		t.Errorf("rating = %+v", rec)
	}
	if _, err := env.engine.Rate(ctx, b.ID, &api.RateRequest{Score: float64(0)}); err != nil {
		t.Fatal(err)
	}

	stats, err := env.engine.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats != (api.RatingStats{Rated: 2, Good: 1, Bad: 1, Score: 50}) {
		t.Errorf("stats = %+v", stats)
	}

	_, err = env.engine.Rate(ctx, a.ID, &api.RateRequest{Score: 5})
	assertAPIError(t, err, api.ErrorTypeInvalidRequest)
	_, err = env.engine.Rate(ctx, "run_"+strings.Repeat("z", 24), &api.RateRequest{Score: true})
	assertAPIError(t, err, api.ErrorTypeNotFound)
}

func TestDiff(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a := &api.Run{ID: "run_a", ExecutionResult: api.ExecutionResult{Script: "import pandas\nplot(x)\nsave()\n"}}
	b := &api.Run{ID: "run_b", ExecutionResult: api.ExecutionResult{Script: "import pandas\nplot(x, y)\nsave()\n"}}
	env.store.SaveRun(ctx, a)
	env.store.SaveRun(ctx, b)

	d, err := env.engine.Diff(ctx, "run_a", "run_b")
	if err != nil {
		t.Fatal(err)
	}
	if d.Added != 1 || d.Removed != 1 || d.Truncated {
		t.Errorf("diff = %+v", d)
	}
	var removed, added api.DiffLine
	for _, l := range d.Lines {
		switch l.Type {
		case api.DiffRemoved:
			removed = l
		case api.DiffAdded:
			added = l
		}
	}
	if removed.Text != "plot(x)" || removed.OldLine != 2 || added.Text != "plot(x, y)" || added.NewLine != 2 {
		t.Errorf("lines = %+v", d.Lines)
	}

	env.engine.cfg.MaxDiffLines = 3
	if d, _ := env.engine.Diff(ctx, "run_a", "run_b"); !d.Truncated || len(d.Lines) != 0 {
		t.Errorf("expected truncated diff, got %+v", d)
	}

	_, err = env.engine.Diff(ctx, "run_a", "run_missing")
	assertAPIError(t, err, api.ErrorTypeNotFound)
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name   string
		result api.ExecutionResult
		want   []string
	}{
		{
			"success",
			api.ExecutionResult{Route: api.RouteLocal, Success: true, Artifacts: []api.Artifact{{Name: "main.png"}}, Insight: "up and to the right"},
			[]string{"Created 1 chart(s)", "main.png", "up and to the right"},
		},
		{
			"no artifacts",
			api.ExecutionResult{Route: api.RouteLocal, Success: true, NoArtifacts: true, Stdout: "done"},
			[]string{"produced no charts", "OUTPUT_DIR", "stdout:\ndone"},
		},
		{
			"crashed",
			api.ExecutionResult{Route: api.RouteLocal, Error: api.NewExecutionError(api.CodeRuntime, "exit status 1"), Stderr: "Traceback"},
			[]string{"ran and failed (runtime_error)", "stderr:\nTraceback"},
		},
		{
			"nothing ran",
			api.ExecutionResult{Route: api.RouteRemote, Error: api.NewExecutionError(api.CodeRemoteUnreachable, "connection refused")},
			[]string{"Nothing was executed", "remote_unreachable", `route "local"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(&api.Run{ExecutionResult: tt.result})
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("summary missing %q:\n%s", w, got)
				}
			}
		})
	}

	long := strings.Repeat("e", 5000)
	got := Describe(&api.Run{ExecutionResult: api.ExecutionResult{
		Error: api.NewExecutionError(api.CodeRuntime, "x"), Stderr: long, Stdout: strings.Repeat("o", 5000),
	}})
	if strings.Count(got, "e") > maxSummaryStderr+20 || strings.Count(got, "o") > maxSummaryStdout+20 {
		t.Errorf("diagnostics not clipped: %d bytes", len(got))
	}
}

func TestClipKeepsUTF8(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes each
	got := clip(s, 5)
	if got != "éé..." {
		t.Errorf("clip = %q", got)
	}
}

func TestInstrument(t *testing.T) {
	if Instrument(nil) != nil {
		t.Error("nil provider should stay nil")
	}
	p := Instrument(failingProvider{})
	if Instrument(p) != p {
		t.Error("double wrapping")
	}
	before := testutil.ToFloat64(observability.ProviderRequestsTotal.WithLabelValues("down", "m", "error"))
	if _, err := p.Complete(context.Background(), &provider.Request{Model: "m"}); !errors.Is(err, errBackendDown) {
		t.Errorf("err = %v", err)
	}
	if after := testutil.ToFloat64(observability.ProviderRequestsTotal.WithLabelValues("down", "m", "error")); after-before != 1 {
		t.Errorf("error metric delta = %v", after-before)
	}
}

func assertAPIError(t *testing.T, err error, want api.ErrorType) {
	t.Helper()
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.APIError of type %s, got %v", want, err)
	}
	if apiErr.Type != want {
		t.Errorf("error type = %s, want %s (%s)", apiErr.Type, want, apiErr.Message)
	}
}

func TestVisualize_CancelledAttemptIsStored(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/advanced-visualization" {
			// Reading the body lets the server see the client cancel.
			io.Copy(io.Discard, r.Body)
			close(started)
			<-r.Context().Done()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(srv.CloseClientConnections)
	env := newTestEnv(t, nil, withRemoteServer(srv))
	ds := env.upload(t, "xyz.csv", xyzCSV)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	run, err := env.engine.Visualize(ctx, &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "3d scatter of x y z", Route: "remote",
	})
	if err != nil {
		t.Fatalf("Visualize: %v", err)
	}
	if run.Success || run.Error == nil || run.Error.Code != api.CodeRemoteUnreachable {
		t.Errorf("run = %+v", run.ExecutionResult)
	}
	if _, err := env.store.GetRun(context.Background(), run.ID); err != nil {
		t.Errorf("cancelled attempt not stored: %v", err)
	}
}

// claimAcquirer hands out one URL per call, like a pod claimed on demand.
type claimAcquirer struct {
	url      string
	released atomic.Int32
}

func (a *claimAcquirer) Acquire(context.Context) (string, func(), error) {
	return a.url, func() { a.released.Add(1) }, nil
}

func TestVisualize_UnhealthyClaimedRemoteRunsLocally(t *testing.T) {
	var calls atomic.Int32
	srv := remoteServer(t, false, &calls)
	acq := &claimAcquirer{url: srv.URL}
	env := newTestEnv(t, nil, func(_ *testing.T, opts *[]Option, _ *Config) {
		*opts = append(*opts, WithRemote(remote.NewExecutor(acq, remote.NewClient())))
	})
	ds := env.upload(t, "xyz.csv", xyzCSV)

	run, err := env.engine.Visualize(context.Background(), &api.VisualizeRequest{
		DatasetID: ds.ID, Prompt: "3d scatter of x y z",
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.Route != api.RouteLocal {
		t.Errorf("route = %s, want local when the claimed instance is unhealthy", run.Route)
	}
	if calls.Load() != 0 {
		t.Error("remote visualize called")
	}
	if acq.released.Load() != 1 {
		t.Errorf("claim released %d times", acq.released.Load())
	}
}
