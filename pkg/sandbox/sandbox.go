// Package sandbox runs generated visualization scripts in isolated,
// time-bounded child processes and collects the images they produce.
//
// Every execution gets its own working directory created with
// os.MkdirTemp. The dataset is written there once as dataset.csv, the
// script runs in its own process group with a minimal environment, and the
// whole group is killed when the wall-clock budget runs out. The working
// directory is removed on every return path after the artifacts have been
// read into memory.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/dataset"
	"github.com/rhuss/plotwise/pkg/debug"
)

// File names inside the working directory.
const (
	DatasetFile = "dataset.csv"
	ScriptFile  = "script.py"
	OutputDir   = "output"
)

// Defaults.
const (
	DefaultInterpreter    = "python3"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 1 << 20
	DefaultMaxConcurrent  = 4

	// waitDelay bounds how long Wait blocks on pipes held open by
	// descendants after the process group has been killed.
	waitDelay = 2 * time.Second
)

// Config holds runner settings.
type Config struct {
	Interpreter    string
	Timeout        time.Duration
	MaxOutputBytes int
	MaxConcurrent  int
	WorkRoot       string
}

func (c Config) withDefaults() Config {
	if c.Interpreter == "" {
		c.Interpreter = DefaultInterpreter
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}

// Request is one local execution: the plan to render and the data to
// render it from. Script, when set, skips generation.
type Request struct {
	Summary *api.DatasetSummary
	Plan    *api.VisualizationPlan
	Data    *dataset.Table
	Script  string
}

// Runner executes scripts locally. It is safe for concurrent use; at most
// Config.MaxConcurrent scripts run at the same time.
type Runner struct {
	cfg       Config
	generator ScriptGenerator
	sem       chan struct{}
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner. The generator may be nil when every request
// carries its own script.
func New(cfg Config, gen ScriptGenerator, opts ...Option) *Runner {
	cfg = cfg.withDefaults()
	r := &Runner{
		cfg:       cfg,
		generator: gen,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Execute generates a script for the request when needed and runs it. The
// result is never nil.
func (r *Runner) Execute(ctx context.Context, req *Request) *api.ExecutionResult {
	script := req.Script
	if script == "" {
		if r.generator == nil {
			return api.NewFailedResult(api.RouteLocal,
				api.NewExecutionError(api.CodeGeneration, "no script generator configured"))
		}
		generated, err := r.generator.Generate(ctx, req.Summary, req.Plan)
		if err != nil {
			r.logger.Warn("script generation failed", slog.String("error", err.Error()))
			return api.NewFailedResult(api.RouteLocal,
				api.NewExecutionError(api.CodeGeneration, "generating script: %v", err))
		}
		script = generated
	}
	return r.Run(ctx, script, req.Data)
}

// Run executes script against data in a fresh working directory.
func (r *Runner) Run(ctx context.Context, script string, data *dataset.Table) *api.ExecutionResult {
	if script == "" {
		return api.NewFailedResult(api.RouteLocal,
			api.NewExecutionError(api.CodeGeneration, "empty script"))
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		res := api.NewFailedResult(api.RouteLocal,
			api.NewExecutionError(api.CodeIO, "waiting for a sandbox slot: %v", ctx.Err()))
		res.Script = script
		return res
	}

	res := r.run(ctx, script, data)
	res.Route = api.RouteLocal
	res.Script = script
	return res
}

func (r *Runner) run(ctx context.Context, script string, data *dataset.Table) *api.ExecutionResult {
	start := time.Now()

	workDir, err := os.MkdirTemp(r.cfg.WorkRoot, "plotwise-run-*")
	if err != nil {
		return api.NewFailedResult(api.RouteLocal,
			api.NewExecutionError(api.CodeIO, "creating working directory: %v", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			r.logger.Warn("failed to remove working directory",
				slog.String("dir", workDir), slog.String("error", err.Error()))
		}
	}()

	outDir := filepath.Join(workDir, OutputDir)
	if err := prepare(workDir, outDir, script, data); err != nil {
		return api.NewFailedResult(api.RouteLocal,
			api.NewExecutionError(api.CodeIO, "%v", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Interpreter, ScriptFile)
	cmd.Dir = workDir
	cmd.Env = minimalEnv(workDir, outDir)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	stdout := newCappedBuffer(r.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(r.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	debug.Log("sandbox", "starting script", "dir", workDir, "interpreter", r.cfg.Interpreter,
		"timeout", r.cfg.Timeout)
	runErr := cmd.Run()

	res := &api.ExecutionResult{
		Route:      api.RouteLocal,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	// The deadline wins over the exit status: a killed group also exits
	// non-zero.
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			res.ExitCode = -1
			res.Error = api.NewExecutionError(api.CodeTimeout,
				"script exceeded the %s time limit and was killed", r.cfg.Timeout)
		case ctx.Err() != nil:
			res.ExitCode = -1
			res.Error = api.NewExecutionError(api.CodeRuntime, "execution cancelled: %v", context.Cause(ctx))
		case errors.As(runErr, &exitErr):
			res.Error = api.NewExecutionError(api.CodeRuntime,
				"script exited with status %d", exitErr.ExitCode())
		default:
			res.ExitCode = -1
			res.Error = api.NewExecutionError(api.CodeIO, "starting %s: %v", r.cfg.Interpreter, runErr)
		}
		r.logger.Info("script failed",
			slog.String("code", string(res.Error.Code)),
			slog.Int("exit_code", res.ExitCode),
			slog.Int64("duration_ms", res.DurationMS))
		return res
	}

	artifacts, err := Collect(outDir, workDir)
	if err != nil {
		res.Error = api.NewExecutionError(api.CodeIO, "reading artifacts: %v", err)
		return res
	}
	res.Artifacts = artifacts
	res.Success = true
	res.NoArtifacts = len(artifacts) == 0

	debug.Log("sandbox", "script finished", "artifacts", len(artifacts),
		"duration_ms", res.DurationMS, "stdout_truncated", stdout.Truncated())
	return res
}

// prepare writes the dataset and script into the working directory.
func prepare(workDir, outDir, script string, data *dataset.Table) error {
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.Mkdir(filepath.Join(workDir, ".mpl"), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if data != nil {
		if err := data.WriteCSVFile(filepath.Join(workDir, DatasetFile)); err != nil {
			return fmt.Errorf("writing dataset: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(workDir, ScriptFile), []byte(script), 0o644); err != nil {
		return fmt.Errorf("writing script: %w", err)
	}
	return nil
}

// minimalEnv is the whole environment of a script. Nothing else from the
// server's environment is inherited, API keys included.
func minimalEnv(workDir, outDir string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	return []string{
		"PATH=" + path,
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"MPLBACKEND=Agg",
		"MPLCONFIGDIR=" + filepath.Join(workDir, ".mpl"),
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
		"DATASET_PATH=" + filepath.Join(workDir, DatasetFile),
		"OUTPUT_DIR=" + outDir,
	}
}
