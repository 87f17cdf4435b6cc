// Command remote-server is the reference remote visualization service. It
// answers POST /advanced-visualization by planning the request, generating
// a script and running it in the local sandbox, and returns the charts as
// base64 images. It is the image the Kubernetes SandboxTemplate runs.
//
// The LLM and sandbox settings come from the regular plotwise config
// (config.yaml, .env, PLOTWISE_*). In addition:
//
//	REMOTE_PORT           - Listen port (default: 8080)
//	REMOTE_MAX_CONCURRENT - Max concurrent requests (default: 3)
//	REMOTE_INTERPRETER    - Interpreter for scripts (default: sandbox.interpreter)
//	REMOTE_TIMEOUT        - Script budget, e.g. 120s (default: 120s)
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rhuss/plotwise/pkg/config"
	"github.com/rhuss/plotwise/pkg/debug"
	"github.com/rhuss/plotwise/pkg/engine"
	"github.com/rhuss/plotwise/pkg/interpret"
	"github.com/rhuss/plotwise/pkg/provider"
	"github.com/rhuss/plotwise/pkg/provider/anthropic"
	"github.com/rhuss/plotwise/pkg/provider/openaicompat"
	"github.com/rhuss/plotwise/pkg/sandbox"
)

func main() {
	cfg, err := config.Load(os.Getenv("PLOTWISE_CONFIG"))
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	debug.Init(debug.Settings{Level: cfg.Logging.Level, Categories: cfg.Logging.Debug, Format: cfg.Logging.Format})

	port := envOr("REMOTE_PORT", "8080")
	maxConcurrent := envOrInt("REMOTE_MAX_CONCURRENT", 3)
	interpreter := envOr("REMOTE_INTERPRETER", cfg.Sandbox.Interpreter)
	timeout := envOrDuration("REMOTE_TIMEOUT", 120*time.Second)

	var prov provider.Provider
	switch cfg.LLM.Provider {
	case "openai":
		prov = openaicompat.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout)
	default:
		prov = anthropic.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout)
	}
	prov = engine.Instrument(prov)
	defer prov.Close()

	logger := slog.Default()
	srv := newRemoteServer(
		interpret.New(prov, cfg.LLM.Model, interpret.WithMaxTokens(cfg.LLM.MaxTokens), interpret.WithLogger(logger)),
		sandbox.New(sandbox.Config{
			Interpreter:    interpreter,
			Timeout:        timeout,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
			MaxConcurrent:  maxConcurrent,
			WorkRoot:       cfg.Sandbox.WorkRoot,
		}, sandbox.NewLLMGenerator(prov, cfg.LLM.Model, cfg.LLM.MaxTokens), sandbox.WithLogger(logger)),
		maxConcurrent,
	)

	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeout + 60*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("remote server starting", "port", port, "interpreter", interpreter,
			"max_concurrent", maxConcurrent, "model", cfg.LLM.Model)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func envOrDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
