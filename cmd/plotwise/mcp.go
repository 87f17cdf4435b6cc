package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/plotwise/pkg/config"
	"github.com/rhuss/plotwise/pkg/mcpserver"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	var (
		port       int
		allowFiles bool
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run only the MCP tool server over streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g.configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveMCP(ctx, cfg, allowFiles)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&allowFiles, "allow-files", false, "let profile_dataset read files from this machine by path")
	return cmd
}

func serveMCP(ctx context.Context, cfg *config.Config, allowFiles bool) error {
	logger := slog.Default()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := mcpserver.New(st.engine, mcpserver.Options{Version: version, AllowFiles: allowFiles})

	mux := http.NewServeMux()
	mux.Handle(cfg.MCP.Path, mcpserver.Handler(srv))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var handler http.Handler = mux
	authMW, err := buildAuth(cfg.Auth)
	if err != nil {
		return err
	}
	if authMW != nil {
		handler = authMW(handler)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP server starting", "addr", httpServer.Addr, "path", cfg.MCP.Path, "allow_files", allowFiles)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
