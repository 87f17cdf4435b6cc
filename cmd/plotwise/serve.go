package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rhuss/plotwise/pkg/config"
	"github.com/rhuss/plotwise/pkg/mcpserver"
	transporthttp "github.com/rhuss/plotwise/pkg/transport/http"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
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
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxUploadSize(cfg.Server.MaxUploadSize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithLogger(logger),
	}

	var bypass []string
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts,
			transporthttp.WithRoute("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()),
			transporthttp.WithMetrics(),
		)
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}
	if cfg.MCP.Enabled {
		srv := mcpserver.New(st.engine, mcpserver.Options{Version: version})
		opts = append(opts, transporthttp.WithRoute(cfg.MCP.Path, mcpserver.Handler(srv)))
		logger.Info("MCP tools enabled", "path", cfg.MCP.Path)
	}

	authMW, err := buildAuth(cfg.Auth, bypass...)
	if err != nil {
		return err
	}
	if authMW != nil {
		opts = append(opts, transporthttp.WithHTTPMiddleware(authMW))
		logger.Info("authentication enabled", "type", cfg.Auth.Type)
	}

	return transporthttp.NewServer(st.engine, opts...).ListenAndServeContext(ctx)
}
