package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/artifacts"
	"github.com/rhuss/plotwise/pkg/auth"
	"github.com/rhuss/plotwise/pkg/auth/apikey"
	"github.com/rhuss/plotwise/pkg/auth/jwt"
	"github.com/rhuss/plotwise/pkg/config"
	"github.com/rhuss/plotwise/pkg/dataset"
	"github.com/rhuss/plotwise/pkg/debug"
	"github.com/rhuss/plotwise/pkg/engine"
	"github.com/rhuss/plotwise/pkg/interpret"
	"github.com/rhuss/plotwise/pkg/provider"
	"github.com/rhuss/plotwise/pkg/provider/anthropic"
	"github.com/rhuss/plotwise/pkg/provider/openaicompat"
	"github.com/rhuss/plotwise/pkg/remote"
	"github.com/rhuss/plotwise/pkg/remote/kubernetes"
	"github.com/rhuss/plotwise/pkg/routing"
	"github.com/rhuss/plotwise/pkg/sandbox"
	"github.com/rhuss/plotwise/pkg/storage"
	"github.com/rhuss/plotwise/pkg/storage/memory"
	"github.com/rhuss/plotwise/pkg/storage/postgres"
)

// loadConfig loads and validates configuration and sets up logging.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	debug.Init(debug.Settings{Level: cfg.Logging.Level, Categories: cfg.Logging.Debug, Format: cfg.Logging.Format})
	return cfg, nil
}

// stack is a fully wired engine plus whatever needs closing on exit.
type stack struct {
	engine  *engine.Engine
	closers []func() error
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

// buildStack wires the engine from configuration.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	s := &stack{}

	prov, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, prov.Close)

	interp := interpret.New(prov, cfg.LLM.Model,
		interpret.WithMaxTokens(cfg.LLM.MaxTokens),
		interpret.WithLogger(logger))

	runner := sandbox.New(sandbox.Config{
		Interpreter:    cfg.Sandbox.Interpreter,
		Timeout:        cfg.Sandbox.Timeout,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		MaxConcurrent:  cfg.Sandbox.MaxConcurrent,
		WorkRoot:       cfg.Sandbox.WorkRoot,
	}, sandbox.NewLLMGenerator(prov, cfg.LLM.Model, cfg.LLM.MaxTokens), sandbox.WithLogger(logger))

	store, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, store.Close)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithDatasets(dataset.NewRegistry(cfg.Server.MaxDatasets)),
		engine.WithPolicy(routing.NewPolicy(cfg.Routing.ComplexityThreshold, cfg.Routing.AdvancedKinds)),
	}

	blobs, err := buildObjectStore(ctx, cfg.Artifacts)
	if err != nil {
		s.Close()
		return nil, err
	}
	if blobs != nil {
		opts = append(opts, engine.WithObjectStore(blobs))
	}

	exec, err := buildRemote(cfg.Remote, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	if exec != nil {
		opts = append(opts, engine.WithRemote(exec))
		s.closers = append(s.closers, exec.Close)
	}

	ecfg := engine.DefaultConfig()
	ecfg.Validation = api.DefaultValidationConfig()
	eng, err := engine.New(store, interp, runner, ecfg, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.engine = eng

	logger.Info("engine ready",
		"provider", prov.Name(),
		"model", cfg.LLM.Model,
		"storage", cfg.Storage.Type,
		"artifacts", cfg.Artifacts.Type,
		"remote", eng.RemoteEnabled())
	return s, nil
}

// buildProvider creates the LLM client, instrumented for metrics.
func buildProvider(cfg config.LLMConfig) (provider.Provider, error) {
	var p provider.Provider
	switch cfg.Provider {
	case "anthropic":
		p = anthropic.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	case "openai":
		p = openaicompat.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown llm.provider %q", cfg.Provider)
	}
	return engine.Instrument(p), nil
}

func buildStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "memory":
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		st, err := postgres.New(ctx, postgres.Config{
			DSN:              cfg.Postgres.DSN,
			MaxConns:         cfg.Postgres.MaxConns,
			StatementTimeout: cfg.Postgres.StatementTimeout,
			MigrateOnStart:   cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage.type %q", cfg.Type)
	}
}

// buildObjectStore returns nil when artifacts are kept inline.
func buildObjectStore(ctx context.Context, cfg config.ArtifactsConfig) (artifacts.ObjectStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "local":
		st, err := artifacts.NewLocalStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("artifact store: %w", err)
		}
		return st, nil
	case "minio", "s3":
		st, err := artifacts.NewS3Store(artifacts.S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("artifact store: %w", err)
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("artifact store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown artifacts.type %q", cfg.Type)
	}
}

// buildRemote returns nil when no remote service is configured.
func buildRemote(cfg config.RemoteConfig, logger *slog.Logger) (*remote.Executor, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client := remote.NewClient(
		remote.WithTimeout(cfg.Timeout),
		remote.WithHealthTimeout(cfg.HealthTimeout),
		remote.WithOutputFormat(cfg.OutputFormat),
		remote.WithLogger(logger),
	)

	if cfg.Kubernetes.Template == "" {
		return remote.NewExecutor(&remote.StaticAcquirer{URL: cfg.URL}, client), nil
	}

	restCfg, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	scheme, err := kubernetes.NewScheme()
	if err != nil {
		return nil, err
	}
	kc, err := ctrlclient.New(restCfg, ctrlclient.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	acq := kubernetes.NewClaimAcquirer(kc, cfg.Kubernetes.Template, cfg.Kubernetes.Namespace,
		cfg.Kubernetes.Port, cfg.Kubernetes.ClaimTimeout)
	logger.Info("remote execution via sandbox claims",
		"template", cfg.Kubernetes.Template, "namespace", cfg.Kubernetes.Namespace)
	return remote.NewExecutor(acq, client), nil
}

// buildAuth returns the auth middleware, or nil when auth is disabled and
// no rate limit is set. bypass adds paths served without credentials.
func buildAuth(cfg config.AuthConfig, bypass ...string) (func(http.Handler) http.Handler, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}
	switch cfg.Type {
	case "", "none":
		chain.DefaultDecision = auth.Yes
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, apikey.Key{Secret: k.Key, Identity: auth.Identity{
				Subject:     k.Subject,
				Workspace:   k.Workspace,
				ServiceTier: k.ServiceTier,
			}})
		}
		if len(keys) == 0 {
			return nil, errors.New("auth.type is apikey but no auth.api_keys are configured")
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(keys))
	case "jwt":
		if cfg.JWT.JWKSURL == "" {
			return nil, errors.New("auth.jwt.jwks_url is required for auth.type jwt")
		}
		chain.Authenticators = append(chain.Authenticators, jwt.New(jwt.Config{
			Issuer:         cfg.JWT.Issuer,
			Audience:       cfg.JWT.Audience,
			JWKSURL:        cfg.JWT.JWKSURL,
			UserClaim:      cfg.JWT.UserClaim,
			WorkspaceClaim: cfg.JWT.WorkspaceClaim,
			TierClaim:      cfg.JWT.TierClaim,
		}))
	default:
		return nil, fmt.Errorf("unknown auth.type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 || len(cfg.RateLimit.Tiers) > 0 {
		limiter = auth.NewTierLimiter(cfg.RateLimit.Tiers, cfg.RateLimit.RequestsPerMinute)
	}
	if chain.DefaultDecision == auth.Yes && limiter == nil {
		return nil, nil
	}
	return auth.Middleware(chain, limiter, append(bypass, auth.DefaultBypassEndpoints...)), nil
}
