package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
)

// problems collects every configuration error so one failed start reports
// all of them.
type problems []error

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

func (p *problems) require(ok bool, format string, args ...any) {
	if !ok {
		p.add(format, args...)
	}
}

func (p *problems) oneOf(field, got string, allowed ...string) {
	if !slices.Contains(allowed, got) {
		quoted := make([]string, len(allowed))
		for i, a := range allowed {
			quoted[i] = fmt.Sprintf("%q", a)
		}
		p.add("%s must be one of %s, got %q", field, strings.Join(quoted, ", "), got)
	}
}

// Validate reports every invalid or missing setting, naming each by its
// YAML path.
func (c *Config) Validate() error {
	var p problems

	p.require(c.LLM.APIKey != "", "llm.api_key is required (set ANTHROPIC_API_KEY or PLOTWISE_API_KEY)")
	p.oneOf("llm.provider", c.LLM.Provider, "anthropic", "openai")
	p.require(c.LLM.Model != "", "llm.model must not be empty")

	p.require(c.Server.Port > 0, "server.port must be > 0, got %d", c.Server.Port)

	p.require(c.Sandbox.Timeout > 0, "sandbox.timeout must be > 0, got %s", c.Sandbox.Timeout)
	p.require(c.Sandbox.Interpreter != "", "sandbox.interpreter must not be empty")
	p.require(c.Sandbox.MaxConcurrent >= 0, "sandbox.max_concurrent must be >= 0, got %d", c.Sandbox.MaxConcurrent)
	p.require(c.Remote.Timeout > 0, "remote.timeout must be > 0, got %s", c.Remote.Timeout)

	t := c.Routing.ComplexityThreshold
	p.require(t >= 0 && t <= 10, "routing.complexity_threshold must be within [0, 10], got %g", t)
	for _, k := range c.Routing.AdvancedKinds {
		p.require(api.ChartKind(k).Valid(), "routing.advanced_kinds: unknown chart kind %q", k)
	}

	p.oneOf("storage.type", c.Storage.Type, "memory", "postgres")
	if c.Storage.Type == "postgres" {
		pg := c.Storage.Postgres
		p.require(pg.DSN != "" || pg.DSNFile != "", "storage.postgres.dsn or storage.postgres.dsn_file is required for postgres storage")
		p.require(pg.StatementTimeout >= 0, "storage.postgres.statement_timeout must not be negative")
	}

	switch c.Artifacts.Type {
	case "", "none":
	case "local":
		p.require(c.Artifacts.Path != "", "artifacts.path is required for local artifacts")
	case "minio":
		p.require(c.Artifacts.Endpoint != "" && c.Artifacts.Bucket != "", "artifacts.endpoint and artifacts.bucket are required for minio artifacts")
	default:
		p.oneOf("artifacts.type", c.Artifacts.Type, "none", "local", "minio")
	}

	p.oneOf("auth.type", c.Auth.Type, "none", "apikey", "jwt")
	switch c.Auth.Type {
	case "apikey":
		p.require(len(c.Auth.APIKeys) > 0, "auth.api_keys must not be empty for apikey auth")
	case "jwt":
		p.require(c.Auth.JWT.JWKSURL != "", "auth.jwt.jwks_url is required for jwt auth")
	}

	if f := c.Logging.Format; f != "" {
		p.oneOf("logging.format", strings.ToLower(f), "text", "json")
	}

	return errors.Join(p...)
}
