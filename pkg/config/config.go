// Package config provides unified configuration for the plotwise service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. .env file (values never override variables already set)
//  4. Environment variable overrides (PLOTWISE_ prefix)
//  5. Backward-compatible env var mapping for legacy variable names
//  6. File reference resolution (_file suffix fields)
//  7. Validation
package config

import "time"

// DefaultModel is the language model used when none is configured.
const DefaultModel = "claude-sonnet-4-5"

// Config holds all configuration for the plotwise service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Remote        RemoteConfig        `yaml:"remote"`
	Routing       RoutingConfig       `yaml:"routing"`
	Storage       StorageConfig       `yaml:"storage"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log level and debug category settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // TRACE, DEBUG, INFO, WARN, ERROR; default: INFO
	Debug  string `yaml:"debug"`  // comma-separated categories or "all"
	Format string `yaml:"format"` // "text" or "json"; default: "text"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          int           `yaml:"port"`            // default: 8080
	ReadTimeout   time.Duration `yaml:"read_timeout"`    // default: 30s
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // default: 240s
	MaxUploadSize int64         `yaml:"max_upload_size"` // default: 50 MB
	MaxDatasets   int           `yaml:"max_datasets"`    // default: 256
}

// LLMConfig holds the language model provider settings.
type LLMConfig struct {
	Provider   string        `yaml:"provider"`     // "anthropic" or "openai", default: "anthropic"
	BaseURL    string        `yaml:"base_url"`     // optional, provider default otherwise
	APIKey     string        `yaml:"api_key"`      // required
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	Model      string        `yaml:"model"`        // default: DefaultModel
	MaxTokens  int           `yaml:"max_tokens"`   // default: 4096
	Timeout    time.Duration `yaml:"timeout"`      // default: 120s
}

// SandboxConfig holds local script execution settings.
type SandboxConfig struct {
	Interpreter    string        `yaml:"interpreter"`      // default: "python3"
	Timeout        time.Duration `yaml:"timeout"`          // default: 30s
	MaxOutputBytes int           `yaml:"max_output_bytes"` // per stream, default: 1 MB
	MaxConcurrent  int           `yaml:"max_concurrent"`   // default: 4
	WorkRoot       string        `yaml:"work_root"`        // default: os.TempDir()
}

// RemoteConfig holds settings for the remote visualization service.
// An empty URL with no Kubernetes template disables remote routing.
type RemoteConfig struct {
	URL           string           `yaml:"url"`
	Timeout       time.Duration    `yaml:"timeout"`        // default: 180s
	HealthTimeout time.Duration    `yaml:"health_timeout"` // default: 5s
	OutputFormat  string           `yaml:"output_format"`  // default: "png"
	Kubernetes    KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig selects SandboxClaim-based acquisition of remote pods.
type KubernetesConfig struct {
	Template     string        `yaml:"template"` // SandboxTemplate name; empty disables
	Namespace    string        `yaml:"namespace"`
	ClaimTimeout time.Duration `yaml:"claim_timeout"` // default: 2m
	Port         int           `yaml:"port"`          // default: 8080
}

// Enabled reports whether any remote endpoint is configured.
func (r RemoteConfig) Enabled() bool {
	return r.URL != "" || r.Kubernetes.Template != ""
}

// RoutingConfig holds the local/remote routing policy.
type RoutingConfig struct {
	ComplexityThreshold float64  `yaml:"complexity_threshold"` // default: 7
	AdvancedKinds       []string `yaml:"advanced_kinds"`       // default: multi_axis, scatter_3d, surface_3d, model_fit
}

// StorageConfig holds result store settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true

	// StatementTimeout caps every query; zero leaves the server default.
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ArtifactsConfig selects where artifact bytes are kept.
type ArtifactsConfig struct {
	Type          string `yaml:"type"` // "none", "local" or "minio", default: "none"
	Path          string `yaml:"path"` // local root directory
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"access_key"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKey     string `yaml:"secret_key"`
	SecretKeyFile string `yaml:"secret_key_file"`
	UseSSL        bool   `yaml:"use_ssl"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey", "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	Workspace   string `yaml:"workspace" json:"workspace"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig holds JWT bearer token validation settings.
type JWTConfig struct {
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
	JWKSURL        string `yaml:"jwks_url"`
	UserClaim      string `yaml:"user_claim"`
	WorkspaceClaim string `yaml:"workspace_claim"`
	TierClaim      string `yaml:"tier_claim"`
}

// RateLimitConfig holds per-tier request limits. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute"`
	Tiers             map[string]int `yaml:"tiers"`
}

// MCPConfig holds settings for the MCP tool server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: false
	Path    string `yaml:"path"`    // default: "/mcp"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  240 * time.Second,
			MaxUploadSize: 50 << 20,
			MaxDatasets:   256,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     DefaultModel,
			MaxTokens: 4096,
			Timeout:   120 * time.Second,
		},
		Sandbox: SandboxConfig{
			Interpreter:    "python3",
			Timeout:        30 * time.Second,
			MaxOutputBytes: 1 << 20,
			MaxConcurrent:  4,
		},
		Remote: RemoteConfig{
			Timeout:       180 * time.Second,
			HealthTimeout: 5 * time.Second,
			OutputFormat:  "png",
			Kubernetes: KubernetesConfig{
				ClaimTimeout: 2 * time.Minute,
				Port:         8080,
			},
		},
		Routing: RoutingConfig{
			ComplexityThreshold: 7,
			AdvancedKinds:       []string{"multi_axis", "scatter_3d", "surface_3d", "model_fit"},
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns:       25,
				MigrateOnStart: true,
			},
		},
		Artifacts: ArtifactsConfig{
			Type: "none",
		},
		Auth: AuthConfig{
			Type: "none",
		},
		MCP: MCPConfig{
			Path: "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
