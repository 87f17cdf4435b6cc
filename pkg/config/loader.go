package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, PLOTWISE_CONFIG env, ./config.yaml, /etc/plotwise/config.yaml)
//  3. .env file (PLOTWISE_ENV_PATH or the nearest .env above the working directory)
//  4. Environment variable overrides, legacy names first
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if res := LoadDotEnv(); res.Err != nil {
		return nil, fmt.Errorf("loading %s: %w", res.Path, res.Err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if IsPlaceholderKey(cfg.LLM.APIKey) {
		cfg.LLM.APIKey = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// IsPlaceholderKey reports whether key is a template value such as
// "your_anthropic_api_key_here" left over from an example .env file.
func IsPlaceholderKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	return strings.HasPrefix(k, "your_") && strings.HasSuffix(k, "_here")
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. PLOTWISE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/plotwise/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("PLOTWISE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/plotwise/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields. The
// unprefixed names (ANTHROPIC_API_KEY, LLM_MODEL, MCP_SERVER_URL) are kept
// for deployments that predate the PLOTWISE_ prefix; the prefixed names win.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.LLM.Provider == "anthropic" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MCP_SERVER_URL"); v != "" {
		cfg.Remote.URL = v
	}

	setString(&cfg.LLM.Provider, "PLOTWISE_LLM_PROVIDER")
	setString(&cfg.LLM.BaseURL, "PLOTWISE_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "PLOTWISE_API_KEY")
	setString(&cfg.LLM.Model, "PLOTWISE_MODEL")
	setString(&cfg.Remote.URL, "PLOTWISE_REMOTE_URL")
	setString(&cfg.Remote.Kubernetes.Template, "PLOTWISE_REMOTE_TEMPLATE")
	setString(&cfg.Remote.Kubernetes.Namespace, "PLOTWISE_REMOTE_NAMESPACE")
	setString(&cfg.Sandbox.Interpreter, "PLOTWISE_INTERPRETER")
	setString(&cfg.Sandbox.WorkRoot, "PLOTWISE_WORK_ROOT")
	setString(&cfg.Storage.Type, "PLOTWISE_STORAGE")
	setString(&cfg.Storage.Postgres.DSN, "PLOTWISE_POSTGRES_DSN")
	setString(&cfg.Artifacts.Type, "PLOTWISE_ARTIFACTS")
	setString(&cfg.Artifacts.Path, "PLOTWISE_ARTIFACTS_PATH")
	setString(&cfg.Auth.Type, "PLOTWISE_AUTH_TYPE")
	setString(&cfg.Logging.Level, "PLOTWISE_LOG_LEVEL")
	setString(&cfg.Logging.Debug, "PLOTWISE_DEBUG")
	setString(&cfg.Logging.Format, "PLOTWISE_LOG_FORMAT")

	var errs []string
	if err := setInt(&cfg.Server.Port, "PLOTWISE_PORT"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setInt(&cfg.Storage.MaxSize, "PLOTWISE_STORAGE_SIZE"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setDuration(&cfg.Sandbox.Timeout, "PLOTWISE_SANDBOX_TIMEOUT"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setDuration(&cfg.Remote.Timeout, "PLOTWISE_REMOTE_TIMEOUT"); err != nil {
		errs = append(errs, err.Error())
	}
	if v := os.Getenv("PLOTWISE_COMPLEXITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("PLOTWISE_COMPLEXITY_THRESHOLD: %v", err))
		} else {
			cfg.Routing.ComplexityThreshold = f
		}
	}
	if v := os.Getenv("PLOTWISE_ADVANCED_KINDS"); v != "" {
		cfg.Routing.AdvancedKinds = splitList(v)
	}

	// PLOTWISE_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("PLOTWISE_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			errs = append(errs, err.Error())
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go duration strings ("45s") and plain seconds ("45").
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"llm.api_key_file", cfg.LLM.APIKeyFile, &cfg.LLM.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"artifacts.access_key_file", cfg.Artifacts.AccessKeyFile, &cfg.Artifacts.AccessKey},
		{"artifacts.secret_key_file", cfg.Artifacts.SecretKeyFile, &cfg.Artifacts.SecretKey},
	}
	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}

	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
