package engine

import "github.com/rhuss/plotwise/pkg/api"

// Config holds engine settings.
type Config struct {
	// Validation bounds prompt and feedback sizes.
	Validation api.ValidationConfig

	// Insight asks the model for a short explanation after a successful
	// local run. The remote path uses the service's own insight.
	Insight bool

	// MaxDiffLines caps script diffs; larger pairs are reported as
	// truncated. Zero means DefaultMaxDiffLines.
	MaxDiffLines int
}

// DefaultConfig returns the settings used by the server.
func DefaultConfig() Config {
	return Config{
		Validation: api.DefaultValidationConfig(),
		Insight:    true,
	}
}
