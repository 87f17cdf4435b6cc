package api

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxPromptSize   int
	MaxFeedbackSize int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxPromptSize:   8 * 1024,
		MaxFeedbackSize: 4 * 1024,
	}
}

// ValidateVisualizeRequest checks a VisualizeRequest for validity. It returns
// an *APIError describing the first validation failure, or nil if the
// request is valid.
func ValidateVisualizeRequest(req *VisualizeRequest, cfg ValidationConfig) *APIError {
	if req.DatasetID == "" {
		return NewInvalidRequestError("dataset_id", "dataset_id is required")
	}
	if !ValidateDatasetID(req.DatasetID) {
		return NewInvalidRequestError("dataset_id", "malformed dataset ID")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return NewInvalidRequestError("prompt", "prompt must not be empty")
	}
	if cfg.MaxPromptSize > 0 && len(req.Prompt) > cfg.MaxPromptSize {
		return NewInvalidRequestError("prompt",
			fmt.Sprintf("prompt exceeds maximum of %d bytes", cfg.MaxPromptSize))
	}
	switch req.Route {
	case "", "auto", string(RouteLocal), string(RouteRemote):
	default:
		return NewInvalidRequestError("route", `route must be "auto", "local" or "remote"`)
	}
	if req.RetryOf != "" && !ValidateRunID(req.RetryOf) {
		return NewInvalidRequestError("retry_of", "malformed run ID")
	}
	return nil
}

// RateRequest carries a rating for a run. Score accepts numbers, booleans
// and the words good/bad, yes/no.
type RateRequest struct {
	Score    any    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
}

// ParseScore normalizes a user-supplied rating to 1 (good) or 0 (bad).
func ParseScore(v any) (int, *APIError) {
	switch s := v.(type) {
	case bool:
		if s {
			return 1, nil
		}
		return 0, nil
	case float64:
		if s == 0 || s == 1 {
			return int(s), nil
		}
	case int:
		if s == 0 || s == 1 {
			return s, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "good", "yes", "true":
			return 1, nil
		case "0", "bad", "no", "false":
			return 0, nil
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && (n == 0 || n == 1) {
			return n, nil
		}
	}
	return 0, NewInvalidRequestError("score", "score must be 1 (good) or 0 (bad)")
}

// ValidateRateRequest checks a RateRequest and returns the normalized score.
func ValidateRateRequest(req *RateRequest, cfg ValidationConfig) (int, *APIError) {
	if req.Score == nil {
		return 0, NewInvalidRequestError("score", "score is required")
	}
	if cfg.MaxFeedbackSize > 0 && len(req.Feedback) > cfg.MaxFeedbackSize {
		return 0, NewInvalidRequestError("feedback",
			fmt.Sprintf("feedback exceeds maximum of %d bytes", cfg.MaxFeedbackSize))
	}
	return ParseScore(req.Score)
}
