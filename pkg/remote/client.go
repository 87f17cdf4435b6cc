// Package remote delegates visualization plans to the remote
// visualization service over HTTP and normalizes its answers into
// api.ExecutionResult values.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/debug"
)

// Defaults.
const (
	DefaultTimeout       = 180 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultOutputFormat  = "png"

	// maxResponseBytes bounds the remote answer, images included.
	maxResponseBytes = 64 << 20
)

// Client calls the remote service's REST API. It makes exactly one attempt
// per call.
type Client struct {
	httpClient    *http.Client
	timeout       time.Duration
	healthTimeout time.Duration
	outputFormat  string
	logger        *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the visualization request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithHealthTimeout sets the health probe timeout.
func WithHealthTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.healthTimeout = d }
}

// WithOutputFormat sets the requested image format.
func WithOutputFormat(f string) ClientOption {
	return func(c *Client) { c.outputFormat = f }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a remote service client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{},
		timeout:       DefaultTimeout,
		healthTimeout: DefaultHealthTimeout,
		outputFormat:  DefaultOutputFormat,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health probes GET /health. Only a 200 answer counts as available.
func (c *Client) Health(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Visualize sends the prompt and dataset description to
// POST /advanced-visualization. The result is never nil: transport
// failures and timeouts yield remote_unreachable, non-2xx answers and
// success:false yield remote_error.
func (c *Client) Visualize(ctx context.Context, baseURL, prompt string, summary *api.DatasetSummary) *api.ExecutionResult {
	start := time.Now()
	res := c.visualize(ctx, baseURL, prompt, summary)
	res.Route = api.RouteRemote
	res.DurationMS = time.Since(start).Milliseconds()
	if res.Error != nil {
		c.logger.Info("remote visualization failed",
			slog.String("code", string(res.Error.Code)),
			slog.String("error", res.Error.Message),
			slog.Int64("duration_ms", res.DurationMS))
	}
	return res
}

func (c *Client) visualize(ctx context.Context, baseURL, prompt string, summary *api.DatasetSummary) *api.ExecutionResult {
	body, err := json.Marshal(VisualizeRequest{
		Prompt:       prompt,
		DatasetInfo:  NewDatasetInfo(summary),
		OutputFormat: c.outputFormat,
	})
	if err != nil {
		return api.NewFailedResult(api.RouteRemote,
			api.NewExecutionError(api.CodeRemoteUnreachable, "marshal request: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/advanced-visualization"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return api.NewFailedResult(api.RouteRemote,
			api.NewExecutionError(api.CodeRemoteUnreachable, "create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	debug.Log("remote", "POST", "url", url, "prompt", debug.Truncate(prompt, 200))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return api.NewFailedResult(api.RouteRemote,
				api.NewExecutionError(api.CodeRemoteUnreachable, "remote service did not answer within %s", c.timeout))
		}
		return api.NewFailedResult(api.RouteRemote,
			api.NewExecutionError(api.CodeRemoteUnreachable, "remote request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return api.NewFailedResult(api.RouteRemote,
			api.NewExecutionError(api.CodeRemoteUnreachable, "read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res := api.NewFailedResult(api.RouteRemote,
			api.NewExecutionError(api.CodeRemoteError, "remote service returned HTTP %d", resp.StatusCode))
		res.Logs = []string{debug.Truncate(string(respBody), 2000)}
		var vr VisualizeResponse
		if json.Unmarshal(respBody, &vr) == nil && vr.Error != "" {
			res.Error.Message += ": " + vr.Error
		}
		return res
	}

	var vr VisualizeResponse
	if err := json.Unmarshal(respBody, &vr); err != nil {
		res := api.NewFailedResult(api.RouteRemote,
			api.NewExecutionError(api.CodeRemoteError, "decode response: %v", err))
		res.Logs = []string{debug.Truncate(string(respBody), 2000)}
		return res
	}
	return Normalize(&vr, c.outputFormat)
}

// Normalize converts a remote answer into an ExecutionResult. Images are
// gathered from visualization, visualizations_multi and visualizations in
// that order; data URI prefixes are stripped and undecodable entries are
// reported in the logs.
func Normalize(vr *VisualizeResponse, defaultFormat string) *api.ExecutionResult {
	res := &api.ExecutionResult{
		Route:   api.RouteRemote,
		Insight: vr.Insight,
		Script:  vr.Script,
		Logs:    parseLogs(vr.Logs),
	}

	if !vr.Success {
		msg := vr.Error
		if msg == "" {
			msg = "remote service reported failure"
		}
		res.Error = api.NewExecutionError(api.CodeRemoteError, "%s", msg)
		res.ExitCode = -1
		return res
	}

	var images []encodedImage
	if vr.Visualization != "" {
		images = append(images, encodedImage{data: vr.Visualization})
	}
	images = append(images, parseImageList(vr.VisualizationsMulti)...)
	images = append(images, parseImageList(vr.Visualizations)...)

	seen := make(map[string]bool)
	for _, img := range images {
		format, payload := splitDataURI(img.data)
		if img.format != "" {
			format = strings.ToLower(img.format)
		}
		if format == "" {
			format = defaultFormat
		}
		if seen[payload] {
			continue
		}
		seen[payload] = true

		data, err := decodeBase64(payload)
		if err != nil || len(data) == 0 {
			res.Logs = append(res.Logs, fmt.Sprintf("skipped undecodable image %d", len(res.Artifacts)+1))
			continue
		}
		name := "main." + format
		if len(images) > 1 {
			name = fmt.Sprintf("graph_%d.%s", len(res.Artifacts)+1, format)
		}
		res.Artifacts = append(res.Artifacts, api.Artifact{
			Name:   name,
			Format: format,
			Size:   len(data),
			Data:   data,
		})
	}

	res.Success = true
	res.NoArtifacts = len(res.Artifacts) == 0
	return res
}

// splitDataURI strips a "data:image/png;base64," prefix and returns the
// format it names.
func splitDataURI(s string) (format, payload string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return "", s
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return "", s
	}
	meta := s[len("data:"):comma]
	payload = s[comma+1:]
	mime, _, _ := strings.Cut(meta, ";")
	if _, sub, ok := strings.Cut(mime, "/"); ok {
		format = strings.TrimSuffix(sub, "+xml")
		if format == "jpeg" {
			format = "jpg"
		}
	}
	return format, payload
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
