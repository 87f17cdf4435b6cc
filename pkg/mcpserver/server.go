// Package mcpserver exposes plotwise as Model Context Protocol tools so
// agents can profile datasets, request charts and rate the results.
package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/engine"
)

// Backend is the part of the engine the tools call.
type Backend interface {
	AddDataset(ctx context.Context, filename string, r io.Reader) (*api.Dataset, error)
	Visualize(ctx context.Context, req *api.VisualizeRequest) (*api.Run, error)
	Artifact(ctx context.Context, runID string, index int) (*api.Artifact, []byte, error)
	Rate(ctx context.Context, runID string, req *api.RateRequest) (*api.RatingRecord, error)
	Stats(ctx context.Context) (api.RatingStats, error)
}

// Options configures the tool server.
type Options struct {
	Version string

	// AllowFiles lets profile_dataset read files from the server's
	// filesystem by path. Off by default.
	AllowFiles bool
}

// ProfileInput uploads a dataset, either inline or by server-side path.
type ProfileInput struct {
	Filename string `json:"filename,omitempty" jsonschema:"file name including the .csv or .xlsx extension"`
	Content  string `json:"content,omitempty" jsonschema:"file content; CSV text, or base64 when base64 is true"`
	Base64   bool   `json:"base64,omitempty" jsonschema:"set when content is base64 encoded, as needed for xlsx"`
	Path     string `json:"path,omitempty" jsonschema:"path of a file on the server, when enabled"`
}

// ProfileOutput is the registered dataset.
type ProfileOutput struct {
	DatasetID string       `json:"dataset_id"`
	Filename  string       `json:"filename"`
	RowCount  int          `json:"row_count"`
	Columns   []api.Column `json:"columns"`
}

// VisualizeInput requests charts for a dataset.
type VisualizeInput struct {
	DatasetID string `json:"dataset_id" jsonschema:"ID returned by profile_dataset"`
	Prompt    string `json:"prompt" jsonschema:"what to plot, in plain language"`
	Route     string `json:"route,omitempty" jsonschema:"auto, local or remote"`
	RetryOf   string `json:"retry_of,omitempty" jsonschema:"run ID this request retries"`
}

// VisualizeOutput summarizes a run. Images travel as separate content.
type VisualizeOutput struct {
	RunID     string   `json:"run_id"`
	Route     string   `json:"route"`
	Outcome   string   `json:"outcome"`
	Artifacts []string `json:"artifacts"`
	Insight   string   `json:"insight,omitempty"`
}

// RateInput rates a run.
type RateInput struct {
	RunID    string `json:"run_id"`
	Score    any    `json:"score" jsonschema:"1 or good for a good result, 0 or bad for a bad one"`
	Feedback string `json:"feedback,omitempty"`
}

// RateOutput is the stored rating.
type RateOutput struct {
	RatingID string `json:"rating_id"`
	RunID    string `json:"run_id"`
	Score    int    `json:"score"`
}

type tools struct {
	backend Backend
	opts    Options
}

// New builds an MCP server with the plotwise tools registered.
func New(b Backend, opts Options) *mcp.Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	t := &tools{backend: b, opts: opts}

	server := mcp.NewServer(&mcp.Implementation{Name: "plotwise", Version: opts.Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "profile_dataset",
		Description: "Upload a CSV or XLSX dataset and return its columns, inferred types and row count.",
	}, t.profile)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "visualize",
		Description: "Generate charts for a profiled dataset from a plain-language request. Returns the images and a summary.",
	}, t.visualize)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "rate_run",
		Description: "Rate a visualization run as good (1) or bad (0).",
	}, t.rate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "rating_stats",
		Description: "Return how many runs were rated and the share rated good.",
	}, t.stats)

	return server
}

// Handler serves the server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func (t *tools) profile(ctx context.Context, _ *mcp.CallToolRequest, in ProfileInput) (*mcp.CallToolResult, ProfileOutput, error) {
	filename, r, err := t.source(in)
	if err != nil {
		return nil, ProfileOutput{}, err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	ds, err := t.backend.AddDataset(ctx, filename, r)
	if err != nil {
		return nil, ProfileOutput{}, toolError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dataset %s (%s): %d rows, %d columns\n", ds.ID, ds.Filename, ds.Summary.RowCount, len(ds.Summary.Columns))
	for _, c := range ds.Summary.Columns {
		fmt.Fprintf(&b, "- %s: %s", c.Name, c.Type)
		if c.Missing > 0 {
			fmt.Fprintf(&b, " (%d missing)", c.Missing)
		}
		b.WriteByte('\n')
	}
	return textResult(b.String()), ProfileOutput{
		DatasetID: ds.ID,
		Filename:  ds.Filename,
		RowCount:  ds.Summary.RowCount,
		Columns:   ds.Summary.Columns,
	}, nil
}

func (t *tools) source(in ProfileInput) (string, io.Reader, error) {
	if in.Path != "" {
		if !t.opts.AllowFiles {
			return "", nil, errors.New("reading files by path is disabled on this server; send content instead")
		}
		f, err := os.Open(in.Path)
		if err != nil {
			return "", nil, fmt.Errorf("opening %s: %w", in.Path, err)
		}
		return filepath.Base(in.Path), f, nil
	}
	if in.Filename == "" {
		return "", nil, errors.New("filename is required with inline content")
	}
	if in.Content == "" {
		return "", nil, errors.New("content is empty")
	}
	if in.Base64 {
		data, err := base64.StdEncoding.DecodeString(in.Content)
		if err != nil {
			return "", nil, fmt.Errorf("decoding base64 content: %w", err)
		}
		return in.Filename, strings.NewReader(string(data)), nil
	}
	return in.Filename, strings.NewReader(in.Content), nil
}

func (t *tools) visualize(ctx context.Context, _ *mcp.CallToolRequest, in VisualizeInput) (*mcp.CallToolResult, VisualizeOutput, error) {
	route := in.Route
	if route == "auto" {
		route = ""
	}
	run, err := t.backend.Visualize(ctx, &api.VisualizeRequest{
		DatasetID: in.DatasetID,
		Prompt:    in.Prompt,
		Route:     route,
		RetryOf:   in.RetryOf,
	})
	if err != nil {
		return nil, VisualizeOutput{}, toolError(err)
	}

	out := VisualizeOutput{
		RunID:     run.ID,
		Route:     string(run.Route),
		Outcome:   run.Outcome(),
		Artifacts: make([]string, 0, len(run.Artifacts)),
		Insight:   run.Insight,
	}
	result := textResult(fmt.Sprintf("Run %s\n%s", run.ID, engine.Describe(run)))
	for i := range run.Artifacts {
		a := &run.Artifacts[i]
		out.Artifacts = append(out.Artifacts, a.Name)
		data := a.Data
		if data == nil {
			if _, data, err = t.backend.Artifact(ctx, run.ID, i); err != nil {
				slog.WarnContext(ctx, "artifact unavailable for MCP result",
					slog.String("run_id", run.ID), slog.String("artifact", a.Name), slog.String("error", err.Error()))
				continue
			}
		}
		result.Content = append(result.Content, &mcp.ImageContent{Data: data, MIMEType: a.ContentType()})
	}
	// A failed execution is still a stored run the caller can retry or
	// rate, so it is reported as a tool error without losing the run ID.
	result.IsError = run.Error != nil
	return result, out, nil
}

func (t *tools) rate(ctx context.Context, _ *mcp.CallToolRequest, in RateInput) (*mcp.CallToolResult, RateOutput, error) {
	rec, err := t.backend.Rate(ctx, in.RunID, &api.RateRequest{Score: in.Score, Feedback: in.Feedback})
	if err != nil {
		return nil, RateOutput{}, toolError(err)
	}
	label := "bad"
	if rec.Score == 1 {
		label = "good"
	}
	return textResult(fmt.Sprintf("Rated run %s as %s.", rec.RunID, label)),
		RateOutput{RatingID: rec.ID, RunID: rec.RunID, Score: rec.Score}, nil
}

func (t *tools) stats(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, api.RatingStats, error) {
	s, err := t.backend.Stats(ctx)
	if err != nil {
		return nil, api.RatingStats{}, toolError(err)
	}
	return textResult(fmt.Sprintf("%d runs rated: %d good, %d bad (%.1f%% good).", s.Rated, s.Good, s.Bad, s.Score)), s, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// toolError turns API errors into a message the calling agent can act on.
func toolError(err error) error {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Param != "" {
			return fmt.Errorf("%s (%s): %s", apiErr.Type, apiErr.Param, apiErr.Message)
		}
		return fmt.Errorf("%s: %s", apiErr.Type, apiErr.Message)
	}
	return err
}
