package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/engine"
)

type visualizeFlags struct {
	prompt  string
	route   string
	retryOf string
	outDir  string
}

func newVisualizeCmd(g *globalFlags) *cobra.Command {
	f := &visualizeFlags{}
	cmd := &cobra.Command{
		Use:   "visualize <file>",
		Short: "Profile a dataset, generate the requested charts and write them to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			cfg, err := loadConfig(g.configPath)
			if err != nil {
				return err
			}
			st, err := buildStack(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()
			return visualize(cmd.Context(), st.engine, args[0], f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.prompt, "prompt", "p", "", "what to plot, in plain language")
	cmd.Flags().StringVarP(&f.route, "route", "r", "auto", "execution route: auto, local or remote")
	cmd.Flags().StringVar(&f.retryOf, "retry-of", "", "run ID this request retries")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", ".", "directory the charts are written to")
	return cmd
}

// visualizer is the part of the engine the command needs.
type visualizer interface {
	AddDataset(ctx context.Context, filename string, r io.Reader) (*api.Dataset, error)
	Visualize(ctx context.Context, req *api.VisualizeRequest) (*api.Run, error)
	Artifact(ctx context.Context, runID string, index int) (*api.Artifact, []byte, error)
}

func visualize(ctx context.Context, v visualizer, path string, f *visualizeFlags, out io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	ds, err := v.AddDataset(ctx, filepath.Base(path), file)
	file.Close()
	if err != nil {
		return err
	}

	route := f.route
	if route == "auto" {
		route = ""
	}
	run, err := v.Visualize(ctx, &api.VisualizeRequest{
		DatasetID: ds.ID,
		Prompt:    f.prompt,
		Route:     route,
		RetryOf:   f.retryOf,
	})
	if err != nil {
		return err
	}

	if len(run.Artifacts) > 0 {
		if err := os.MkdirAll(f.outDir, 0o755); err != nil {
			return err
		}
	}
	for i := range run.Artifacts {
		a, data, err := v.Artifact(ctx, run.ID, i)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", run.Artifacts[i].Name, err)
		}
		// Names come from the sandbox; keep only the base name.
		dst := filepath.Join(f.outDir, filepath.Base(a.Name))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%d bytes)\n", dst, len(data))
	}

	fmt.Fprintf(out, "run %s\n%s\n", run.ID, engine.Describe(run))
	if run.Error != nil {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error.Code)
	}
	return nil
}
