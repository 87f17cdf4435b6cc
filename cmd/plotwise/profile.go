package main

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/dataset"
)

type profileOutput struct {
	Filename string `json:"filename"`
	api.DatasetSummary
}

func newProfileCmd() *cobra.Command {
	var sampleRows int
	cmd := &cobra.Command{
		Use:   "profile <file>",
		Short: "Print the column types, missing counts and sample rows of a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, summary, err := dataset.ProfileFile(args[0], dataset.Options{SampleRows: sampleRows})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profileOutput{
				Filename:       filepath.Base(args[0]),
				DatasetSummary: summary,
			})
		},
	}
	cmd.Flags().IntVar(&sampleRows, "sample", dataset.DefaultSampleRows, "number of leading rows to include")
	return cmd
}
