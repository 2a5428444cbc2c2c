package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/trustroute/internal/review"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export reviewed regions as training data",
	Long: `Write one JSON line per reviewed region, pairing the OCR and normalized
text with the value the reviewer confirmed. Skipped regions are not exported.

Examples:
  trustroute export
  trustroute export --output data/training.jsonl
  trustroute export --output -`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		path := out
		if out == "-" {
			path = ""
		}
		return withWorkflow(cmd, func(ctx context.Context, wf *review.Workflow) error {
			w, closeOut, err := outputWriter(path, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			n, err := wf.ExportTraining(ctx, w)
			if err = errors.Join(err, closeOut()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d training items to %s\n", n, out)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "training.jsonl", "output file, - for stdout")
}
