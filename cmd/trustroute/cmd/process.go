package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/store"
	"github.com/MeKo-Tech/trustroute/internal/utils"
)

var processCmd = &cobra.Command{
	Use:   "process <image>",
	Short: "Run OCR, normalization and trust scoring on a page image",
	Long: `Process the regions of one page image and route the document.

Regions come from a JSON file of {"id", "bbox": {"x","y","width","height"},
"label", "field_type"} objects; without --regions the whole page is one
region. The result is saved to the configured storage unless --no-store is
given.

Supported formats: JPEG, PNG, BMP, TIFF

Examples:
  trustroute process scan.png
  trustroute process scan.png --regions regions.json --domain medical
  trustroute process scan.png --field-type phone --format json --output result.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		path := args[0]
		if !utils.IsSupportedImage(path) {
			return fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
		}

		flags := cmd.Flags()
		var specs []pipeline.RegionSpec
		if regionsFile, _ := flags.GetString("regions"); regionsFile != "" {
			if err := readJSONInput(regionsFile, cmd.InOrStdin(), &specs); err != nil {
				return err
			}
		}
		domain, _ := flags.GetString("domain")
		jobID, _ := flags.GetString("job-id")
		fieldType, _ := flags.GetString("field-type")

		img, _, err := utils.LoadImage(path)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var s store.Store
		if noStore, _ := flags.GetBool("no-store"); !noStore {
			if s, err = openStore(ctx, cfg); err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
		}

		decisions, err := buildDecisionEngine(cfg)
		if err != nil {
			return err
		}
		p, err := buildPipeline(cfg, decisions, s)
		if err != nil {
			return err
		}

		regions := pipeline.CropRegions(img, specs, domain)
		if fieldType != "" {
			for i := range regions {
				if regions[i].FieldType == "" {
					regions[i].FieldType = fieldType
				}
			}
		}

		var progress pipeline.ProgressCallback = pipeline.NoOpProgressCallback{}
		if show, _ := flags.GetBool("progress"); show {
			progress = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Regions")
		}

		res, err := p.ProcessDocument(ctx, pipeline.Document{
			JobID:    jobID,
			Filename: filepath.Base(path),
			Domain:   domain,
			Regions:  regions,
		}, progress)
		if err != nil {
			return err
		}

		outPath, _ := flags.GetString("output")
		w, closeOut, err := outputWriter(outPath, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		format, _ := flags.GetString("format")
		if format == outputFormatJSON {
			err = writeJSON(w, res)
		} else {
			err = printResult(w, res, cfg.Review.TrustScoreThreshold)
		}
		return errors.Join(err, closeOut())
	},
}

// printResult lists the regions; those below reviewThreshold are marked.
func printResult(w io.Writer, res *document.Result, reviewThreshold float64) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s (%s): %s, %d regions in %.1f ms\n",
		res.JobID, res.Filename, res.Status, len(res.Fields), res.ProcessingMeta.ProcessingTimeMs)
	for _, f := range res.Fields {
		review := ""
		if f.TrustScore < reviewThreshold {
			review = " [review]"
		}
		fmt.Fprintf(&b, "  %-20s %-10s trust=%.3f ocr=%.3f %q%s\n",
			f.ID, f.Label, f.TrustScore, f.OCRConfidence, f.NormalizedText, review)
	}
	if m, ok := res.ConfidenceMetrics.(pipeline.DocumentMetrics); ok && m.Decision != nil {
		fmt.Fprintf(&b, "Document: final confidence %.4f, action %s (%s)\n",
			m.Decision.FinalConfidence, m.Decision.ReviewAction, m.Decision.RoutingReason)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().String("regions", "", "JSON file with region specs (default: whole page)")
	processCmd.Flags().StringP("domain", "d", "", "document domain (default from worker.domain)")
	processCmd.Flags().String("job-id", "", "job id (default: random uuid)")
	processCmd.Flags().String("field-type", "", "field type for regions without one (e.g. phone, date, amount)")
	processCmd.Flags().Bool("no-store", false, "do not persist the result")
	processCmd.Flags().Bool("progress", false, "show progress on stderr")
	processCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	processCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
}
