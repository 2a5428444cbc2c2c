package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/trustroute/internal/decision"
)

var scoreCmd = &cobra.Command{
	Use:   "score [input.json]",
	Short: "Score a document and decide its review route",
	Long: `Combine OCR, language and compliance confidences into a calibrated final
confidence and route the document.

Input comes from flags, or from a JSON file (or stdin with "-") holding
ocr_confidence, lingua_confidence, comply_confidence and optionally
document_id, domain, is_anomalous and is_ood.

Examples:
  trustroute score --ocr 0.92 --lingua 0.88 --comply 0.95
  trustroute score doc.json --format json
  echo '{"ocr_confidence":0.7,"lingua_confidence":0.6,"comply_confidence":0.9}' | trustroute score -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		var in decision.Input
		if len(args) == 1 {
			if err := readJSONInput(args[0], cmd.InOrStdin(), &in); err != nil {
				return err
			}
		}
		flags := cmd.Flags()
		if flags.Changed("ocr") {
			in.OCR, _ = flags.GetFloat64("ocr")
		}
		if flags.Changed("lingua") {
			in.Lingua, _ = flags.GetFloat64("lingua")
		}
		if flags.Changed("comply") {
			in.Comply, _ = flags.GetFloat64("comply")
		}
		if flags.Changed("domain") {
			in.Domain, _ = flags.GetString("domain")
		}
		if flags.Changed("document-id") {
			in.DocumentID, _ = flags.GetString("document-id")
		}
		if flags.Changed("anomalous") {
			in.IsAnomalous, _ = flags.GetBool("anomalous")
		}
		if flags.Changed("ood") {
			in.IsOOD, _ = flags.GetBool("ood")
		}
		if len(args) == 0 && !flags.Changed("ocr") && !flags.Changed("lingua") && !flags.Changed("comply") {
			return errors.New("no input: pass confidences as flags or a JSON file")
		}

		engine, err := buildDecisionEngine(cfg)
		if err != nil {
			return err
		}
		d, err := engine.ScoreAndRoute(in)
		if err != nil {
			return err
		}

		format, _ := flags.GetString("format")
		if format == outputFormatJSON {
			return writeJSON(cmd.OutOrStdout(), d)
		}
		return printDecision(cmd.OutOrStdout(), d)
	},
}

func printDecision(w io.Writer, d decision.Decision) error {
	var b strings.Builder
	if d.DocumentID != "" {
		fmt.Fprintf(&b, "Document:          %s\n", d.DocumentID)
	}
	fmt.Fprintf(&b, "Domain:            %s\n", d.Domain)
	fmt.Fprintf(&b, "Final confidence:  %.4f\n", d.FinalConfidence)
	fmt.Fprintf(&b, "Aggregated:        %.4f (variance %.4f)\n", d.AggregatedConfidence, d.Variance)
	fmt.Fprintf(&b, "Temperature:       %.4f\n", d.TemperatureApplied)
	fmt.Fprintf(&b, "Review action:     %s\n", d.ReviewAction)
	fmt.Fprintf(&b, "Priority:          %s\n", d.Priority)
	fmt.Fprintf(&b, "Review percentage: %.0f%%\n", d.ReviewPercentage)
	if len(d.PenaltiesApplied) > 0 {
		fmt.Fprintf(&b, "Penalties:         %s\n", strings.Join(d.PenaltiesApplied, ", "))
	}
	fmt.Fprintf(&b, "Reason:            %s\n", d.RoutingReason)
	_, err := io.WriteString(w, b.String())
	return err
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().Float64("ocr", 0, "OCR confidence (0..1)")
	scoreCmd.Flags().Float64("lingua", 0, "language model confidence (0..1)")
	scoreCmd.Flags().Float64("comply", 0, "compliance confidence (0..1)")
	scoreCmd.Flags().StringP("domain", "d", "", "document domain (default general)")
	scoreCmd.Flags().String("document-id", "", "document id echoed in the decision")
	scoreCmd.Flags().Bool("anomalous", false, "flag the document as anomalous")
	scoreCmd.Flags().Bool("ood", false, "flag the document as out of distribution")
	scoreCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
}
