package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/trustroute/internal/config"
	"github.com/MeKo-Tech/trustroute/internal/decision"
)

// calibrationInput is the labeled validation set read by calibrate.
type calibrationInput struct {
	Confidences []float64 `json:"confidences"`
	Correctness []bool    `json:"correctness"`
	Domain      string    `json:"domain,omitempty"`
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate <labels.json>",
	Short: "Fit the temperature of a domain on labeled confidences",
	Long: `Fit the ECE-optimal temperature for a domain from a JSON file (or stdin
with "-") holding "confidences" and matching boolean "correctness".

With --write the fitted temperature is stored under
calibration.optimal_temperatures in the config file in use (--config, the
file found on the search path, or ./trustroute.yaml), keeping every other
setting.

Examples:
  trustroute calibrate labels.json --domain medical
  trustroute calibrate labels.json --domain logistics --write --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		var in calibrationInput
		if err := readJSONInput(args[0], cmd.InOrStdin(), &in); err != nil {
			return err
		}
		domain := in.Domain
		if cmd.Flags().Changed("domain") || domain == "" {
			domain, _ = cmd.Flags().GetString("domain")
		}

		engine, err := buildDecisionEngine(cfg)
		if err != nil {
			return err
		}
		res, err := engine.Calibrate(in.Confidences, in.Correctness, domain)
		if err != nil {
			return err
		}

		if write, _ := cmd.Flags().GetBool("write"); write {
			target := cfgFile
			if target == "" && configLoader != nil {
				target = configLoader.GetConfigFileUsed()
			}
			if target == "" {
				target = config.ConfigFileName + ".yaml"
			}
			if err := config.WriteTemperature(target, res.Domain, res.OptimalTemperature); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote temperature %.4f for %s to %s\n", res.OptimalTemperature, res.Domain, target)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == outputFormatJSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		return printCalibration(cmd.OutOrStdout(), res)
	},
}

func printCalibration(w io.Writer, res decision.CalibrationResult) error {
	var b strings.Builder
	ev := res.CalibrationEvaluation
	fmt.Fprintf(&b, "Domain:              %s\n", res.Domain)
	fmt.Fprintf(&b, "Optimal temperature: %.4f\n", res.OptimalTemperature)
	fmt.Fprintf(&b, "ECE:                 %.4f -> %.4f (improvement %.4f)\n", ev.ECEBefore, ev.ECEAfter, ev.ECEImprovement)
	fmt.Fprintf(&b, "NLL:                 %.4f -> %.4f (improvement %.4f)\n", ev.NLLBefore, ev.NLLAfter, ev.NLLImprovement)
	if len(res.ReliabilityBins) > 0 {
		b.WriteString("\nReliability bins:\n")
		for _, bin := range res.ReliabilityBins {
			fmt.Fprintf(&b, "  [%.2f, %.2f)  n=%-4d confidence=%.3f accuracy=%.3f\n",
				bin.Lower, bin.Upper, bin.Count, bin.MeanConfidence, bin.Accuracy)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().StringP("domain", "d", decision.GlobalDomain, "domain to calibrate")
	calibrateCmd.Flags().Bool("write", false, "store the fitted temperature in the config file")
	calibrateCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
}
