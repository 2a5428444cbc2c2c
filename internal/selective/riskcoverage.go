package selective

import "fmt"

// RiskCoverage is the accept/defer trade-off at one threshold.
type RiskCoverage struct {
	Threshold   float64 `json:"threshold"`
	Coverage    float64 `json:"coverage"`
	Risk        float64 `json:"risk"`
	NumAccepted int     `json:"num_accepted"`
	NumRejected int     `json:"num_rejected"`
}

// ComputeRiskCoverage accepts every sample with confidence >= threshold.
// Coverage is the accepted fraction, risk the fraction of accepted samples
// that are wrong.
func ComputeRiskCoverage(confidences []float64, correct []bool, threshold float64) (RiskCoverage, error) {
	if len(confidences) != len(correct) {
		return RiskCoverage{}, &ValidationError{
			Field:   "correctness",
			Message: fmt.Sprintf("got %d labels for %d confidences", len(correct), len(confidences)),
		}
	}
	rc := RiskCoverage{Threshold: threshold}
	wrong := 0
	for i, c := range confidences {
		if c >= threshold {
			rc.NumAccepted++
			if !correct[i] {
				wrong++
			}
		}
	}
	rc.NumRejected = len(confidences) - rc.NumAccepted
	if len(confidences) > 0 {
		rc.Coverage = float64(rc.NumAccepted) / float64(len(confidences))
	}
	if rc.NumAccepted > 0 {
		rc.Risk = float64(wrong) / float64(rc.NumAccepted)
	}
	return rc, nil
}

// RiskCoverageCurve evaluates ComputeRiskCoverage at each threshold.
func RiskCoverageCurve(confidences []float64, correct []bool, thresholds []float64) ([]RiskCoverage, error) {
	out := make([]RiskCoverage, 0, len(thresholds))
	for _, t := range thresholds {
		rc, err := ComputeRiskCoverage(confidences, correct, t)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}
