package calibration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Epsilon keeps probabilities away from 0 and 1 before taking logarithms.
const Epsilon = 1e-7

// DefaultNumBins is the number of equal-width confidence bins.
const DefaultNumBins = 10

// Bin holds the statistics of one reliability bin.
type Bin struct {
	Lower          float64 `json:"lower"`
	Upper          float64 `json:"upper"`
	Count          int     `json:"count"`
	Accuracy       float64 `json:"accuracy"`
	MeanConfidence float64 `json:"mean_confidence"`
	Gap            float64 `json:"gap"`
}

// Report is the full set of calibration metrics for a sample.
type Report struct {
	ECE           float64 `json:"ece"`
	MCE           float64 `json:"mce"`
	Brier         float64 `json:"brier_score"`
	NLL           float64 `json:"nll"`
	NumSamples    int     `json:"num_samples"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgAccuracy   float64 `json:"avg_accuracy"`
}

// Bins splits [0,1] into numBins equal-width bins [lo, hi) and reports the
// statistics of each. A confidence of exactly 1.0 lands in the last bin.
// Empty bins are included with a zero count.
func Bins(confidences []float64, correct []bool, numBins int) []Bin {
	if numBins <= 0 {
		numBins = DefaultNumBins
	}
	n := min(len(confidences), len(correct))
	step := 1.0 / float64(numBins)

	bins := make([]Bin, numBins)
	sumConf := make([]float64, numBins)
	sumAcc := make([]float64, numBins)
	for i := range bins {
		bins[i].Lower = float64(i) * step
		bins[i].Upper = float64(i+1) * step
	}
	bins[numBins-1].Upper = 1.0

	for i := 0; i < n; i++ {
		idx := binIndex(bins, confidences[i])
		if idx < 0 {
			continue
		}
		bins[idx].Count++
		sumConf[idx] += confidences[i]
		sumAcc[idx] += boolToFloat(correct[i])
	}

	for i := range bins {
		if bins[i].Count == 0 {
			continue
		}
		c := float64(bins[i].Count)
		bins[i].Accuracy = sumAcc[i] / c
		bins[i].MeanConfidence = sumConf[i] / c
		bins[i].Gap = math.Abs(bins[i].Accuracy - bins[i].MeanConfidence)
	}
	return bins
}

func binIndex(bins []Bin, c float64) int {
	last := len(bins) - 1
	for i, b := range bins {
		if c >= b.Lower && c < b.Upper {
			return i
		}
	}
	if c == bins[last].Upper {
		return last
	}
	return -1
}

// ECE is the expected calibration error: the sample-weighted mean of the
// per-bin gap between accuracy and mean confidence.
func ECE(confidences []float64, correct []bool, numBins int) float64 {
	n := min(len(confidences), len(correct))
	if n == 0 {
		return 0
	}
	ece := 0.0
	for _, b := range Bins(confidences, correct, numBins) {
		if b.Count == 0 {
			continue
		}
		ece += float64(b.Count) / float64(n) * b.Gap
	}
	return ece
}

// MCE is the maximum calibration error over non-empty bins.
func MCE(confidences []float64, correct []bool, numBins int) float64 {
	mce := 0.0
	for _, b := range Bins(confidences, correct, numBins) {
		if b.Count > 0 && b.Gap > mce {
			mce = b.Gap
		}
	}
	return mce
}

// Brier is the mean squared error between confidence and outcome.
func Brier(confidences []float64, correct []bool) float64 {
	n := min(len(confidences), len(correct))
	if n == 0 {
		return 0
	}
	sq := make([]float64, n)
	for i := 0; i < n; i++ {
		d := confidences[i] - boolToFloat(correct[i])
		sq[i] = d * d
	}
	return stat.Mean(sq, nil)
}

// NLL is the binary cross-entropy of the confidences against the outcomes.
func NLL(confidences []float64, correct []bool) float64 {
	n := min(len(confidences), len(correct))
	if n == 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		p := clampProb(confidences[i])
		if correct[i] {
			total += math.Log(p)
		} else {
			total += math.Log(1 - p)
		}
	}
	return -total / float64(n)
}

// ComputeAll evaluates every metric on the sample.
func ComputeAll(confidences []float64, correct []bool, numBins int) Report {
	n := min(len(confidences), len(correct))
	r := Report{NumSamples: n}
	if n == 0 {
		return r
	}
	confidences = confidences[:n]
	correct = correct[:n]

	acc := make([]float64, n)
	for i, c := range correct {
		acc[i] = boolToFloat(c)
	}

	r.ECE = ECE(confidences, correct, numBins)
	r.MCE = MCE(confidences, correct, numBins)
	r.Brier = Brier(confidences, correct)
	r.NLL = NLL(confidences, correct)
	r.AvgConfidence = floats.Sum(confidences) / float64(n)
	r.AvgAccuracy = floats.Sum(acc) / float64(n)
	return r
}

func clampProb(p float64) float64 {
	return math.Max(Epsilon, math.Min(1-Epsilon, p))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
