// Package uncertainty splits the spread of ensemble confidences into
// epistemic (disagreement) and aleatoric (inherent ambiguity) parts.
package uncertainty

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultOODThreshold    = 0.05
	DefaultEpistemicWeight = 0.6
	DefaultAleatoricWeight = 0.4
)

// Decomposition is the uncertainty breakdown of a set of confidences.
type Decomposition struct {
	Epistemic float64 `json:"epistemic_uncertainty"`
	Aleatoric float64 `json:"aleatoric_uncertainty"`
	Total     float64 `json:"total_uncertainty"`
	Mean      float64 `json:"mean_confidence"`
	Std       float64 `json:"std_confidence"`
	Min       float64 `json:"min_confidence"`
	Max       float64 `json:"max_confidence"`
	Range     float64 `json:"confidence_range"`
}

// Quantifier holds the OOD threshold and score weights.
type Quantifier struct {
	OODThreshold    float64
	EpistemicWeight float64
	AleatoricWeight float64
}

// NewQuantifier returns a Quantifier with default settings.
func NewQuantifier() Quantifier {
	return Quantifier{
		OODThreshold:    DefaultOODThreshold,
		EpistemicWeight: DefaultEpistemicWeight,
		AleatoricWeight: DefaultAleatoricWeight,
	}
}

// Quantify decomposes the uncertainty of the ensemble confidences.
func (q Quantifier) Quantify(confidences []float64) Decomposition {
	if len(confidences) == 0 {
		return Decomposition{Mean: 0.5, Min: 0.5, Max: 0.5}
	}

	mean, variance := stat.PopMeanVariance(confidences, nil)
	aleatoric := mean * (1 - mean)
	lo, hi := floats.Min(confidences), floats.Max(confidences)

	return Decomposition{
		Epistemic: variance,
		Aleatoric: aleatoric,
		Total:     variance + aleatoric,
		Mean:      mean,
		Std:       math.Sqrt(variance),
		Min:       lo,
		Max:       hi,
		Range:     hi - lo,
	}
}

// DetectOOD flags input whose epistemic uncertainty exceeds the threshold.
func (q Quantifier) DetectOOD(epistemic float64) bool {
	return epistemic > q.OODThreshold
}

// Score combines both parts into one scalar risk signal.
func (q Quantifier) Score(epistemic, aleatoric float64) float64 {
	return q.EpistemicWeight*epistemic + q.AleatoricWeight*aleatoric
}
