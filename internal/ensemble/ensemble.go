// Package ensemble combines component confidences of one document stage into
// a single aggregated confidence and exposes how much the components disagree.
package ensemble

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Method selects the aggregation strategy.
type Method string

const (
	MethodMean             Method = "mean"
	MethodMedian           Method = "median"
	MethodVarianceWeighted Method = "variance_weighted"
)

// Component names used by AggregateComponents.
const (
	ComponentOCR    = "ocr"
	ComponentLingua = "lingua"
	ComponentComply = "comply"
)

// DefaultVariancePenalty is subtracted per unit of standard deviation.
const DefaultVariancePenalty = 0.15

// DefaultComponentWeights returns the default ocr/lingua/comply weights.
func DefaultComponentWeights() map[string]float64 {
	return map[string]float64{
		ComponentOCR:    0.40,
		ComponentLingua: 0.35,
		ComponentComply: 0.25,
	}
}

// componentOrder fixes the iteration order over component maps.
var componentOrder = []string{ComponentOCR, ComponentLingua, ComponentComply}

// Config configures an Aggregator.
type Config struct {
	Method           Method
	VariancePenalty  float64
	ComponentWeights map[string]float64
}

// DefaultConfig returns variance_weighted aggregation with default weights.
func DefaultConfig() Config {
	return Config{
		Method:           MethodVarianceWeighted,
		VariancePenalty:  DefaultVariancePenalty,
		ComponentWeights: DefaultComponentWeights(),
	}
}

// Result is the outcome of an aggregation.
type Result struct {
	Aggregated   float64 `json:"aggregated_confidence"`
	Variance     float64 `json:"variance"`
	StdDev       float64 `json:"std_dev"`
	Min          float64 `json:"min_confidence"`
	Max          float64 `json:"max_confidence"`
	NumSources   int     `json:"num_sources"`
	Disagreement float64 `json:"disagreement"`
}

// ComponentResult adds the per-component breakdown to a Result.
type ComponentResult struct {
	Result
	Breakdown map[string]float64 `json:"component_breakdown"`
	Weights   map[string]float64 `json:"component_weights"`
}

// Aggregator is stateless after construction and safe for concurrent use.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Aggregator. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Method == "" {
		cfg.Method = MethodVarianceWeighted
	}
	if cfg.ComponentWeights == nil {
		cfg.ComponentWeights = DefaultComponentWeights()
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

// Config returns the aggregator configuration.
func (a *Aggregator) Config() Config { return a.cfg }

// Aggregate combines confidences using the configured method. Weights are
// optional; when given they must match confidences in length and are
// normalized to sum to one.
func (a *Aggregator) Aggregate(confidences, weights []float64) (Result, error) {
	return a.AggregateWith(a.cfg.Method, confidences, weights)
}

// AggregateWith is Aggregate with an explicit method.
func (a *Aggregator) AggregateWith(method Method, confidences, weights []float64) (Result, error) {
	if len(confidences) == 0 {
		return neutralResult(), nil
	}
	for i, c := range confidences {
		if math.IsNaN(c) || c < 0 || c > 1 {
			return Result{}, fmt.Errorf("confidence[%d] = %v outside [0,1]", i, c)
		}
	}
	w, err := normalizeWeights(weights, len(confidences))
	if err != nil {
		return Result{}, err
	}

	_, variance := stat.PopMeanVariance(confidences, nil)
	std := math.Sqrt(variance)

	var agg float64
	switch method {
	case MethodMean:
		agg = stat.Mean(confidences, w)
	case MethodMedian:
		agg = median(confidences)
	case MethodVarianceWeighted:
		agg = clamp01(stat.Mean(confidences, w) - a.cfg.VariancePenalty*std)
	default:
		a.logger.Warn("unknown aggregation method, using mean", "method", string(method))
		agg = stat.Mean(confidences, w)
	}

	return Result{
		Aggregated:   agg,
		Variance:     variance,
		StdDev:       std,
		Min:          floats.Min(confidences),
		Max:          floats.Max(confidences),
		NumSources:   len(confidences),
		Disagreement: std,
	}, nil
}

// AggregateComponents aggregates named component confidences (ocr, lingua,
// comply) using the configured component weights. Unknown component names
// get zero weight.
func (a *Aggregator) AggregateComponents(components map[string]float64) (ComponentResult, error) {
	names := make([]string, 0, len(components))
	for _, n := range componentOrder {
		if _, ok := components[n]; ok {
			names = append(names, n)
		}
	}
	var extra []string
	for n := range components {
		if !contains(componentOrder, n) {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)

	confs := make([]float64, len(names))
	weights := make([]float64, len(names))
	breakdown := make(map[string]float64, len(names))
	for i, n := range names {
		confs[i] = components[n]
		weights[i] = a.cfg.ComponentWeights[n]
		breakdown[n] = components[n]
	}

	var res Result
	var err error
	if len(names) > 0 && floats.Sum(weights) > 0 {
		res, err = a.Aggregate(confs, weights)
	} else {
		res, err = a.Aggregate(confs, nil)
	}
	if err != nil {
		return ComponentResult{}, err
	}

	used := make(map[string]float64, len(a.cfg.ComponentWeights))
	for k, v := range a.cfg.ComponentWeights {
		used[k] = v
	}
	return ComponentResult{Result: res, Breakdown: breakdown, Weights: used}, nil
}

func neutralResult() Result {
	return Result{Aggregated: 0.5, Min: 0.5, Max: 0.5}
}

func normalizeWeights(weights []float64, n int) ([]float64, error) {
	if len(weights) == 0 {
		return nil, nil
	}
	if len(weights) != n {
		return nil, fmt.Errorf("got %d weights for %d confidences", len(weights), n)
	}
	for i, w := range weights {
		if math.IsNaN(w) || w < 0 {
			return nil, fmt.Errorf("weight[%d] = %v must be non-negative", i, w)
		}
	}
	sum := floats.Sum(weights)
	if sum == 0 {
		return nil, fmt.Errorf("weights sum to zero")
	}
	out := make([]float64, n)
	floats.ScaleTo(out, 1/sum, weights)
	return out, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
