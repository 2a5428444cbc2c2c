package decision

import (
	"fmt"
	"math"
	"sort"

	"github.com/MeKo-Tech/trustroute/internal/calibration"
	"github.com/MeKo-Tech/trustroute/internal/ensemble"
	"github.com/MeKo-Tech/trustroute/internal/selective"
	"github.com/MeKo-Tech/trustroute/internal/uncertainty"
)

// GlobalDomain is the temperature fallback for domains without their own.
const GlobalDomain = "global"

// DefaultDomain is used when a request names no domain.
const DefaultDomain = "general"

// Profile is the complete, immutable calibration state of the engine.
// Profiles are replaced, never mutated, once handed to an Engine.
type Profile struct {
	Ensemble     ensemble.Config
	Temperatures map[string]float64
	Selective    selective.Config
	Uncertainty  uncertainty.Quantifier
	Calibration  calibration.Config
	// AutoOOD also flags input as OOD when the epistemic uncertainty of
	// its components exceeds the quantifier threshold.
	AutoOOD bool
}

// DefaultProfile returns the built-in defaults with identity temperatures.
func DefaultProfile() Profile {
	return Profile{
		Ensemble: ensemble.DefaultConfig(),
		Temperatures: map[string]float64{
			GlobalDomain: 1.0,
			"medical":    1.0,
			"logistics":  1.0,
		},
		Selective:   selective.DefaultConfig(),
		Uncertainty: uncertainty.NewQuantifier(),
		Calibration: calibration.DefaultConfig(),
	}
}

// Temperature resolves the temperature of a domain: the domain's own, then
// the global one, then 1.0.
func (p Profile) Temperature(domain string) float64 {
	if t, ok := p.Temperatures[domain]; ok {
		return t
	}
	if t, ok := p.Temperatures[GlobalDomain]; ok {
		return t
	}
	return 1.0
}

// WithTemperature returns a copy of p with the domain's temperature set.
func (p Profile) WithTemperature(domain string, t float64) Profile {
	temps := make(map[string]float64, len(p.Temperatures)+1)
	for k, v := range p.Temperatures {
		temps[k] = v
	}
	temps[domain] = t
	p.Temperatures = temps
	return p
}

// Domains lists every domain named by a temperature or threshold override.
func (p Profile) Domains() []string {
	seen := map[string]bool{}
	for d := range p.Temperatures {
		seen[d] = true
	}
	for d := range p.Selective.DomainOverrides {
		seen[d] = true
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Validate checks the profile for values the engine cannot work with.
func (p Profile) Validate() error {
	switch p.Ensemble.Method {
	case ensemble.MethodMean, ensemble.MethodMedian, ensemble.MethodVarianceWeighted:
	default:
		return fmt.Errorf("invalid aggregation method %q", p.Ensemble.Method)
	}
	if p.Ensemble.VariancePenalty < 0 {
		return fmt.Errorf("variance penalty must be non-negative, got %v", p.Ensemble.VariancePenalty)
	}
	for name, w := range p.Ensemble.ComponentWeights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("component weight %s must be non-negative, got %v", name, w)
		}
	}
	for domain, t := range p.Temperatures {
		if t <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("temperature for %s must be positive, got %v", domain, t)
		}
	}
	if err := p.Selective.Thresholds.Validate(); err != nil {
		return fmt.Errorf("selective thresholds: %w", err)
	}
	for domain, override := range p.Selective.DomainOverrides {
		if err := p.Selective.Thresholds.Merge(override).Validate(); err != nil {
			return fmt.Errorf("thresholds for %s: %w", domain, err)
		}
	}
	if p.Selective.OODPenalty < 0 || p.Selective.OODPenalty > 1 {
		return fmt.Errorf("ood penalty must be in [0,1], got %v", p.Selective.OODPenalty)
	}
	return nil
}
