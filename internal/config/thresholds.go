package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GateThresholds are the numeric gates the state machine evaluates each bar.
// These are the pre-override values; at evaluation time the engine scales
// them by the blended threshold override for the current scope.
type GateThresholds struct {
	HaloMult          float64 `yaml:"halo_mult"`           // anchor proximity = halo_mult * volatility
	StrengthMin       float64 `yaml:"strength_min"`        // composite trend-strength gate
	BoostCap          float64 `yaml:"boost_cap"`           // max S/R proximity boost
	TrimExhaustion    float64 `yaml:"trim_exhaustion"`     // ox threshold for trim_flag
	DipMin            float64 `yaml:"dip_min"`             // dx threshold for buy_flag
	ResistanceVolMult float64 `yaml:"resistance_vol_mult"` // trim needs resistance within this many vol units
	TrimCooldownBars  int     `yaml:"trim_cooldown_bars"`  // min bars between trims
}

// DefaultGateThresholds mirrors config/thresholds.yaml's default section.
func DefaultGateThresholds() GateThresholds {
	return GateThresholds{
		HaloMult:          1.5,
		StrengthMin:       0.60,
		BoostCap:          0.25,
		TrimExhaustion:    0.65,
		DipMin:            0.60,
		ResistanceVolMult: 1.0,
		TrimCooldownBars:  5,
	}
}

// Scaled applies a threshold override multiplier. A multiplier below 1
// loosens every gate: score thresholds shrink and the halo widens.
func (g GateThresholds) Scaled(m float64) GateThresholds {
	if m <= 0 {
		return g
	}
	out := g
	out.StrengthMin = g.StrengthMin * m
	out.TrimExhaustion = g.TrimExhaustion * m
	out.DipMin = g.DipMin * m
	out.HaloMult = g.HaloMult / m
	return out
}

type thresholdsFile struct {
	Default    *GateThresholds           `yaml:"default"`
	Timeframes map[string]GateThresholds `yaml:"timeframes"`
}

// ThresholdRouter selects gate thresholds per timeframe with a default
// fallback.
type ThresholdRouter struct {
	def        GateThresholds
	timeframes map[string]GateThresholds
}

// NewThresholdRouter loads thresholds from a YAML file.
func NewThresholdRouter(path string) (*ThresholdRouter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds config: %w", err)
	}

	var file thresholdsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds config: %w", err)
	}

	router := &ThresholdRouter{
		def:        DefaultGateThresholds(),
		timeframes: file.Timeframes,
	}
	if file.Default != nil {
		router.def = *file.Default
	}
	return router, nil
}

// NewThresholdRouterWithDefaults builds a router without a config file.
func NewThresholdRouterWithDefaults() *ThresholdRouter {
	return &ThresholdRouter{def: DefaultGateThresholds()}
}

// Select returns the thresholds for a timeframe, falling back to default.
func (r *ThresholdRouter) Select(timeframe string) GateThresholds {
	if t, ok := r.timeframes[timeframe]; ok {
		return t
	}
	return r.def
}
