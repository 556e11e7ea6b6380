package domain

import (
	"errors"
	"fmt"
	"time"
)

// RiskLevel is the advisory aftershock risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// AftershockEstimate is the estimator's verdict and the evidence behind it.
type AftershockEstimate struct {
	Level         RiskLevel     `json:"level"`
	Message       string        `json:"pesan"`
	Elevated      int           `json:"elevated"`
	Total         int           `json:"total"`
	MeanDeviation float64       `json:"mean_deviation"`
	Rising        bool          `json:"rising"`
	Window        time.Duration `json:"-"`
}

// AftershockConfig holds the estimator thresholds.
type AftershockConfig struct {
	MinEvents           int
	MediumElevated      int
	HighElevated        int
	MediumMeanDeviation float64
	HighMeanDeviation   float64
	TrendDelta          float64
}

// DefaultAftershockConfig returns thresholds tuned for one sample every few
// seconds over a one hour window.
func DefaultAftershockConfig() AftershockConfig {
	return AftershockConfig{
		MinEvents:           10,
		MediumElevated:      3,
		HighElevated:        10,
		MediumMeanDeviation: 0.1,
		HighMeanDeviation:   0.25,
		TrendDelta:          0.05,
	}
}

// Validate checks ordering of the thresholds.
func (c AftershockConfig) Validate() error {
	if c.MinEvents < 1 {
		return errors.New("aftershock min events must be at least 1")
	}
	if c.MediumElevated < 1 || c.HighElevated <= c.MediumElevated {
		return errors.New("aftershock elevated counts must satisfy 0 < medium < high")
	}
	if c.MediumMeanDeviation <= 0 || c.HighMeanDeviation <= c.MediumMeanDeviation {
		return errors.New("aftershock mean deviations must satisfy 0 < medium < high")
	}
	if c.TrendDelta < 0 {
		return errors.New("aftershock trend delta must not be negative")
	}
	return nil
}

// AftershockEstimator derives a coarse risk level from recent activity.
type AftershockEstimator struct {
	cfg AftershockConfig
}

func NewAftershockEstimator(cfg AftershockConfig) *AftershockEstimator {
	return &AftershockEstimator{cfg: cfg}
}

// Estimate never fails: a window with too little data yields LOW.
func (e *AftershockEstimator) Estimate(view AggregateView, window time.Duration) AftershockEstimate {
	est := AftershockEstimate{
		Level:         RiskLow,
		Elevated:      view.Elevated(),
		Total:         view.Total,
		MeanDeviation: view.MeanDeviation,
		Window:        window,
	}

	if view.Total < e.cfg.MinEvents {
		est.Message = fmt.Sprintf("Not enough readings in the last %s to estimate aftershock risk.", window)
		return est
	}

	switch {
	case est.Elevated >= e.cfg.HighElevated || view.MeanDeviation >= e.cfg.HighMeanDeviation:
		est.Level = RiskHigh
	case est.Elevated >= e.cfg.MediumElevated || view.MeanDeviation >= e.cfg.MediumMeanDeviation:
		est.Level = RiskMedium
	}

	est.Rising = trend(view.DeviationSeries) > e.cfg.TrendDelta
	if est.Rising && est.Elevated > 0 {
		est.Level = escalate(est.Level)
	}

	est.Message = riskMessage(est.Level, est.Elevated, window)
	return est
}

func escalate(l RiskLevel) RiskLevel {
	switch l {
	case RiskLow:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// trend is the mean deviation of the newer half of the series minus the
// older half. Series shorter than four points have no trend.
func trend(series []DeviationPoint) float64 {
	if len(series) < 4 {
		return 0
	}
	mid := len(series) / 2
	return meanDeviation(series[mid:]) - meanDeviation(series[:mid])
}

func meanDeviation(points []DeviationPoint) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Deviation
	}
	return sum / float64(len(points))
}

func riskMessage(l RiskLevel, elevated int, window time.Duration) string {
	switch l {
	case RiskHigh:
		return fmt.Sprintf("High aftershock risk: %d elevated readings in the last %s. Stay alert and away from damaged structures.", elevated, window)
	case RiskMedium:
		return fmt.Sprintf("Moderate aftershock risk: %d elevated readings in the last %s. Keep monitoring.", elevated, window)
	default:
		return "Low aftershock risk. Conditions are stable."
	}
}
