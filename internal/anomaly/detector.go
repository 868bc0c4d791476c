// Package anomaly flags markets whose recent sentiment departs from their
// rolling baseline by more than a z-score threshold.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"
)

// ScoreSource returns the sentiment scores recorded for market at or after since.
type ScoreSource interface {
	MarketScores(ctx context.Context, market string, since time.Time) ([]float64, error)
}

// Config holds detector configuration.
type Config struct {
	BaselineWindow time.Duration
	RecentWindow   time.Duration
	MinSamples     int
	ZThreshold     float64
	StdDevFloor    float64
}

// DefaultConfig returns the standard 30 day / 3 day test at z > 2.
func DefaultConfig() Config {
	return Config{
		BaselineWindow: 30 * 24 * time.Hour,
		RecentWindow:   3 * 24 * time.Hour,
		MinSamples:     5,
		ZThreshold:     2.0,
		StdDevFloor:    0.1,
	}
}

// Result describes one check.
type Result struct {
	Anomalous    bool
	ZScore       float64
	BaselineMean float64
	StdDev       float64 // after flooring
	RecentMean   float64
	Samples      int // baseline sample count
	Recent       int // recent sample count
}

// Detector runs the z-score test.
type Detector struct {
	config Config
	now    func() time.Time
}

// New creates a Detector. Zero fields take their DefaultConfig values.
func New(config Config) *Detector {
	def := DefaultConfig()
	if config.BaselineWindow <= 0 {
		config.BaselineWindow = def.BaselineWindow
	}
	if config.RecentWindow <= 0 {
		config.RecentWindow = def.RecentWindow
	}
	if config.MinSamples <= 0 {
		config.MinSamples = def.MinSamples
	}
	if config.ZThreshold <= 0 {
		config.ZThreshold = def.ZThreshold
	}
	if config.StdDevFloor <= 0 {
		config.StdDevFloor = def.StdDevFloor
	}
	return &Detector{config: config, now: time.Now}
}

// Check compares the recent mean with the baseline mean and population
// standard deviation. Fewer than MinSamples baseline scores, or no recent
// scores, is never anomalous.
func (d *Detector) Check(ctx context.Context, src ScoreSource, market string) (Result, error) {
	now := d.now()

	baseline, err := src.MarketScores(ctx, market, now.Add(-d.config.BaselineWindow))
	if err != nil {
		return Result{}, fmt.Errorf("failed to load baseline scores for %s: %w", market, err)
	}
	res := Result{Samples: len(baseline)}
	if len(baseline) < d.config.MinSamples {
		return res, nil
	}

	mean, stddev := meanStdDev(baseline)
	res.BaselineMean = mean
	res.StdDev = max(stddev, d.config.StdDevFloor)

	recent, err := src.MarketScores(ctx, market, now.Add(-d.config.RecentWindow))
	if err != nil {
		return Result{}, fmt.Errorf("failed to load recent scores for %s: %w", market, err)
	}
	res.Recent = len(recent)
	if len(recent) == 0 {
		return res, nil
	}

	res.RecentMean, _ = meanStdDev(recent)
	res.ZScore = math.Abs(res.RecentMean-res.BaselineMean) / res.StdDev
	res.Anomalous = res.ZScore > d.config.ZThreshold
	return res, nil
}

// IsAnomalous is Check reduced to its verdict.
func (d *Detector) IsAnomalous(ctx context.Context, src ScoreSource, market string) (bool, error) {
	res, err := d.Check(ctx, src, market)
	return res.Anomalous, err
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}
