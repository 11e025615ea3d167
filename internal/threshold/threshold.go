// Package threshold resolves the confidence bar a signal probability must reach.
package threshold

import (
	"math"

	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/models"
)

const (
	Min = 0.5
	Max = 15.0
)

var timeframeMultipliers = map[string]float64{
	"15m": 0.7,
	"1h":  0.8,
	"4h":  0.9,
	"12h": 1.0,
	"24h": 1.0,
	"1d":  1.0,
	"7d":  1.2,
	"1w":  1.2,
	"30d": 1.3,
	"1m":  1.3,
}

// steps maps a volatility floor to its base threshold, highest first.
var steps = []struct {
	above float64
	base  float64
}{
	{15, 8.0},
	{10, 5.0},
	{7, 3.5},
	{5, 2.5},
	{3, 1.5},
	{1, 1.0},
}

// Volatility blends the absolute 1h, 24h and 7d changes into one percentage.
func Volatility(f models.Features) float64 {
	v := math.Abs(f.PercentChange1h)*0.5 +
		math.Abs(f.PercentChange24h)*0.3 +
		math.Abs(f.PercentChange7d)*0.2
	return round2(v)
}

// Multiplier returns the timeframe factor. Unknown timeframes scale by 1.
func Multiplier(timeframe string) float64 {
	if m, ok := timeframeMultipliers[timeframe]; ok {
		return m
	}
	return 1.0
}

// Dynamic maps a volatility to a threshold clamped to [Min, Max].
func Dynamic(volatility float64, timeframe string) float64 {
	base := 0.5
	for _, s := range steps {
		if volatility > s.above {
			base = s.base
			break
		}
	}
	t := base * Multiplier(timeframe)
	t = math.Max(Min, math.Min(Max, t))
	return round2(t)
}

// Resolve returns the threshold for a symbol. Manual mode returns manual
// unchanged; anything else is treated as dynamic.
func Resolve(f models.Features, mode string, manual float64, timeframe string) float64 {
	if mode == config.ThresholdModeManual {
		return manual
	}
	return Dynamic(Volatility(f), timeframe)
}

// Preview describes how a dynamic threshold was derived.
type Preview struct {
	Coin       string  `json:"coin"`
	Timeframe  string  `json:"timeframe"`
	Volatility float64 `json:"volatility"`
	Multiplier float64 `json:"multiplier"`
	Threshold  float64 `json:"threshold"`
}

// NewPreview computes the dynamic threshold breakdown for the given features.
func NewPreview(coin, timeframe string, f models.Features) Preview {
	vol := Volatility(f)
	return Preview{
		Coin:       coin,
		Timeframe:  timeframe,
		Volatility: vol,
		Multiplier: Multiplier(timeframe),
		Threshold:  Dynamic(vol, timeframe),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
