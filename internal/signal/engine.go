// Package signal turns quotes and indicators into trade signals.
package signal

import (
	"math"

	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/indicators"
	"crypto-signal-bot-go/internal/models"
	"crypto-signal-bot-go/internal/threshold"
)

const (
	// MinProbability is the absolute floor below which nothing is emitted.
	MinProbability = 0.1
	// neutralMomentum is the momentum needed to break a neutral indicator vote.
	neutralMomentum = 0.5

	strengthWeight = 0.7
	momentumWeight = 0.3
)

// Signal is an accepted trade decision before it is persisted.
type Signal struct {
	Direction   string
	Probability float64
	Threshold   float64
	Momentum    float64
	EntryPrice  float64
	TakeProfit  float64
	StopLoss    float64
}

// Momentum returns the timeframe weighted percent change.
func Momentum(f models.Features, timeframe string) float64 {
	switch timeframe {
	case "15m", "1h":
		return f.PercentChange1h
	case "4h", "12h":
		return f.PercentChange24h*0.7 + f.PercentChange1h*0.3
	case "7d", "1w", "30d", "1m":
		return f.PercentChange7d
	default:
		return f.PercentChange24h*0.8 + f.PercentChange1h*0.2
	}
}

// Score returns the probability and direction implied by the features and
// indicators. Direction is empty when none can be derived.
func Score(f models.Features, ind indicators.Result, timeframe string) (probability float64, direction string, momentum float64) {
	momentum = Momentum(f, timeframe)
	abs := math.Abs(momentum)

	if ind.Strength == nil {
		return math.Min(abs, 100), momentumDirection(momentum), momentum
	}

	probability = math.Min(ind.Strength.Score*strengthWeight+abs*momentumWeight, 100)
	switch ind.Strength.Direction {
	case indicators.Bullish:
		direction = models.SignalLong
	case indicators.Bearish:
		direction = models.SignalShort
	default:
		if abs >= neutralMomentum {
			direction = momentumDirection(momentum)
		}
	}
	return probability, direction, momentum
}

func momentumDirection(m float64) string {
	switch {
	case m > 0:
		return models.SignalLong
	case m < 0:
		return models.SignalShort
	default:
		return ""
	}
}

// Engine scores a symbol's features against its settings.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate resolves the symbol's threshold and decides whether a signal fires.
// It returns nil when the probability is under the floor or the threshold,
// when no direction can be derived, or when the price is not positive.
func (e *Engine) Evaluate(f models.Features, ind indicators.Result, sc config.SymbolConfig) *Signal {
	th := threshold.Resolve(f, sc.ThresholdMode, sc.Threshold, sc.Timeframe)
	return Decide(f, ind, sc.Timeframe, th)
}

// Decide applies an already resolved threshold.
func Decide(f models.Features, ind indicators.Result, timeframe string, threshold float64) *Signal {
	if f.Price <= 0 {
		return nil
	}
	probability, direction, momentum := Score(f, ind, timeframe)
	probability = round(probability, 2)
	if direction == "" || probability < MinProbability || probability < threshold {
		return nil
	}

	tp, sl := Levels(direction, f.Price, probability)
	return &Signal{
		Direction:   direction,
		Probability: probability,
		Threshold:   threshold,
		Momentum:    momentum,
		EntryPrice:  f.Price,
		TakeProfit:  tp,
		StopLoss:    sl,
	}
}

// Levels sizes take profit and stop loss by probability tier.
func Levels(direction string, price, probability float64) (tp, sl float64) {
	var slPct, reward float64
	switch {
	case probability >= 20:
		slPct, reward = 3, 3
	case probability >= 10:
		slPct, reward = 4, 2.5
	default:
		slPct, reward = 5, 2
	}
	tpPct := slPct * reward

	if direction == models.SignalShort {
		tp = price * (1 - tpPct/100)
		sl = price * (1 + slPct/100)
	} else {
		tp = price * (1 + tpPct/100)
		sl = price * (1 - slPct/100)
	}
	return round(tp, 8), round(sl, 8)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
