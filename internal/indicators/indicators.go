// Package indicators computes technical indicators over an ascending price series.
// All functions are pure and safe for concurrent use.
package indicators

import "math"

const (
	RSIPeriod        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignalPeriod = 9
	VolatilityWindow = 20

	// crossBand is the relative EMA50/EMA200 gap that counts as a cross.
	crossBand = 0.005
)

// Signal labels.
const (
	Neutral     = "NEUTRAL"
	Oversold    = "OVERSOLD"
	Overbought  = "OVERBOUGHT"
	Bullish     = "BULLISH"
	Bearish     = "BEARISH"
	GoldenCross = "GOLDEN_CROSS"
	DeathCross  = "DEATH_CROSS"
)

// RSI returns Wilder's relative strength index rounded to 2 decimals. ok is
// false when fewer than period+1 prices are given. Exactly 100 is returned
// only when the average loss is 0; a loss small enough to round away also
// reports 100.
func RSI(prices []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(prices); i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return round(100-100/(1+rs), 2), true
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// RSISignal classifies an RSI value.
func RSISignal(rsi float64) string {
	switch {
	case rsi < 30:
		return Oversold
	case rsi > 70:
		return Overbought
	default:
		return Neutral
	}
}

// EMASeries returns the exponential moving average for every index from
// period-1 onward. The seed is the simple mean of the first period values.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	var sum float64
	for _, v := range values[:period] {
		sum += v
	}
	ema := sum / float64(period)

	k := 2 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
		out = append(out, ema)
	}
	return out
}

// EMA returns the last exponential moving average of values.
func EMA(values []float64, period int) (float64, bool) {
	series := EMASeries(values, period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// MACDResult holds the last MACD line, signal line and histogram values.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes MACD(12,26,9). With fewer than nine MACD points the signal
// line falls back to the last MACD value and the histogram is zero.
func MACD(prices []float64) (MACDResult, bool) {
	if len(prices) < MACDSlow {
		return MACDResult{}, false
	}

	fast := EMASeries(prices, MACDFast)
	slow := EMASeries(prices, MACDSlow)

	// fast starts at index MACDFast-1, slow at MACDSlow-1.
	offset := MACDSlow - MACDFast
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}

	last := round(line[len(line)-1], 4)
	if len(line) < MACDSignalPeriod {
		return MACDResult{MACD: last, Signal: last, Histogram: 0}, true
	}

	signal, _ := EMA(line, MACDSignalPeriod)
	signal = round(signal, 4)
	return MACDResult{
		MACD:      last,
		Signal:    signal,
		Histogram: round(last-signal, 4),
	}, true
}

// MACDSignal classifies a MACD result.
func MACDSignal(m MACDResult) string {
	switch {
	case m.MACD > m.Signal && m.Histogram > 0:
		return Bullish
	case m.MACD < m.Signal && m.Histogram < 0:
		return Bearish
	default:
		return Neutral
	}
}

// EMASignal classifies the EMA9/EMA21 relation against the current price.
func EMASignal(ema9, ema21, price float64) string {
	switch {
	case ema9 > ema21 && price > ema9:
		return Bullish
	case ema9 < ema21 && price < ema9:
		return Bearish
	default:
		return Neutral
	}
}

// EMACross classifies the EMA50/EMA200 gap.
func EMACross(ema50, ema200 float64) string {
	if ema200 == 0 {
		return Neutral
	}
	gap := (ema50 - ema200) / ema200
	switch {
	case gap > crossBand:
		return GoldenCross
	case gap < -crossBand:
		return DeathCross
	default:
		return Neutral
	}
}

// Volatility returns the coefficient of variation, in percent, of the last
// VolatilityWindow prices. It is 0 with fewer than two points.
func Volatility(prices []float64) float64 {
	if len(prices) > VolatilityWindow {
		prices = prices[len(prices)-VolatilityWindow:]
	}
	if len(prices) < 2 {
		return 0
	}

	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, p := range prices {
		sq += (p - mean) * (p - mean)
	}
	std := math.Sqrt(sq / float64(len(prices)))
	return round(std/mean*100, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
