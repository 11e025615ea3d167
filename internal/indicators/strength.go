package indicators

// Vote weights of the composite strength.
const (
	weightRSI   = 30
	weightMACD  = 35
	weightEMA   = 20
	weightCross = 15
)

// Strength levels.
const (
	LevelVeryWeak   = "VERY_WEAK"
	LevelWeak       = "WEAK"
	LevelModerate   = "MODERATE"
	LevelStrong     = "STRONG"
	LevelVeryStrong = "VERY_STRONG"
)

// Strength is the weighted vote of the four directional signals.
type Strength struct {
	Score     float64 `json:"score"`
	Level     string  `json:"level"`
	Direction string  `json:"direction"`
}

// ComputeStrength aggregates the RSI, MACD, EMA9/21 and EMA50/200 signals.
// Empty labels count as neutral.
func ComputeStrength(rsiSignal, macdSignal, emaSignal, emaCross string) Strength {
	var score float64
	var bullish, bearish int

	vote := func(label string, weight float64, bull, bear string) {
		switch label {
		case bull:
			score += weight
			bullish++
		case bear:
			score += weight
			bearish++
		}
	}
	vote(rsiSignal, weightRSI, Oversold, Overbought)
	vote(macdSignal, weightMACD, Bullish, Bearish)
	vote(emaSignal, weightEMA, Bullish, Bearish)
	vote(emaCross, weightCross, GoldenCross, DeathCross)

	direction := Neutral
	switch {
	case bullish > bearish:
		direction = Bullish
	case bearish > bullish:
		direction = Bearish
	}

	return Strength{Score: score, Level: level(score), Direction: direction}
}

func level(score float64) string {
	switch {
	case score < 20:
		return LevelVeryWeak
	case score < 40:
		return LevelWeak
	case score < 60:
		return LevelModerate
	case score < 80:
		return LevelStrong
	default:
		return LevelVeryStrong
	}
}
