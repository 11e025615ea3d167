package indicators

// Result is the indicator snapshot of one price series. Nil fields were not
// computable from the available history.
type Result struct {
	RSI       *float64 `json:"rsi,omitempty"`
	RSISignal string   `json:"rsi_signal,omitempty"`

	MACD           *float64 `json:"macd,omitempty"`
	MACDSignalLine *float64 `json:"macd_signal_line,omitempty"`
	MACDHistogram  *float64 `json:"macd_histogram,omitempty"`
	MACDSignal     string   `json:"macd_signal,omitempty"`

	EMA9      *float64 `json:"ema9,omitempty"`
	EMA21     *float64 `json:"ema21,omitempty"`
	EMA50     *float64 `json:"ema50,omitempty"`
	EMA200    *float64 `json:"ema200,omitempty"`
	EMASignal string   `json:"ema_signal,omitempty"`
	EMACross  string   `json:"ema_cross,omitempty"`

	Volatility *float64  `json:"volatility,omitempty"`
	Strength   *Strength `json:"signal_strength,omitempty"`
}

// Compute derives every indicator from an ascending price series.
func Compute(prices []float64) Result {
	var r Result
	if len(prices) == 0 {
		return r
	}
	price := prices[len(prices)-1]

	if v, ok := RSI(prices, RSIPeriod); ok {
		r.RSI = &v
		r.RSISignal = RSISignal(v)
	}

	macd, macdOK := MACD(prices)
	if macdOK {
		r.MACD = ptr(macd.MACD)
		r.MACDSignalLine = ptr(macd.Signal)
		r.MACDHistogram = ptr(macd.Histogram)
		r.MACDSignal = MACDSignal(macd)
	}

	ema9, ok9 := EMA(prices, 9)
	ema21, ok21 := EMA(prices, 21)
	if ok9 && ok21 {
		r.EMA9 = ptr(round(ema9, 4))
		r.EMA21 = ptr(round(ema21, 4))
		r.EMASignal = EMASignal(ema9, ema21, price)
	}

	ema50, ok50 := EMA(prices, 50)
	ema200, ok200 := EMA(prices, 200)
	if ok50 {
		r.EMA50 = ptr(round(ema50, 4))
	}
	if ok50 && ok200 {
		r.EMA200 = ptr(round(ema200, 4))
		r.EMACross = EMACross(ema50, ema200)
	}

	if len(prices) >= 2 {
		r.Volatility = ptr(Volatility(prices))
	}

	if macdOK {
		s := ComputeStrength(r.RSISignal, r.MACDSignal, r.EMASignal, r.EMACross)
		r.Strength = &s
	}
	return r
}

func ptr(v float64) *float64 { return &v }
