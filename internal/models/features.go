package models

// Features is the quote-derived input of the signal model.
type Features struct {
	Price            float64 `json:"price"`
	PercentChange1h  float64 `json:"percent_change_1h"`
	PercentChange24h float64 `json:"percent_change_24h"`
	PercentChange7d  float64 `json:"percent_change_7d"`
	PercentChange30d float64 `json:"percent_change_30d"`
	PercentChange60d float64 `json:"percent_change_60d"`
	PercentChange90d float64 `json:"percent_change_90d"`
	MarketCap        float64 `json:"market_cap"`
	Volume24h        float64 `json:"volume_24h"`
	VolumeChange24h  float64 `json:"volume_change_24h"`
}
