package coinmarketcap

import "fmt"

// FetchError is returned when a provider request failed after its retry.
type FetchError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("coinmarketcap %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("coinmarketcap %s %s failed: %v", e.Op, e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FeatureExtractionError is returned when a response lacks the fields a quote needs.
type FeatureExtractionError struct {
	Symbol string
	Reason string
}

func (e *FeatureExtractionError) Error() string {
	return fmt.Sprintf("malformed quote for %s: %s", e.Symbol, e.Reason)
}
