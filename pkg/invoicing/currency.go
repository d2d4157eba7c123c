package invoicing

import "strings"

// ExchangeRates holds the multiplicative rates used to convert payment
// amounts into RON. A fixed approximation stands in for a live rate feed;
// currencies without their own rate are routed through EUR.
type ExchangeRates struct {
	EURToRON float64
}

// DefaultRates returns the fixed approximation used when no live rate
// source is configured.
func DefaultRates() ExchangeRates {
	return ExchangeRates{EURToRON: 5.0}
}

// ToRON converts an amount in minor units of the given currency into RON.
func (r ExchangeRates) ToRON(minorUnits int64, currency string) float64 {
	major := float64(minorUnits) / 100

	switch strings.ToLower(currency) {
	case "ron":
		return major
	case "eur":
		return major * r.EURToRON
	default:
		// No direct rate; treat the amount as EUR-equivalent.
		return major * r.EURToRON
	}
}
