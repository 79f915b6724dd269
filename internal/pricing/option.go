// Package pricing is the option valuation engine: a closed-form
// Black-Scholes-Merton pricer, a Cox-Ross-Rubinstein binomial lattice,
// a finite-difference Greeks engine and a bracketed implied volatility
// solver.
//
// Every function here is a pure computation over its arguments. There is
// no package state, nothing to initialise and nothing to tear down, so
// callers may fan calls out across goroutines freely.
package pricing

import (
	"fmt"
	"math"
	"strings"
)

// OptionKind is call or put.
type OptionKind string

const (
	Call OptionKind = "call"
	Put  OptionKind = "put"
)

// ExerciseStyle is European or American.
type ExerciseStyle string

const (
	European ExerciseStyle = "european"
	American ExerciseStyle = "american"
)

// ParseKind accepts "call", "c", "put" and "p" in any case.
func ParseKind(s string) (OptionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return "", invalidf("kind", "unknown option kind %q", s)
}

// ParseStyle accepts "european", "e", "american" and "a" in any case.
// An empty string means European.
func ParseStyle(s string) (ExerciseStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "european", "e", "":
		return European, nil
	case "american", "a":
		return American, nil
	}
	return "", invalidf("style", "unknown exercise style %q", s)
}

// OptionSpec is the full parameter set of a single vanilla option.
// It is a value type; the With* helpers return modified copies.
type OptionSpec struct {
	Spot     float64       `json:"spot"`     // underlying price S
	Strike   float64       `json:"strike"`   // strike K
	Expiry   float64       `json:"expiry"`   // time to expiry T in years
	Rate     float64       `json:"rate"`     // continuously compounded risk-free rate r
	Vol      float64       `json:"vol"`      // annualised volatility σ
	Dividend float64       `json:"dividend"` // continuous dividend yield q
	Kind     OptionKind    `json:"kind"`
	Style    ExerciseStyle `json:"style"`
}

func (s OptionSpec) WithSpot(v float64) OptionSpec   { s.Spot = v; return s }
func (s OptionSpec) WithStrike(v float64) OptionSpec { s.Strike = v; return s }
func (s OptionSpec) WithExpiry(v float64) OptionSpec { s.Expiry = v; return s }
func (s OptionSpec) WithRate(v float64) OptionSpec   { s.Rate = v; return s }
func (s OptionSpec) WithVol(v float64) OptionSpec    { s.Vol = v; return s }

func (s OptionSpec) WithKind(k OptionKind) OptionSpec     { s.Kind = k; return s }
func (s OptionSpec) WithStyle(v ExerciseStyle) OptionSpec { s.Style = v; return s }

// Intrinsic returns the immediate-exercise payoff at the current spot.
func (s OptionSpec) Intrinsic() float64 {
	return payoff(s.Kind, s.Spot, s.Strike)
}

func (s OptionSpec) String() string {
	return fmt.Sprintf("%s %s S=%g K=%g T=%g r=%g σ=%g q=%g",
		s.Style, s.Kind, s.Spot, s.Strike, s.Expiry, s.Rate, s.Vol, s.Dividend)
}

// Validate checks the input domain shared by both pricers. Volatility
// must be positive whenever T>0; at T=0 the option is payoff-only and a
// zero volatility is accepted.
func (s OptionSpec) Validate() error {
	if err := s.validateMarket(); err != nil {
		return err
	}
	if !finite(s.Vol) || s.Vol < 0 {
		return invalidf("vol", "volatility must be a finite non-negative number, got %g", s.Vol)
	}
	if s.Expiry > 0 && s.Vol == 0 {
		return invalidf("vol", "volatility must be positive when expiry > 0")
	}
	return nil
}

// validateMarket checks everything except volatility. The IV solver uses
// it because it supplies σ itself.
func (s OptionSpec) validateMarket() error {
	switch {
	case !finite(s.Spot) || s.Spot <= 0:
		return invalidf("spot", "spot must be positive, got %g", s.Spot)
	case !finite(s.Strike) || s.Strike <= 0:
		return invalidf("strike", "strike must be positive, got %g", s.Strike)
	case !finite(s.Expiry) || s.Expiry < 0:
		return invalidf("expiry", "expiry must be non-negative, got %g", s.Expiry)
	case !finite(s.Rate):
		return invalidf("rate", "rate must be finite, got %g", s.Rate)
	case !finite(s.Dividend) || s.Dividend < 0:
		return invalidf("dividend", "dividend yield must be non-negative, got %g", s.Dividend)
	}
	switch s.Kind {
	case Call, Put:
	default:
		return invalidf("kind", "unknown option kind %q", s.Kind)
	}
	switch s.Style {
	case European, American:
	default:
		return invalidf("style", "unknown exercise style %q", s.Style)
	}
	return nil
}

// Pricer is anything that maps an OptionSpec to a price. BlackScholes
// and Binomial both satisfy it.
type Pricer interface {
	Price(spec OptionSpec) (float64, error)
}

// PricerFunc adapts a plain function to Pricer.
type PricerFunc func(spec OptionSpec) (float64, error)

func (f PricerFunc) Price(spec OptionSpec) (float64, error) { return f(spec) }

func payoff(kind OptionKind, spot, strike float64) float64 {
	if kind == Call {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
