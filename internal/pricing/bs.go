package pricing

import "math"

// BlackScholes is the closed-form European pricer. The zero value is
// ready to use.
type BlackScholes struct{}

// Price implements Pricer.
func (BlackScholes) Price(spec OptionSpec) (float64, error) {
	return BlackScholesPrice(spec)
}

// BlackScholesPrice calculates the price of a European option using the
// Black-Scholes-Merton model with a continuous dividend yield.
//
// Parameters:
//   - spec: option parameters; Style must be European
//
// Returns:
//
//	The discounted risk-neutral expectation of the payoff. At T=0 the
//	intrinsic value is returned without evaluating d1/d2.
//
// Errors are always InvalidParameter: non-positive spot or strike,
// negative expiry or dividend, non-positive volatility with T>0, or an
// American exercise style.
func BlackScholesPrice(spec OptionSpec) (float64, error) {
	if err := checkClosedForm(spec); err != nil {
		return 0, err
	}
	if spec.Expiry == 0 {
		return spec.Intrinsic(), nil
	}

	d1, d2 := d1d2(spec)
	S, K, T := spec.Spot, spec.Strike, spec.Expiry
	carry := math.Exp(-spec.Dividend * T)
	disc := math.Exp(-spec.Rate * T)

	if spec.Kind == Call {
		return S*carry*normCDF(d1) - K*disc*normCDF(d2), nil
	}
	return K*disc*normCDF(-d2) - S*carry*normCDF(-d1), nil
}

// BlackScholesGreeks returns the analytic sensitivities of a European
// option. Units match the finite-difference engine: vega per unit σ,
// theta per year as −∂V/∂T, rho per unit rate.
//
// At T=0 delta is the slope of the payoff (half the jump exactly at the
// money) and every other Greek is zero.
func BlackScholesGreeks(spec OptionSpec) (Greeks, error) {
	if err := checkClosedForm(spec); err != nil {
		return Greeks{}, err
	}
	if spec.Expiry == 0 {
		return Greeks{Delta: payoffSlope(spec)}, nil
	}

	d1, d2 := d1d2(spec)
	S, K, T, r, q, sigma := spec.Spot, spec.Strike, spec.Expiry, spec.Rate, spec.Dividend, spec.Vol
	sqrtT := math.Sqrt(T)
	carry := math.Exp(-q * T)
	disc := math.Exp(-r * T)
	pdf := normPDF(d1)

	g := Greeks{
		Gamma: carry * pdf / (S * sigma * sqrtT),
		Vega:  S * carry * pdf * sqrtT,
	}
	decay := -S * carry * pdf * sigma / (2 * sqrtT)

	if spec.Kind == Call {
		g.Delta = carry * normCDF(d1)
		g.Theta = decay + q*S*carry*normCDF(d1) - r*K*disc*normCDF(d2)
		g.Rho = K * T * disc * normCDF(d2)
	} else {
		g.Delta = carry * (normCDF(d1) - 1)
		g.Theta = decay - q*S*carry*normCDF(-d1) + r*K*disc*normCDF(-d2)
		g.Rho = -K * T * disc * normCDF(-d2)
	}
	return g, nil
}

// StrikeForDelta inverts the Black-Scholes delta: it returns the strike K
// at which an option with the remaining parameters of spec has the given
// delta. Call deltas must lie in (0, e^{-qT}), put deltas in (−e^{-qT}, 0).
// spec.Strike is ignored.
func StrikeForDelta(spec OptionSpec, delta float64) (float64, error) {
	probe := spec.WithStrike(spec.Spot)
	if err := checkClosedForm(probe); err != nil {
		return 0, err
	}
	if probe.Expiry == 0 {
		return 0, invalidf("expiry", "strike for delta needs expiry > 0")
	}

	T, sigma := probe.Expiry, probe.Vol
	bound := math.Exp(-probe.Dividend * T)
	var p float64
	switch {
	case probe.Kind == Call && delta > 0 && delta < bound:
		p = delta / bound
	case probe.Kind == Put && delta < 0 && delta > -bound:
		p = delta/bound + 1
	default:
		return 0, invalidf("delta", "delta %g outside attainable range for a %s", delta, probe.Kind)
	}

	d1 := normInv(p)
	logMoneyness := d1*sigma*math.Sqrt(T) - (probe.Rate-probe.Dividend+0.5*sigma*sigma)*T
	return probe.Spot * math.Exp(-logMoneyness), nil
}

func checkClosedForm(spec OptionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.Style != European {
		return invalidf("style", "closed-form pricer supports European exercise only, got %s", spec.Style)
	}
	return nil
}

func d1d2(spec OptionSpec) (float64, float64) {
	sigmaSqrtT := spec.Vol * math.Sqrt(spec.Expiry)
	d1 := (math.Log(spec.Spot/spec.Strike) + (spec.Rate-spec.Dividend+0.5*spec.Vol*spec.Vol)*spec.Expiry) / sigmaSqrtT
	return d1, d1 - sigmaSqrtT
}

func payoffSlope(spec OptionSpec) float64 {
	var slope float64
	switch {
	case spec.Spot > spec.Strike:
		slope = 1
	case spec.Spot == spec.Strike:
		slope = 0.5
	}
	if spec.Kind == Put {
		return slope - 1
	}
	return slope
}
