package pricing

// Greeks holds first and second order sensitivities in raw units:
// Delta per unit spot, Gamma per unit spot squared, Vega per unit σ,
// Theta per year, Rho per unit rate.
//
// Theta is −∂V/∂T: the change in value as one year of life elapses. A
// long option that loses value as expiry approaches has negative theta.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// Display rescales to the quoting conventions traders read: vega and rho
// per 1% move, theta per calendar day.
func (g Greeks) Display() Greeks {
	return Greeks{
		Delta: g.Delta,
		Gamma: g.Gamma,
		Vega:  g.Vega / 100,
		Theta: g.Theta / 365,
		Rho:   g.Rho / 100,
	}
}

// Bumps are the finite-difference step sizes. Spot, Vol and Time are
// relative to the base value; Rate is absolute because rates can be zero
// or negative.
type Bumps struct {
	Spot float64 `json:"spot" mapstructure:"spot"`
	Vol  float64 `json:"vol"  mapstructure:"vol"`
	Time float64 `json:"time" mapstructure:"time"`
	Rate float64 `json:"rate" mapstructure:"rate"`
}

// DefaultBumps agree with the analytic Black-Scholes Greeks to better
// than 1e-3 relative across ordinary parameter ranges.
var DefaultBumps = Bumps{
	Spot: 1e-3,
	Vol:  1e-3,
	Time: 1e-3,
	Rate: 1e-4,
}

// Validate rejects zero, negative, non-finite and (for relative bumps)
// unit-or-larger step sizes.
func (b Bumps) Validate() error {
	for name, v := range map[string]float64{"spot": b.Spot, "vol": b.Vol, "time": b.Time, "rate": b.Rate} {
		if !finite(v) || v <= 0 {
			return invalidf("bumps."+name, "bump must be positive, got %g", v)
		}
	}
	if b.Spot >= 1 || b.Vol >= 1 || b.Time >= 1 {
		return invalidf("bumps", "relative bumps must be below 1")
	}
	return nil
}

// ComputeGreeks computes all five Greeks of spec under pricer by central
// differences with DefaultBumps.
func ComputeGreeks(spec OptionSpec, pricer Pricer) (Greeks, error) {
	return ComputeGreeksWith(spec, pricer, DefaultBumps)
}

// ComputeGreeksWith is ComputeGreeks with explicit bump sizes. Each
// Greek perturbs exactly one input and holds the rest fixed. Theta is
// zero at T=0. A failure of any pricer call, base or perturbed, is
// reported as InvalidParameter wrapping the pricer's error.
func ComputeGreeksWith(spec OptionSpec, pricer Pricer, bumps Bumps) (Greeks, error) {
	if err := bumps.Validate(); err != nil {
		return Greeks{}, err
	}
	eval := func(what string, s OptionSpec) (float64, error) {
		v, err := pricer.Price(s)
		if err != nil {
			return 0, wrapInvalid(err, "pricing %s point", what)
		}
		return v, nil
	}

	base, err := eval("base", spec)
	if err != nil {
		return Greeks{}, err
	}

	var g Greeks

	hS := bumps.Spot * spec.Spot
	up, err := eval("spot+", spec.WithSpot(spec.Spot+hS))
	if err != nil {
		return Greeks{}, err
	}
	down, err := eval("spot-", spec.WithSpot(spec.Spot-hS))
	if err != nil {
		return Greeks{}, err
	}
	g.Delta = (up - down) / (2 * hS)
	g.Gamma = (up - 2*base + down) / (hS * hS)

	hV := bumps.Vol * spec.Vol
	if hV > 0 {
		up, err = eval("vol+", spec.WithVol(spec.Vol+hV))
		if err != nil {
			return Greeks{}, err
		}
		down, err = eval("vol-", spec.WithVol(spec.Vol-hV))
		if err != nil {
			return Greeks{}, err
		}
		g.Vega = (up - down) / (2 * hV)
	}

	if spec.Expiry > 0 {
		hT := bumps.Time * spec.Expiry
		up, err = eval("time+", spec.WithExpiry(spec.Expiry+hT))
		if err != nil {
			return Greeks{}, err
		}
		down, err = eval("time-", spec.WithExpiry(spec.Expiry-hT))
		if err != nil {
			return Greeks{}, err
		}
		g.Theta = -(up - down) / (2 * hT)
	}

	hR := bumps.Rate
	up, err = eval("rate+", spec.WithRate(spec.Rate+hR))
	if err != nil {
		return Greeks{}, err
	}
	down, err = eval("rate-", spec.WithRate(spec.Rate-hR))
	if err != nil {
		return Greeks{}, err
	}
	g.Rho = (up - down) / (2 * hR)

	return g, nil
}
