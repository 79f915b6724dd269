package pricing

import (
	"fmt"
	"math"
)

// SolverConfig bounds the implied volatility search.
type SolverConfig struct {
	Lower         float64 `json:"lower"          mapstructure:"lower"`
	Upper         float64 `json:"upper"          mapstructure:"upper"`
	Tolerance     float64 `json:"tolerance"      mapstructure:"tolerance"`      // absolute, in price units
	VolTolerance  float64 `json:"vol_tolerance"  mapstructure:"vol_tolerance"`  // absolute, in σ
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"`
}

// DefaultSolverConfig searches σ in [1e-4, 5] within 100 iterations. A
// solve converges once σ is pinned to 1e-8 with a price residual of at
// most 1e-6. Cheap quotes meet the price tolerance over a wide σ range,
// so the residual alone does not identify σ.
var DefaultSolverConfig = SolverConfig{
	Lower:         1e-4,
	Upper:         5.0,
	Tolerance:     1e-6,
	VolTolerance:  1e-8,
	MaxIterations: 100,
}

// Validate checks the bracket, tolerance and iteration cap.
func (c SolverConfig) Validate() error {
	switch {
	case !finite(c.Lower) || c.Lower <= 0:
		return invalidf("solver.lower", "lower bound must be positive, got %g", c.Lower)
	case !finite(c.Upper) || c.Upper <= c.Lower:
		return invalidf("solver.upper", "upper bound %g must exceed lower bound %g", c.Upper, c.Lower)
	case !finite(c.Tolerance) || c.Tolerance <= 0:
		return invalidf("solver.tolerance", "tolerance must be positive, got %g", c.Tolerance)
	case !finite(c.VolTolerance) || c.VolTolerance <= 0:
		return invalidf("solver.vol_tolerance", "vol tolerance must be positive, got %g", c.VolTolerance)
	case c.MaxIterations < 1:
		return invalidf("solver.max_iterations", "need at least one iteration, got %d", c.MaxIterations)
	}
	return nil
}

// ImpliedVolResult reports a solve. Converged=false is an ordinary
// outcome for stale or arbitrage-violating quotes; Diagnostic says why.
type ImpliedVolResult struct {
	Sigma      float64 `json:"sigma"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	Residual   float64 `json:"residual"` // model price at Sigma minus market price
	Diagnostic string  `json:"diagnostic,omitempty"`
}

// VolFloor is implemented by pricers that are only defined above some
// volatility for a given spec, such as a lattice with few steps.
type VolFloor interface {
	MinVol(spec OptionSpec) float64
}

// ImpliedVol recovers σ from marketPrice under pricer using
// DefaultSolverConfig.
func ImpliedVol(spec OptionSpec, marketPrice float64, pricer Pricer) (ImpliedVolResult, error) {
	return ImpliedVolWith(spec, marketPrice, pricer, DefaultSolverConfig)
}

// ImpliedVolWith recovers σ with Brent's method over [cfg.Lower, cfg.Upper].
// spec.Vol is ignored. The pricer must be increasing in σ.
//
// A bracket without a sign change, or running out of iterations, is not
// an error: the result comes back with Converged=false. Errors are
// reserved for invalid inputs and pricer failures.
func ImpliedVolWith(spec OptionSpec, marketPrice float64, pricer Pricer, cfg SolverConfig) (ImpliedVolResult, error) {
	if err := spec.validateMarket(); err != nil {
		return ImpliedVolResult{}, err
	}
	if !finite(marketPrice) {
		return ImpliedVolResult{}, invalidf("market_price", "market price must be finite, got %g", marketPrice)
	}
	if err := cfg.Validate(); err != nil {
		return ImpliedVolResult{}, err
	}

	f := func(sigma float64) (float64, error) {
		v, err := pricer.Price(spec.WithVol(sigma))
		if err != nil {
			return 0, wrapInvalid(err, "pricing at σ=%g", sigma)
		}
		return v - marketPrice, nil
	}

	a, b := cfg.Lower, cfg.Upper
	if vf, ok := pricer.(VolFloor); ok {
		if floor := vf.MinVol(spec) * (1 + 1e-6); floor > a {
			a = floor
		}
		if a >= b {
			return ImpliedVolResult{
				Diagnostic: fmt.Sprintf("pricer needs σ above %g, beyond the search bound %g", a, b),
			}, nil
		}
	}
	fa, err := f(a)
	if err != nil {
		return ImpliedVolResult{}, err
	}
	if fa == 0 {
		return ImpliedVolResult{Sigma: a, Converged: true}, nil
	}
	fb, err := f(b)
	if err != nil {
		return ImpliedVolResult{}, err
	}
	if fb == 0 {
		return ImpliedVolResult{Sigma: b, Converged: true}, nil
	}
	if (fa > 0) == (fb > 0) {
		// a quote within tolerance of a bound is solved at that bound
		if math.Abs(fa) <= cfg.Tolerance && math.Abs(fa) <= math.Abs(fb) {
			return ImpliedVolResult{Sigma: a, Converged: true, Residual: fa}, nil
		}
		if math.Abs(fb) <= cfg.Tolerance {
			return ImpliedVolResult{Sigma: b, Converged: true, Residual: fb}, nil
		}
		lo, hi := fa+marketPrice, fb+marketPrice
		return ImpliedVolResult{
			Sigma:    0,
			Residual: closest(fa, fb),
			Diagnostic: fmt.Sprintf("market price %g outside model range [%g, %g] for σ in [%g, %g]",
				marketPrice, lo, hi, a, cfg.Upper),
		}, nil
	}

	// Brent: b is the best estimate, [b, c] always brackets the root,
	// a is the previous iterate.
	c, fc := b, fb
	var d, e float64
	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		if (fb > 0) == (fc > 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		tol1 := 2*epsilon*math.Abs(b) + 0.5*cfg.VolTolerance
		xm := 0.5 * (c - b)
		if fb == 0 || (math.Abs(xm) <= tol1 && math.Abs(fb) <= cfg.Tolerance) {
			return ImpliedVolResult{Sigma: b, Iterations: iter, Converged: true, Residual: fb}, nil
		}
		if math.Abs(xm) <= tol1 {
			return ImpliedVolResult{
				Sigma: b, Iterations: iter, Residual: fb,
				Diagnostic: fmt.Sprintf("bracket collapsed at σ=%g with residual %g above tolerance", b, fb),
			}, nil
		}

		if math.Abs(e) >= tol1 && math.Abs(fa) > math.Abs(fb) {
			var p, q float64
			s := fb / fa
			if a == c {
				p = 2 * xm * s
				q = 1 - s
			} else {
				qq := fa / fc
				r := fb / fc
				p = s * (2*xm*qq*(qq-r) - (b-a)*(r-1))
				q = (qq - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			}
			p = math.Abs(p)
			if 2*p < math.Min(3*xm*q-math.Abs(tol1*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = xm
				e = d
			}
		} else {
			d = xm
			e = d
		}

		a, fa = b, fb
		if math.Abs(d) > tol1 {
			b += d
		} else {
			b += math.Copysign(tol1, xm)
		}
		if fb, err = f(b); err != nil {
			return ImpliedVolResult{}, err
		}
	}

	return ImpliedVolResult{
		Sigma: b, Iterations: cfg.MaxIterations, Residual: fb,
		Diagnostic: fmt.Sprintf("no convergence after %d iterations (residual %g)", cfg.MaxIterations, fb),
	}, nil
}

// ImpliedVolNewton solves for σ with Newton-Raphson steps on the analytic
// Black-Scholes vega, starting from 20% and clamping iterates to
// [cfg.Lower, cfg.Upper]. It only applies to European options. It is
// faster than ImpliedVolWith near the money but can stall where vega
// vanishes; that case is reported as Converged=false.
func ImpliedVolNewton(spec OptionSpec, marketPrice float64, cfg SolverConfig) (ImpliedVolResult, error) {
	if err := spec.validateMarket(); err != nil {
		return ImpliedVolResult{}, err
	}
	if spec.Style != European {
		return ImpliedVolResult{}, invalidf("style", "Newton solver needs the closed-form pricer, got %s exercise", spec.Style)
	}
	if !finite(marketPrice) {
		return ImpliedVolResult{}, invalidf("market_price", "market price must be finite, got %g", marketPrice)
	}
	if err := cfg.Validate(); err != nil {
		return ImpliedVolResult{}, err
	}
	if spec.Expiry == 0 {
		return ImpliedVolResult{
			Sigma:      0,
			Residual:   spec.Intrinsic() - marketPrice,
			Diagnostic: "volatility is undetermined at expiry",
		}, nil
	}

	// Initial guess: 20%
	sigma := math.Min(math.Max(0.20, cfg.Lower), cfg.Upper)
	var diff float64
	for i := 1; i <= cfg.MaxIterations; i++ {
		s := spec.WithVol(sigma)
		price, err := BlackScholesPrice(s)
		if err != nil {
			return ImpliedVolResult{}, err
		}
		diff = price - marketPrice

		g, err := BlackScholesGreeks(s)
		if err != nil {
			return ImpliedVolResult{}, err
		}
		if diff == 0 || (math.Abs(diff) <= cfg.Tolerance && g.Vega > 0 && math.Abs(diff/g.Vega) <= cfg.VolTolerance) {
			return ImpliedVolResult{Sigma: sigma, Iterations: i, Converged: true, Residual: diff}, nil
		}
		if g.Vega < 1e-8 {
			return ImpliedVolResult{
				Sigma: sigma, Iterations: i, Residual: diff,
				Diagnostic: fmt.Sprintf("vega vanished at σ=%g", sigma),
			}, nil
		}

		sigma -= diff / g.Vega

		// Guardrails
		sigma = math.Min(math.Max(sigma, cfg.Lower), cfg.Upper)
	}

	return ImpliedVolResult{
		Sigma: sigma, Iterations: cfg.MaxIterations, Residual: diff,
		Diagnostic: fmt.Sprintf("no convergence after %d iterations (residual %g)", cfg.MaxIterations, diff),
	}, nil
}

const epsilon = 2.220446049250313e-16

func closest(fa, fb float64) float64 {
	if math.Abs(fa) < math.Abs(fb) {
		return fa
	}
	return fb
}
