// Package chain compares an option chain against the engine: for every
// quote it computes the theoretical price under caller parameters and
// the implied volatility of the quoted price.
package chain

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/contactkeval/option-lab/internal/data"
	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
)

// Params are the model inputs the chain itself does not carry.
type Params struct {
	Vol      float64               `json:"vol"` // for the theoretical price
	Rate     float64               `json:"rate"`
	Dividend float64               `json:"dividend"`
	Style    pricing.ExerciseStyle `json:"style"`
}

// Row is one analysed quote.
type Row struct {
	Symbol      string             `json:"symbol,omitempty"`
	Kind        pricing.OptionKind `json:"kind"`
	Strike      float64            `json:"strike"`
	Expiry      float64            `json:"expiry"` // years
	Market      float64            `json:"market"`
	Theoretical float64            `json:"theoretical"`
	ImpliedVol  float64            `json:"implied_vol"`
	Converged   bool               `json:"converged"`
	VendorIV    float64            `json:"vendor_iv,omitempty"`
	Diagnostic  string             `json:"diagnostic,omitempty"`
}

// Result is the analysed chain.
type Result struct {
	Underlying string  `json:"underlying"`
	Spot       float64 `json:"spot"`
	Expiry     float64 `json:"expiry"`
	Rows       []Row   `json:"rows"`
	ATMStrike  float64 `json:"atm_strike"`
	ATMVol     float64 `json:"atm_vol"` // mean converged IV at ATMStrike, zero if none
	Params     Params  `json:"params"`
}

// Analyzer runs the engine over a chain with bounded concurrency.
type Analyzer struct {
	Pricer  pricing.Pricer
	Solver  pricing.SolverConfig
	Workers int
}

// Analyze prices and inverts every quote of c. Quotes without a usable
// price, or whose price the model cannot reach, come back with
// Converged=false and a diagnostic. Only invalid parameters or a
// pricer failure abort the analysis.
func (a Analyzer) Analyze(ctx context.Context, c *data.Chain, p Params) (*Result, error) {
	if c == nil {
		return nil, fmt.Errorf("nil chain: %w", pricing.ErrInvalidParameter)
	}
	pricer := a.Pricer
	if pricer == nil {
		pricer = pricing.BlackScholes{}
	}
	solver := a.Solver
	if solver == (pricing.SolverConfig{}) {
		solver = pricing.DefaultSolverConfig
	}
	if p.Style == "" {
		p.Style = pricing.European
	}
	workers := a.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	T := data.YearFraction(c.AsOf, c.Expiry)
	quotes := c.Quotes()
	rows := make([]Row, len(quotes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, q := range quotes {
		i, q := i, q
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, err := analyzeQuote(c.Spot, T, q, p, pricer, solver)
			if err != nil {
				return fmt.Errorf("%s %s %g: %w", c.Underlying, q.Kind, q.Strike, err)
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind // call before put
		}
		return rows[i].Strike < rows[j].Strike
	})

	res := &Result{Underlying: c.Underlying, Spot: c.Spot, Expiry: T, Rows: rows, Params: p}
	res.ATMStrike, res.ATMVol = atm(c.Spot, c.Strikes(), rows)
	logger.Debugf("analysed %d quotes for %s, ATM %g iv=%.4f", len(rows), c.Underlying, res.ATMStrike, res.ATMVol)
	return res, nil
}

func analyzeQuote(spot, T float64, q data.Quote, p Params, pricer pricing.Pricer, solver pricing.SolverConfig) (Row, error) {
	spec := pricing.OptionSpec{
		Spot: spot, Strike: q.Strike, Expiry: T,
		Rate: p.Rate, Vol: p.Vol, Dividend: p.Dividend,
		Kind: q.Kind, Style: p.Style,
	}
	row := Row{
		Symbol:   q.Symbol,
		Kind:     q.Kind,
		Strike:   q.Strike,
		Expiry:   T,
		Market:   q.Mid(),
		VendorIV: q.VendorIV,
	}

	theo, err := pricer.Price(spec)
	if err != nil {
		return Row{}, err
	}
	row.Theoretical = theo

	if row.Market <= 0 {
		row.Diagnostic = "no usable market price"
		return row, nil
	}
	iv, err := pricing.ImpliedVolWith(spec, row.Market, pricer, solver)
	if err != nil {
		return Row{}, err
	}
	row.Converged = iv.Converged
	row.Diagnostic = iv.Diagnostic
	if iv.Converged {
		row.ImpliedVol = iv.Sigma
	}
	return row, nil
}

// atm picks the listed strike nearest spot and averages the converged
// IVs there.
func atm(spot float64, strikes []float64, rows []Row) (float64, float64) {
	if len(strikes) == 0 {
		return 0, 0
	}
	k := data.Closest(strikes, spot)
	var sum float64
	var n int
	for _, r := range rows {
		if r.Strike == k && r.Converged {
			sum += r.ImpliedVol
			n++
		}
	}
	if n == 0 {
		return k, 0
	}
	return k, sum / float64(n)
}

// Converged returns the rows whose implied volatility was found.
func (r *Result) Converged() []Row {
	out := make([]Row, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.Converged {
			out = append(out, row)
		}
	}
	return out
}

// RequireConverged turns the first non-converged row into a
// NumericalFailure, for callers that cannot proceed without a full
// smile.
func (r *Result) RequireConverged() error {
	for _, row := range r.Rows {
		if !row.Converged {
			return fmt.Errorf("%s %g: %w", row.Kind, row.Strike,
				pricing.NewNumericalFailure(row.Diagnostic))
		}
	}
	return nil
}

// Mispricing is market minus theoretical; NaN when there is no market.
func (r Row) Mispricing() float64 {
	if r.Market <= 0 {
		return math.NaN()
	}
	return r.Market - r.Theoretical
}
