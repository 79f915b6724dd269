// Package surface evaluates the engine over parameter grids: price
// surfaces, implied volatility surfaces and Greek curves. Every cell is
// an independent engine call; rows are spread over a bounded worker pool.
package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"

	"github.com/contactkeval/option-lab/internal/pricing"
)

// Builder evaluates grids with one pricer. The zero value prices with
// Black-Scholes, default solver settings and GOMAXPROCS workers.
type Builder struct {
	Pricer  pricing.Pricer
	Solver  pricing.SolverConfig
	Bumps   pricing.Bumps
	Workers int
}

// Grid is a surface sampled at X × Y. Z[y][x] holds the value at
// (X[x], Y[y]); cells that could not be computed are NaN and encode as
// null in JSON.
type Grid struct {
	XLabel string      `json:"x_label"`
	YLabel string      `json:"y_label"`
	ZLabel string      `json:"z_label"`
	X      []float64   `json:"x"`
	Y      []float64   `json:"y"`
	Z      [][]float64 `json:"z"`
}

// MarshalJSON writes NaN cells as null.
func (g Grid) MarshalJSON() ([]byte, error) {
	z := make([][]*float64, len(g.Z))
	for i, row := range g.Z {
		z[i] = make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) && !math.IsInf(row[j], 0) {
				z[i][j] = &row[j]
			}
		}
	}
	type plain Grid
	return json.Marshal(struct {
		plain
		Z [][]*float64 `json:"z"`
	}{plain(g), z})
}

// Param names the input a Greeks curve varies.
type Param string

const (
	ParamVol  Param = "vol"
	ParamTime Param = "time"
	ParamSpot Param = "spot"
)

// ParseParam accepts vol, time and spot.
func ParseParam(s string) (Param, error) {
	switch p := Param(s); p {
	case ParamVol, ParamTime, ParamSpot:
		return p, nil
	}
	return "", fmt.Errorf("unknown curve parameter %q: %w", s, pricing.ErrInvalidParameter)
}

// Curve is the five Greeks evaluated along one varying input.
type Curve struct {
	Param  Param            `json:"param"`
	X      []float64        `json:"x"`
	Points []pricing.Greeks `json:"points"`
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

func (b Builder) pricer() pricing.Pricer {
	if b.Pricer == nil {
		return pricing.BlackScholes{}
	}
	return b.Pricer
}

func (b Builder) solver() pricing.SolverConfig {
	if b.Solver == (pricing.SolverConfig{}) {
		return pricing.DefaultSolverConfig
	}
	return b.Solver
}

func (b Builder) bumps() pricing.Bumps {
	if b.Bumps == (pricing.Bumps{}) {
		return pricing.DefaultBumps
	}
	return b.Bumps
}

func (b Builder) workers() int {
	if b.Workers < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return b.Workers
}

// PriceByStrikeVol prices base at every (strike, vol) pair.
func (b Builder) PriceByStrikeVol(ctx context.Context, base pricing.OptionSpec, strikes, vols []float64) (*Grid, error) {
	pricer := b.pricer()
	g := newGrid("strike", "vol", "price", strikes, vols)
	err := b.fill(ctx, g, func(x, y float64) (float64, error) {
		return pricer.Price(base.WithStrike(x).WithVol(y))
	})
	return g, err
}

// PriceBySpotVol prices base at every (spot, vol) pair.
func (b Builder) PriceBySpotVol(ctx context.Context, base pricing.OptionSpec, spots, vols []float64) (*Grid, error) {
	pricer := b.pricer()
	g := newGrid("spot", "vol", "price", spots, vols)
	err := b.fill(ctx, g, func(x, y float64) (float64, error) {
		return pricer.Price(base.WithSpot(x).WithVol(y))
	})
	return g, err
}

// ImpliedVolByStrikeExpiry solves for the σ that reproduces marketPrice
// at every (strike, expiry) pair. Cells where the solver does not
// converge are NaN; only invalid input or a pricer failure is an error.
func (b Builder) ImpliedVolByStrikeExpiry(ctx context.Context, base pricing.OptionSpec, marketPrice float64, strikes, expiries []float64) (*Grid, error) {
	pricer, solver := b.pricer(), b.solver()
	g := newGrid("strike", "expiry", "implied_vol", strikes, expiries)
	err := b.fill(ctx, g, func(x, y float64) (float64, error) {
		res, err := pricing.ImpliedVolWith(base.WithStrike(x).WithExpiry(y), marketPrice, pricer, solver)
		if err != nil {
			return 0, err
		}
		if !res.Converged {
			return math.NaN(), nil
		}
		return res.Sigma, nil
	})
	return g, err
}

// GreeksCurve computes all Greeks of base as param sweeps values.
func (b Builder) GreeksCurve(ctx context.Context, base pricing.OptionSpec, param Param, values []float64) (*Curve, error) {
	var with func(pricing.OptionSpec, float64) pricing.OptionSpec
	switch param {
	case ParamVol:
		with = pricing.OptionSpec.WithVol
	case ParamTime:
		with = pricing.OptionSpec.WithExpiry
	case ParamSpot:
		with = pricing.OptionSpec.WithSpot
	default:
		return nil, fmt.Errorf("unknown curve parameter %q: %w", param, pricing.ErrInvalidParameter)
	}

	pricer, bumps := b.pricer(), b.bumps()
	c := &Curve{Param: param, X: values, Points: make([]pricing.Greeks, len(values))}
	p := b.pool(ctx)
	for i, v := range values {
		i, v := i, v
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			g, err := pricing.ComputeGreeksWith(with(base, v), pricer, bumps)
			if err != nil {
				return fmt.Errorf("%s=%g: %w", param, v, err)
			}
			c.Points[i] = g
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}

func newGrid(xl, yl, zl string, xs, ys []float64) *Grid {
	z := make([][]float64, len(ys))
	for i := range z {
		z[i] = make([]float64, len(xs))
	}
	return &Grid{XLabel: xl, YLabel: yl, ZLabel: zl, X: xs, Y: ys, Z: z}
}

func (b Builder) pool(ctx context.Context) *pool.ContextPool {
	return pool.New().
		WithMaxGoroutines(b.workers()).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
}

// fill computes g.Z one row per task. The first failing cell cancels the
// remaining rows and its error is returned.
func (b Builder) fill(ctx context.Context, g *Grid, cell func(x, y float64) (float64, error)) error {
	p := b.pool(ctx)
	for i, y := range g.Y {
		i, y := i, y
		row := g.Z[i]
		p.Go(func(ctx context.Context) error {
			for j, x := range g.X {
				if err := ctx.Err(); err != nil {
					return err
				}
				v, err := cell(x, y)
				if err != nil {
					return fmt.Errorf("%s=%g %s=%g: %w", g.XLabel, x, g.YLabel, y, err)
				}
				row[j] = v
			}
			return nil
		})
	}
	return p.Wait()
}
