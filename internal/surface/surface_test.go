package surface

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/option-lab/internal/pricing"
)

func base() pricing.OptionSpec {
	return pricing.OptionSpec{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Vol: 0.2, Kind: pricing.Call, Style: pricing.European}
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, Linspace(0, 1, 5))
	assert.Equal(t, []float64{3}, Linspace(3, 9, 1))
	assert.Nil(t, Linspace(0, 1, 0))

	xs := Linspace(50, 150, 50)
	assert.Len(t, xs, 50)
	assert.Equal(t, 50.0, xs[0])
	assert.Equal(t, 150.0, xs[49])
}

func TestPriceByStrikeVolMatchesDirectCalls(t *testing.T) {
	strikes := Linspace(50, 150, 11)
	vols := Linspace(0.1, 0.8, 8)

	g, err := Builder{Workers: 3}.PriceByStrikeVol(context.Background(), base(), strikes, vols)
	require.NoError(t, err)
	require.Len(t, g.Z, len(vols))
	assert.Equal(t, "strike", g.XLabel)
	assert.Equal(t, "vol", g.YLabel)

	for i, v := range vols {
		require.Len(t, g.Z[i], len(strikes))
		for j, k := range strikes {
			want, err := pricing.BlackScholesPrice(base().WithStrike(k).WithVol(v))
			require.NoError(t, err)
			assert.Equal(t, want, g.Z[i][j], "K=%g σ=%g", k, v)
		}
	}
}

func TestPriceBySpotVolWithLattice(t *testing.T) {
	spots := Linspace(80, 120, 5)
	vols := Linspace(0.15, 0.45, 4)
	pricer := pricing.Binomial{Steps: 60}
	spec := base().WithKind(pricing.Put).WithStyle(pricing.American)

	g, err := Builder{Pricer: pricer, Workers: 2}.PriceBySpotVol(context.Background(), spec, spots, vols)
	require.NoError(t, err)
	for i, v := range vols {
		for j, s := range spots {
			want, err := pricer.Price(spec.WithSpot(s).WithVol(v))
			require.NoError(t, err)
			assert.Equal(t, want, g.Z[i][j])
		}
	}
}

func TestImpliedVolSurface(t *testing.T) {
	spec := base()
	market, err := pricing.BlackScholesPrice(spec)
	require.NoError(t, err)

	strikes := []float64{70, 100, 130}
	expiries := []float64{0.5, 1, 2}
	g, err := Builder{}.ImpliedVolByStrikeExpiry(context.Background(), spec, market, strikes, expiries)
	require.NoError(t, err)

	// the generating point recovers its own vol
	assert.InDelta(t, 0.2, g.Z[1][1], 1e-4)

	// deep in the money the quote sits below intrinsic: no solution
	assert.True(t, math.IsNaN(g.Z[0][0]), "K=70 T=0.5 call cannot be worth %g", market)

	for i, T := range expiries {
		for j, K := range strikes {
			if math.IsNaN(g.Z[i][j]) {
				continue
			}
			got, err := pricing.BlackScholesPrice(spec.WithStrike(K).WithExpiry(T).WithVol(g.Z[i][j]))
			require.NoError(t, err)
			assert.InDelta(t, market, got, 1e-5)
		}
	}
}

func TestGridJSONWritesNullForNaN(t *testing.T) {
	g := Grid{XLabel: "strike", YLabel: "expiry", ZLabel: "implied_vol",
		X: []float64{1, 2}, Y: []float64{3}, Z: [][]float64{{0.2, math.NaN()}}}
	b, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x_label":"strike","y_label":"expiry","z_label":"implied_vol","x":[1,2],"y":[3],"z":[[0.2,null]]}`, string(b))
}

func TestGreeksCurve(t *testing.T) {
	vols := Linspace(0.1, 0.8, 8)
	c, err := Builder{}.GreeksCurve(context.Background(), base(), ParamVol, vols)
	require.NoError(t, err)
	assert.Equal(t, ParamVol, c.Param)
	require.Len(t, c.Points, len(vols))
	for i, v := range vols {
		want, err := pricing.ComputeGreeks(base().WithVol(v), pricing.BlackScholes{})
		require.NoError(t, err)
		assert.Equal(t, want, c.Points[i])
	}

	times := Linspace(0.1, 1, 10)
	c, err = Builder{}.GreeksCurve(context.Background(), base(), ParamTime, times)
	require.NoError(t, err)
	assert.Greater(t, c.Points[9].Vega, c.Points[0].Vega, "vega grows with maturity")

	_, err = Builder{}.GreeksCurve(context.Background(), base(), "rate", times)
	assert.ErrorIs(t, err, pricing.ErrInvalidParameter)
}

func TestParseParam(t *testing.T) {
	for _, s := range []string{"vol", "time", "spot"} {
		p, err := ParseParam(s)
		require.NoError(t, err)
		assert.Equal(t, Param(s), p)
	}
	_, err := ParseParam("gamma")
	assert.ErrorIs(t, err, pricing.ErrInvalidParameter)
}

func TestBuilderReturnsFirstEngineError(t *testing.T) {
	// σ=0 with T>0 is rejected by the engine
	_, err := Builder{Workers: 4}.PriceByStrikeVol(context.Background(), base(), Linspace(80, 120, 5), []float64{0.2, 0, 0.3})
	require.Error(t, err)
	assert.ErrorIs(t, err, pricing.ErrInvalidParameter)
	assert.Contains(t, err.Error(), "vol=0")
}

func TestBuilderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Builder{}.PriceByStrikeVol(ctx, base(), Linspace(80, 120, 5), Linspace(0.1, 0.5, 5))
	assert.True(t, errors.Is(err, context.Canceled))
}
