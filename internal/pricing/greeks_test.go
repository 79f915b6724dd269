package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crossCheckGrid() []OptionSpec {
	return []OptionSpec{
		{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Vol: 0.2, Kind: Call, Style: European},
		{Spot: 100, Strike: 110, Expiry: 0.5, Rate: 0.03, Vol: 0.25, Dividend: 0.01, Kind: Put, Style: European},
		{Spot: 90, Strike: 100, Expiry: 2, Rate: 0.01, Vol: 0.3, Dividend: 0.02, Kind: Call, Style: European},
		{Spot: 120, Strike: 100, Expiry: 0.75, Rate: 0.04, Vol: 0.15, Kind: Put, Style: European},
		{Spot: 100, Strike: 95, Expiry: 0.25, Rate: -0.01, Vol: 0.4, Kind: Call, Style: European},
		{Spot: 105, Strike: 100, Expiry: 1.5, Rate: 0.02, Vol: 0.2, Dividend: 0.03, Kind: Put, Style: European},
	}
}

func relClose(t *testing.T, name string, want, got float64, spec OptionSpec) {
	t.Helper()
	tol := 1e-3*math.Abs(want) + 1e-8
	assert.InDelta(t, want, got, tol, "%s for %s", name, spec)
}

func TestFiniteDifferenceGreeksMatchAnalytic(t *testing.T) {
	for _, spec := range crossCheckGrid() {
		want, err := BlackScholesGreeks(spec)
		require.NoError(t, err)
		got, err := ComputeGreeks(spec, BlackScholes{})
		require.NoError(t, err)

		relClose(t, "delta", want.Delta, got.Delta, spec)
		relClose(t, "gamma", want.Gamma, got.Gamma, spec)
		relClose(t, "vega", want.Vega, got.Vega, spec)
		relClose(t, "theta", want.Theta, got.Theta, spec)
		relClose(t, "rho", want.Rho, got.Rho, spec)
	}
}

func TestThetaSignConvention(t *testing.T) {
	// Theta = −∂V/∂T: an at-the-money long option loses value as time passes.
	for _, kind := range []OptionKind{Call, Put} {
		spec := atmCall().WithKind(kind).WithRate(0)
		g, err := ComputeGreeks(spec, BlackScholes{})
		require.NoError(t, err)
		assert.Less(t, g.Theta, 0.0, kind)

		shorter, _ := BlackScholesPrice(spec.WithExpiry(spec.Expiry - 0.01))
		now, _ := BlackScholesPrice(spec)
		assert.Less(t, shorter, now, "value shrinks as expiry approaches")
	}
}

func TestThetaIsZeroAtExpiry(t *testing.T) {
	spec := atmCall().WithExpiry(0).WithSpot(110)
	g, err := ComputeGreeks(spec, BlackScholes{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, g.Theta)
	assert.InDelta(t, 1.0, g.Delta, 1e-12)
}

func TestLatticeGreeksTrackClosedForm(t *testing.T) {
	spec := atmCall()
	want, err := BlackScholesGreeks(spec)
	require.NoError(t, err)
	got, err := ComputeGreeksWith(spec, Binomial{Steps: 800}, Bumps{Spot: 1e-2, Vol: 1e-2, Time: 1e-2, Rate: 1e-3})
	require.NoError(t, err)

	assert.InDelta(t, want.Delta, got.Delta, 5e-3)
	assert.InDelta(t, want.Vega, got.Vega, 0.5)
	assert.InDelta(t, want.Rho, got.Rho, 0.5)
	assert.Less(t, got.Theta, 0.0)
}

func TestAmericanPutGreeks(t *testing.T) {
	spec := OptionSpec{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Vol: 0.2, Kind: Put, Style: American}
	g, err := ComputeGreeksWith(spec, Binomial{Steps: 400}, Bumps{Spot: 1e-2, Vol: 1e-2, Time: 1e-2, Rate: 1e-3})
	require.NoError(t, err)
	assert.Less(t, g.Delta, 0.0)
	assert.Greater(t, g.Delta, -1.0)
	assert.Greater(t, g.Vega, 0.0)
	assert.Less(t, g.Rho, 0.0)
}

func TestGreeksPropagatePricerFailure(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	failing := PricerFunc(func(spec OptionSpec) (float64, error) {
		calls++
		if calls > 3 {
			return 0, boom
		}
		return BlackScholesPrice(spec)
	})
	_, err := ComputeGreeks(atmCall(), failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.ErrorIs(t, err, boom)

	// closed-form pricer refuses American exercise
	_, err = ComputeGreeks(atmCall().WithStyle(American), BlackScholes{})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestGreeksRejectBadBumps(t *testing.T) {
	for _, b := range []Bumps{
		{},
		{Spot: 1e-3, Vol: 1e-3, Time: 1e-3, Rate: 0},
		{Spot: 1.5, Vol: 1e-3, Time: 1e-3, Rate: 1e-4},
		{Spot: math.NaN(), Vol: 1e-3, Time: 1e-3, Rate: 1e-4},
	} {
		_, err := ComputeGreeksWith(atmCall(), BlackScholes{}, b)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	}
}
