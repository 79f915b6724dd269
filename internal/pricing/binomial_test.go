package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinomialSingleStep(t *testing.T) {
	// u = e^0.2, d = 1/u, p = (1-d)/(u-d); the down node is worthless so
	// the root is p·(100u − 100).
	spec := OptionSpec{Spot: 100, Strike: 100, Expiry: 1, Rate: 0, Vol: 0.2, Kind: Call, Style: European}
	got, err := BinomialPrice(spec, 1)
	require.NoError(t, err)
	assert.InDelta(t, 9.966799462495581, got, 1e-12)

	lat, err := NewLattice(spec, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.2214027581601699, lat.Up, 1e-15)
	assert.InDelta(t, 0.4501660026875221, lat.Prob, 1e-15)
}

func TestBinomialConvergesToBlackScholes(t *testing.T) {
	specs := []OptionSpec{
		atmCall(),
		atmCall().WithKind(Put),
		{Spot: 90, Strike: 100, Expiry: 0.5, Rate: 0.03, Vol: 0.3, Dividend: 0.02, Kind: Call, Style: European},
		{Spot: 110, Strike: 100, Expiry: 2, Rate: 0.01, Vol: 0.15, Kind: Put, Style: European},
		{Spot: 100, Strike: 120, Expiry: 1, Rate: -0.005, Vol: 0.45, Kind: Call, Style: European},
	}
	for _, spec := range specs {
		want, err := BlackScholesPrice(spec)
		require.NoError(t, err)
		got, err := Binomial{Steps: 2000}.Price(spec)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-2, spec.String())
	}
}

func TestBinomialAmericanPutCarriesEarlyExercisePremium(t *testing.T) {
	specs := []OptionSpec{
		{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.05, Vol: 0.2, Kind: Put},
		{Spot: 90, Strike: 100, Expiry: 2, Rate: 0.08, Vol: 0.25, Kind: Put},
		{Spot: 120, Strike: 100, Expiry: 0.5, Rate: 0.01, Vol: 0.3, Dividend: 0.04, Kind: Put},
	}
	strictly := false
	for _, spec := range specs {
		eu, err := BinomialPrice(spec.WithStyle(European), 500)
		require.NoError(t, err)
		am, err := BinomialPrice(spec.WithStyle(American), 500)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, am, eu, spec.String())
		assert.GreaterOrEqual(t, am, spec.Intrinsic(), spec.String())
		if am > eu+1e-6 {
			strictly = true
		}
	}
	assert.True(t, strictly, "early exercise must be worth something for at least one put")

	// ATM one-year put at 5%: well-known values around 6.09 vs 5.57
	am, err := BinomialPrice(specs[0].WithStyle(American), 1000)
	require.NoError(t, err)
	assert.InDelta(t, 6.09, am, 0.01)
}

func TestBinomialAmericanCallWithoutDividendMatchesEuropean(t *testing.T) {
	spec := atmCall()
	eu, err := BinomialPrice(spec, 300)
	require.NoError(t, err)
	am, err := BinomialPrice(spec.WithStyle(American), 300)
	require.NoError(t, err)
	assert.InDelta(t, eu, am, 1e-12)
}

func TestBinomialTreeMatchesRollingPrice(t *testing.T) {
	spec := OptionSpec{Spot: 100, Strike: 105, Expiry: 1, Rate: 0.06, Vol: 0.25, Kind: Put, Style: American}
	b := Binomial{Steps: 25}

	price, err := b.Price(spec)
	require.NoError(t, err)
	res, err := b.PriceWithTree(spec)
	require.NoError(t, err)

	assert.Equal(t, price, res.Price)
	require.NotNil(t, res.Tree)
	require.Len(t, res.Tree.Values, 26)
	for j := range res.Tree.Values {
		assert.Len(t, res.Tree.Values[j], j+1)
		assert.Len(t, res.Tree.Spots[j], j+1)
		assert.Len(t, res.Tree.Exercised[j], j+1)
	}
	assert.Equal(t, price, res.Tree.Values[0][0])
	assert.Equal(t, 100.0, res.Tree.Spots[0][0])

	// some deep in-the-money node is exercised early
	anyExercise := false
	for j := range res.Tree.Exercised {
		for _, ex := range res.Tree.Exercised[j] {
			anyExercise = anyExercise || ex
		}
	}
	assert.True(t, anyExercise)

	// terminal layer holds payoffs
	last := res.Tree.Values[25]
	for i, v := range last {
		assert.Equal(t, math.Max(105-res.Tree.Spots[25][i], 0), v)
	}
}

func TestBinomialRejectsBadSteps(t *testing.T) {
	for _, steps := range []int{0, -3} {
		_, err := BinomialPrice(atmCall(), steps)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	}
	_, err := Binomial{}.PriceWithTree(atmCall())
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestBinomialRejectsProbabilityOutsideUnitInterval(t *testing.T) {
	// e^{rΔt} > u when the carry dwarfs the volatility over a single step
	spec := OptionSpec{Spot: 100, Strike: 100, Expiry: 1, Rate: 0.5, Vol: 0.01, Kind: Call, Style: European}
	_, err := BinomialPrice(spec, 1)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = BinomialPrice(spec, 10000)
	assert.NoError(t, err)
}

func TestBinomialRejectsOversizedLattice(t *testing.T) {
	for _, steps := range []int{MaxSteps + 1, math.MaxInt} {
		_, err := BinomialPrice(atmCall(), steps)
		assert.ErrorIs(t, err, ErrInvalidParameter, "steps=%d", steps)

		_, err = Binomial{Steps: steps}.PriceWithTree(atmCall())
		assert.ErrorIs(t, err, ErrInvalidParameter, "steps=%d", steps)
	}
}

func TestBinomialRejectsInvalidSpec(t *testing.T) {
	_, err := Binomial{Steps: 10}.Price(atmCall().WithSpot(0))
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
