package data

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/option-lab/internal/config"
	"github.com/contactkeval/option-lab/internal/pricing"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestQuoteMid(t *testing.T) {
	assert.Equal(t, 2.0, Quote{Bid: 1.5, Ask: 2.5, Last: 9}.Mid())
	assert.Equal(t, 9.0, Quote{Bid: 0, Ask: 2.5, Last: 9}.Mid())
	assert.Equal(t, 0.0, Quote{}.Mid())
}

func TestYearFraction(t *testing.T) {
	assert.InDelta(t, 1.0, YearFraction(day(2025, 1, 1), day(2026, 1, 1)), 1e-12)
	assert.InDelta(t, 30.0/365, YearFraction(day(2025, 1, 1), day(2025, 1, 31)), 1e-12)
	assert.Equal(t, 0.0, YearFraction(day(2025, 2, 1), day(2025, 1, 1)))
}

func TestOptionSymbol(t *testing.T) {
	assert.Equal(t, "O:SPY250117C00580000", OptionSymbol("spy", day(2025, 1, 17), pricing.Call, 580))
	assert.Equal(t, "O:AAPL250321P00187500", OptionSymbol("AAPL", day(2025, 3, 21), pricing.Put, 187.5))
}

func TestMatchDate(t *testing.T) {
	dates := []time.Time{day(2025, 1, 17), day(2025, 1, 3), day(2025, 1, 10)}
	target := day(2025, 1, 8)

	tests := []struct {
		mode DateMatchType
		want time.Time
	}{
		{MatchExact, time.Time{}},
		{MatchLower, day(2025, 1, 3)},
		{MatchHigher, day(2025, 1, 10)},
		{MatchNearest, day(2025, 1, 10)},
		{"bogus", day(2025, 1, 10)},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, MatchDate(target, dates, tc.mode), tc.mode)
	}
	assert.Equal(t, day(2025, 1, 10), MatchDate(day(2025, 1, 10), dates, MatchExact))
	assert.Equal(t, day(2025, 1, 17), dates[0], "input left unsorted")
}

func TestClosest(t *testing.T) {
	strikes := []float64{90, 95, 100, 105}
	assert.Equal(t, 100.0, Closest(strikes, 101))
	assert.Equal(t, 90.0, Closest(strikes, 10))
	assert.Equal(t, 105.0, Closest(strikes, 500))
	assert.Equal(t, 105.0, Closest(strikes, 102.5), "ties go up")
	assert.True(t, math.IsNaN(Closest(nil, 1)))
}

func testSynthetic() SyntheticConfig {
	cfg := DefaultSyntheticConfig
	cfg.AsOf = day(2025, 1, 2)
	return cfg
}

func TestSyntheticChain(t *testing.T) {
	cfg := testSynthetic()
	p := NewSyntheticProvider(cfg)
	ctx := context.Background()

	expiries, err := p.Expiries(ctx, "XYZ")
	require.NoError(t, err)
	require.Len(t, expiries, len(cfg.Expiries))
	assert.Equal(t, day(2025, 2, 1), expiries[1])

	chain, err := p.Chain(ctx, "xyz", expiries[1])
	require.NoError(t, err)
	assert.Equal(t, "XYZ", chain.Underlying)
	assert.Equal(t, cfg.AsOf, chain.AsOf)
	assert.Len(t, chain.Calls, 2*cfg.Strikes+1)
	assert.Len(t, chain.Puts, 2*cfg.Strikes+1)
	assert.Len(t, chain.Strikes(), 2*cfg.Strikes+1)

	for _, q := range chain.Quotes() {
		spec := pricing.OptionSpec{
			Spot: cfg.Spot, Strike: q.Strike, Expiry: 30.0 / 365,
			Rate: cfg.Rate, Vol: cfg.Vol(q.Strike), Dividend: cfg.Dividend,
			Kind: q.Kind, Style: pricing.European,
		}
		want, err := pricing.BlackScholesPrice(spec)
		require.NoError(t, err)
		assert.InDelta(t, want, q.Mid(), 1e-9, "%s %g", q.Kind, q.Strike)
		assert.Equal(t, cfg.Vol(q.Strike), q.VendorIV)
		assert.LessOrEqual(t, q.Bid, q.Ask)
	}

	again, err := p.Chain(ctx, "XYZ", expiries[1])
	require.NoError(t, err)
	assert.Equal(t, chain.Calls, again.Calls, "deterministic")

	nearest, err := p.Chain(ctx, "XYZ", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, expiries[0], nearest.Expiry)

	_, err = p.Chain(ctx, "XYZ", day(2030, 6, 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyntheticSmileShape(t *testing.T) {
	cfg := testSynthetic()
	assert.Equal(t, cfg.ATMVol, cfg.Vol(cfg.Spot))
	assert.Greater(t, cfg.Vol(80), cfg.Vol(100), "downside skew")
	cfg.ATMVol, cfg.Skew, cfg.Curvature = -1, 0, 0
	assert.Equal(t, 0.01, cfg.Vol(100), "floored")
}

func TestSyntheticNoiseIsSeeded(t *testing.T) {
	cfg := testSynthetic()
	cfg.Noise = 0.05
	a, err := NewSyntheticProvider(cfg).Chain(context.Background(), "XYZ", time.Time{})
	require.NoError(t, err)
	b, err := NewSyntheticProvider(cfg).Chain(context.Background(), "XYZ", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, a.Puts, b.Puts)

	cfg.Seed = 99
	c, err := NewSyntheticProvider(cfg).Chain(context.Background(), "XYZ", time.Time{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Puts, c.Puts)
}

const chainCSV = `expiry,type,strike,bid,ask,last,volume,open_interest,underlying_price,as_of,implied_volatility
2025-01-17,call,580,11.9,12.3,12.14,1520,8123,581.39,2025-01-02T15:00:00Z,0.151
2025-01-17,put,575,4.1,4.3,4.2,90,611,581.39,2025-01-02T15:00:00Z,0.163
2025-01-17,call,570,,,17.5,12,100,581.39,2025-01-02T15:00:00Z,
2025-02-21,C,600,6.0,6.4,6.2,300,900,581.80,2025-01-02T15:30:00Z,0.14
`

func writeChainFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestCSVProvider(t *testing.T) {
	dir := t.TempDir()
	writeChainFile(t, dir, "SPY.csv", chainCSV)
	p := NewCSVProvider(dir, nil)
	ctx := context.Background()

	expiries, err := p.Expiries(ctx, "spy")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2025, 1, 17), day(2025, 2, 21)}, expiries)

	chain, err := p.Chain(ctx, "SPY", day(2025, 1, 17))
	require.NoError(t, err)
	assert.Equal(t, 581.80, chain.Spot, "latest as_of row sets the spot")
	assert.Equal(t, time.Date(2025, 1, 2, 15, 30, 0, 0, time.UTC), chain.AsOf)
	require.Len(t, chain.Calls, 2)
	require.Len(t, chain.Puts, 1)
	assert.Equal(t, 570.0, chain.Calls[0].Strike, "sorted by strike")
	assert.Equal(t, 17.5, chain.Calls[0].Mid())
	assert.Equal(t, 0.0, chain.Calls[0].VendorIV)
	assert.Equal(t, 0.151, chain.Calls[1].VendorIV)
	assert.Equal(t, "O:SPY250117P00575000", chain.Puts[0].Symbol)

	_, err = p.Chain(ctx, "SPY", day(2025, 3, 1))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.Chain(ctx, "QQQ", time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCSVProviderRereadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	writeChainFile(t, dir, "SPY.csv", chainCSV)
	p := NewCSVProvider(dir, nil)

	_, err := p.Chain(context.Background(), "SPY", time.Time{})
	require.NoError(t, err)

	writeChainFile(t, dir, "SPY.csv", `expiry,type,strike,bid,ask,last,volume,open_interest,underlying_price,as_of
2025-03-21,put,500,1,1.2,1.1,1,1,560,2025-01-03
`)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "SPY.csv"), later, later))

	expiries, err := p.Expiries(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2025, 3, 21)}, expiries)
}

func TestCSVProviderRejectsMalformedFiles(t *testing.T) {
	tests := map[string]string{
		"missing column": "expiry,type,strike\n2025-01-17,call,100\n",
		"bad kind":       "expiry,type,strike,bid,ask,last,volume,open_interest,underlying_price,as_of\n2025-01-17,future,100,1,1,1,1,1,100,2025-01-02\n",
		"bad number":     "expiry,type,strike,bid,ask,last,volume,open_interest,underlying_price,as_of\n2025-01-17,call,abc,1,1,1,1,1,100,2025-01-02\n",
		"bad date":       "expiry,type,strike,bid,ask,last,volume,open_interest,underlying_price,as_of\n17/01/2025,call,100,1,1,1,1,1,100,2025-01-02\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeChainFile(t, dir, "BAD.csv", body)
			_, err := NewCSVProvider(dir, nil).Chain(context.Background(), "BAD", time.Time{})
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCSVProviderFallsBackToSecondary(t *testing.T) {
	secondary := NewSyntheticProvider(testSynthetic())
	p := NewCSVProvider(t.TempDir(), secondary)
	assert.Equal(t, secondary, p.Secondary())

	chain, err := p.Chain(context.Background(), "QQQ", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "QQQ", chain.Underlying)

	expiries, err := p.Expiries(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.NotEmpty(t, expiries)
}

func TestNewFromConfig(t *testing.T) {
	p, err := New(config.DataConfig{Provider: "synthetic", Seed: 3})
	require.NoError(t, err)
	assert.IsType(t, &syntheticProvider{}, p)

	p, err = New(config.DataConfig{Provider: "csv", Dir: t.TempDir(), APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &localFileDataProvider{}, p)
	assert.IsType(t, &MassiveProvider{}, p.Secondary())

	p, err = New(config.DataConfig{Provider: "massive", APIKey: "k", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.Nil(t, p.Secondary())

	_, err = New(config.DataConfig{Provider: "ftp"})
	assert.Error(t, err)
}

func TestSelectExpiry(t *testing.T) {
	p := NewSyntheticProvider(testSynthetic())
	ctx := context.Background()

	got, err := SelectExpiry(ctx, p, "XYZ", day(2025, 2, 3), MatchLower)
	require.NoError(t, err)
	assert.Equal(t, day(2025, 2, 1), got)

	got, err = SelectExpiry(ctx, p, "XYZ", day(2025, 2, 3), MatchHigher)
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 3), got)

	got, err = SelectExpiry(ctx, p, "XYZ", time.Time{}, MatchExact)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = SelectExpiry(ctx, p, "XYZ", day(2025, 2, 3), MatchExact)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-01-17")
	require.NoError(t, err)
	assert.Equal(t, day(2025, 1, 17), d)

	d, err = ParseDate("2025-01-17T15:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 15, d.Hour())

	_, err = ParseDate("17/01/2025")
	assert.Error(t, err)
}
