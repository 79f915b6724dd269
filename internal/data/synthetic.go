package data

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/contactkeval/option-lab/internal/pricing"
)

// SyntheticConfig shapes generated chains. Quotes are Black-Scholes
// prices under a quadratic smile in log-moneyness:
//
//	σ(K) = ATMVol + Skew·m + Curvature·m²,  m = ln(K/Spot)
type SyntheticConfig struct {
	Spot       float64
	Rate       float64
	Dividend   float64
	ATMVol     float64
	Skew       float64
	Curvature  float64
	Strikes    int     // strikes per side of the money
	StrikeStep float64 // fraction of spot between strikes
	Expiries   []int   // days from AsOf
	Spread     float64 // relative half spread around the model price
	Noise      float64 // relative standard deviation applied to the mid
	Seed       int64
	AsOf       time.Time // zero means today, UTC midnight
}

// DefaultSyntheticConfig produces a mildly skewed equity-style smile.
var DefaultSyntheticConfig = SyntheticConfig{
	Spot:       100,
	Rate:       0.04,
	Dividend:   0.01,
	ATMVol:     0.22,
	Skew:       -0.15,
	Curvature:  0.6,
	Strikes:    10,
	StrikeStep: 0.025,
	Expiries:   []int{7, 30, 60, 91, 182, 365},
	Spread:     0.02,
	Seed:       1,
}

// Vol is the generating smile at strike, floored at 1%.
func (c SyntheticConfig) Vol(strike float64) float64 {
	m := math.Log(strike / c.Spot)
	return math.Max(c.ATMVol+c.Skew*m+c.Curvature*m*m, 0.01)
}

// syntheticProvider generates chains deterministically from its config.
type syntheticProvider struct {
	cfg       SyntheticConfig
	secondary Provider
}

// NewSyntheticProvider returns a provider that needs no external data.
func NewSyntheticProvider(cfg SyntheticConfig) Provider {
	if cfg.AsOf.IsZero() {
		cfg.AsOf = truncateDay(time.Now())
	}
	return &syntheticProvider{cfg: cfg}
}

func (synthDataProv *syntheticProvider) Secondary() Provider {
	return synthDataProv.secondary
}

func (synthDataProv *syntheticProvider) Expiries(_ context.Context, _ string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(synthDataProv.cfg.Expiries))
	for _, days := range synthDataProv.cfg.Expiries {
		out = append(out, synthDataProv.cfg.AsOf.AddDate(0, 0, days))
	}
	return out, nil
}

func (synthDataProv *syntheticProvider) Chain(ctx context.Context, underlying string, expiry time.Time) (*Chain, error) {
	listed, _ := synthDataProv.Expiries(ctx, underlying)
	exp, err := resolveExpiry(underlying, expiry, listed)
	if err != nil {
		return fallback(synthDataProv.secondary, err, func(p Provider) (*Chain, error) {
			return p.Chain(ctx, underlying, expiry)
		})
	}

	cfg := synthDataProv.cfg
	T := YearFraction(cfg.AsOf, exp)
	// Seeded per expiry so a chain does not depend on request order.
	rng := rand.New(rand.NewSource(cfg.Seed + exp.Unix()/86400))

	chain := &Chain{
		Underlying: strings.ToUpper(underlying),
		Spot:       cfg.Spot,
		AsOf:       cfg.AsOf,
		Expiry:     exp,
	}
	for i := -cfg.Strikes; i <= cfg.Strikes; i++ {
		strike := math.Round(cfg.Spot*(1+float64(i)*cfg.StrikeStep)*100) / 100
		if strike <= 0 {
			continue
		}
		vol := cfg.Vol(strike)
		for _, kind := range []pricing.OptionKind{pricing.Call, pricing.Put} {
			spec := pricing.OptionSpec{
				Spot: cfg.Spot, Strike: strike, Expiry: T,
				Rate: cfg.Rate, Vol: vol, Dividend: cfg.Dividend,
				Kind: kind, Style: pricing.European,
			}
			mid, err := pricing.BlackScholesPrice(spec)
			if err != nil {
				return nil, fmt.Errorf("synthetic %s %g: %w", kind, strike, err)
			}
			if cfg.Noise > 0 {
				mid *= 1 + cfg.Noise*rng.NormFloat64()
				mid = math.Max(mid, 0)
			}
			chain.add(Quote{
				Symbol:       OptionSymbol(underlying, exp, kind, strike),
				Kind:         kind,
				Strike:       strike,
				Expiry:       exp,
				Bid:          mid * (1 - cfg.Spread),
				Ask:          mid * (1 + cfg.Spread),
				Last:         mid,
				Volume:       int64(100 + rng.Intn(5000)),
				OpenInterest: int64(500 + rng.Intn(20000)),
				VendorIV:     vol,
			})
		}
	}
	chain.sortQuotes()
	return chain, nil
}
