// Package data provides option chain providers: local CSV files, a
// deterministic synthetic generator and the Massive REST snapshot API.
// Providers can be chained through Secondary so that a miss on one
// source falls through to the next.
package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/contactkeval/option-lab/internal/config"
	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
)

// ErrNotFound is returned (wrapped) when a provider has no data for the
// requested underlying or expiry. It is the signal to try Secondary.
var ErrNotFound = errors.New("data: not found")

// Provider supplies option chains.
type Provider interface {
	Secondary() Provider
	// Expiries lists the expiries available for underlying, sorted
	// ascending.
	Expiries(ctx context.Context, underlying string) ([]time.Time, error)
	// Chain returns the quotes for one expiry. A zero expiry selects the
	// nearest listed one.
	Chain(ctx context.Context, underlying string, expiry time.Time) (*Chain, error)
}

// Quote is one listed option.
type Quote struct {
	Symbol       string             `json:"symbol,omitempty"`
	Kind         pricing.OptionKind `json:"kind"`
	Strike       float64            `json:"strike"`
	Expiry       time.Time          `json:"expiry"`
	Bid          float64            `json:"bid"`
	Ask          float64            `json:"ask"`
	Last         float64            `json:"last"`
	Volume       int64              `json:"volume"`
	OpenInterest int64              `json:"open_interest"`
	VendorIV     float64            `json:"vendor_iv,omitempty"` // zero when the source has none
}

// Mid returns the bid/ask midpoint when both sides are quoted, otherwise
// the last trade. Zero means there is no usable price.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	if q.Last > 0 {
		return q.Last
	}
	return 0
}

// Chain is a snapshot of calls and puts for a single expiry.
type Chain struct {
	Underlying string    `json:"underlying"`
	Spot       float64   `json:"spot"`
	AsOf       time.Time `json:"as_of"`
	Expiry     time.Time `json:"expiry"`
	Calls      []Quote   `json:"calls"`
	Puts       []Quote   `json:"puts"`
}

// Quotes returns calls followed by puts.
func (c *Chain) Quotes() []Quote {
	out := make([]Quote, 0, len(c.Calls)+len(c.Puts))
	out = append(out, c.Calls...)
	return append(out, c.Puts...)
}

// Strikes returns the distinct strikes of the chain in ascending order.
func (c *Chain) Strikes() []float64 {
	seen := map[float64]struct{}{}
	for _, q := range c.Quotes() {
		seen[q.Strike] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

func (c *Chain) add(q Quote) {
	if q.Kind == pricing.Put {
		c.Puts = append(c.Puts, q)
		return
	}
	c.Calls = append(c.Calls, q)
}

func (c *Chain) sortQuotes() {
	byStrike := func(qs []Quote) {
		sort.Slice(qs, func(i, j int) bool { return qs[i].Strike < qs[j].Strike })
	}
	byStrike(c.Calls)
	byStrike(c.Puts)
}

// New builds the provider selected by cfg. A csv or massive provider gets
// the other one as its secondary when that one is also configured.
func New(cfg config.DataConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "synthetic":
		sc := DefaultSyntheticConfig
		sc.Seed = cfg.Seed
		return NewSyntheticProvider(sc), nil
	case "csv":
		var secondary Provider
		if cfg.APIKey != "" {
			secondary = NewMassiveProvider(cfg.APIKey, massiveBaseURL(cfg.BaseURL))
		}
		return NewCSVProvider(cfg.Dir, secondary), nil
	case "massive":
		opts := []MassiveOption{massiveBaseURL(cfg.BaseURL)}
		if cfg.Dir != "" {
			opts = append(opts, WithSecondary(NewCSVProvider(cfg.Dir, nil)))
		}
		return NewMassiveProvider(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown data provider %q", cfg.Provider)
	}
}

func massiveBaseURL(u string) MassiveOption {
	if u == "" {
		return func(*MassiveProvider) {}
	}
	return WithBaseURL(u)
}

// fallback delegates to secondary when err is a miss and a secondary
// exists; otherwise it returns err unchanged.
func fallback[T any](secondary Provider, err error, call func(Provider) (T, error)) (T, error) {
	if secondary != nil && errors.Is(err, ErrNotFound) {
		logger.Debugf("falling back to secondary provider: %v", err)
		return call(secondary)
	}
	var zero T
	return zero, err
}

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

// YearFraction is the ACT/365 time between from and to in years. It is
// never negative.
func YearFraction(from, to time.Time) float64 {
	d := to.Sub(from).Hours() / 24 / 365
	if d < 0 {
		return 0
	}
	return d
}

// OptionSymbol formats an OCC-style ticker as used by Massive:
// O:<ROOT><YYMMDD><C|P><strike*1000 padded to 8 digits>.
func OptionSymbol(underlying string, expiry time.Time, kind pricing.OptionKind, strike float64) string {
	expDt := expiry.UTC().Format("060102")
	optType := "C"
	if kind == pricing.Put {
		optType = "P"
	}
	strikeInt := int(math.Round(strike * 1000))
	return fmt.Sprintf("O:%s%s%s%08d", strings.ToUpper(underlying), expDt, optType, strikeInt)
}

type DateMatchType string

const (
	MatchExact   DateMatchType = "exact"   // must match exactly
	MatchHigher  DateMatchType = "higher"  // next available date after target
	MatchLower   DateMatchType = "lower"   // last available date before target
	MatchNearest DateMatchType = "nearest" // closest available date (default)
)

// MatchDate picks a date from dates relative to d according to mode.
// The zero time means nothing matched. dates is not modified.
func MatchDate(d time.Time, dates []time.Time, mode DateMatchType) time.Time {
	var (
		exact  time.Time
		lower  time.Time
		higher time.Time
	)

	switch mode {
	case MatchExact, MatchHigher, MatchLower, MatchNearest:
	default:
		mode = MatchNearest
	}

	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	for _, dt := range sorted {
		if dt.Equal(d) {
			exact = dt
		}
		if dt.Before(d) {
			lower = dt // keeps the last one before d
		}
		if dt.After(d) && higher.IsZero() {
			higher = dt
		}
	}

	switch mode {
	case MatchExact:
		return exact
	case MatchLower:
		return lower
	case MatchHigher:
		return higher
	}

	if !exact.IsZero() {
		return exact
	}
	switch {
	case !lower.IsZero() && !higher.IsZero():
		if d.Sub(lower) <= higher.Sub(d) {
			return lower
		}
		return higher
	case !lower.IsZero():
		return lower
	default:
		return higher
	}
}

// Closest finds the value in a sorted slice nearest to target. It
// returns NaN for an empty slice.
func Closest(numList []float64, target float64) float64 {
	n := len(numList)
	if n == 0 {
		return math.NaN()
	}

	i := sort.Search(n, func(i int) bool {
		return numList[i] >= target
	})

	if i == 0 {
		return numList[0]
	}
	if i == n {
		return numList[n-1]
	}

	before := numList[i-1]
	after := numList[i]

	if math.Abs(before-target) < math.Abs(after-target) {
		return before
	}
	return after
}

// resolveExpiry maps a requested expiry onto one of the listed ones: the
// nearest when expiry is zero, otherwise an exact calendar-day match.
func resolveExpiry(underlying string, expiry time.Time, listed []time.Time) (time.Time, error) {
	if len(listed) == 0 {
		return time.Time{}, fmt.Errorf("%s has no listed expiries: %w", underlying, ErrNotFound)
	}
	if expiry.IsZero() {
		return listed[0], nil
	}
	day := truncateDay(expiry)
	for _, e := range listed {
		if truncateDay(e).Equal(day) {
			return e, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s expiry %s: %w", underlying, day.Format(dateLayout), ErrNotFound)
}

const dateLayout = "2006-01-02"

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SelectExpiry lists the expiries of underlying and picks one relative
// to target with MatchDate. A zero target returns the zero time, which
// providers read as the nearest expiry.
func SelectExpiry(ctx context.Context, p Provider, underlying string, target time.Time, mode DateMatchType) (time.Time, error) {
	if target.IsZero() {
		return time.Time{}, nil
	}
	listed, err := p.Expiries(ctx, underlying)
	if err != nil {
		return time.Time{}, err
	}
	picked := MatchDate(truncateDay(target), truncateAll(listed), mode)
	if picked.IsZero() {
		return time.Time{}, fmt.Errorf("%s has no %s expiry for %s: %w",
			underlying, mode, target.Format(dateLayout), ErrNotFound)
	}
	return picked, nil
}

func truncateAll(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = truncateDay(t)
	}
	return out
}
