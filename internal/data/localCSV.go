package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
)

// csvColumns are required in every chain file, in any order. An optional
// implied_volatility column fills Quote.VendorIV.
var csvColumns = []string{
	"expiry", "type", "strike", "bid", "ask", "last",
	"volume", "open_interest", "underlying_price", "as_of",
}

// localFileDataProvider reads <dir>/<UNDERLYING>.csv chain files.
type localFileDataProvider struct {
	dir       string
	secondary Provider

	mu    sync.Mutex
	cache map[string]csvFile
}

// csvFile is a parsed chain file plus the mtime it was read at.
type csvFile struct {
	modTime time.Time
	spot    float64
	asOf    time.Time
	quotes  []Quote
}

// NewCSVProvider reads chains from dir, delegating misses to secondary
// when it is non-nil. Files are re-read when their mtime changes.
func NewCSVProvider(dir string, secondary Provider) Provider {
	return &localFileDataProvider{dir: dir, secondary: secondary, cache: map[string]csvFile{}}
}

func (localFileDataProv *localFileDataProvider) Secondary() Provider {
	return localFileDataProv.secondary
}

func (localFileDataProv *localFileDataProvider) Expiries(ctx context.Context, underlying string) ([]time.Time, error) {
	f, err := localFileDataProv.load(underlying)
	if err != nil {
		return fallback(localFileDataProv.secondary, err, func(p Provider) ([]time.Time, error) {
			return p.Expiries(ctx, underlying)
		})
	}
	return expiriesOf(f.quotes), nil
}

func (localFileDataProv *localFileDataProvider) Chain(ctx context.Context, underlying string, expiry time.Time) (*Chain, error) {
	chain, err := localFileDataProv.chain(underlying, expiry)
	if err != nil {
		return fallback(localFileDataProv.secondary, err, func(p Provider) (*Chain, error) {
			return p.Chain(ctx, underlying, expiry)
		})
	}
	return chain, nil
}

func (localFileDataProv *localFileDataProvider) chain(underlying string, expiry time.Time) (*Chain, error) {
	f, err := localFileDataProv.load(underlying)
	if err != nil {
		return nil, err
	}
	exp, err := resolveExpiry(underlying, expiry, expiriesOf(f.quotes))
	if err != nil {
		return nil, err
	}
	chain := &Chain{
		Underlying: strings.ToUpper(underlying),
		Spot:       f.spot,
		AsOf:       f.asOf,
		Expiry:     exp,
	}
	for _, q := range f.quotes {
		if q.Expiry.Equal(exp) {
			chain.add(q)
		}
	}
	chain.sortQuotes()
	return chain, nil
}

// load returns the parsed file for underlying, reading it only when the
// cached copy is missing or stale.
func (localFileDataProv *localFileDataProvider) load(underlying string) (csvFile, error) {
	path := filepath.Join(localFileDataProv.dir, strings.ToUpper(underlying)+".csv")
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return csvFile{}, fmt.Errorf("chain file %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return csvFile{}, fmt.Errorf("stat chain file: %w", err)
	}

	localFileDataProv.mu.Lock()
	defer localFileDataProv.mu.Unlock()

	if cached, ok := localFileDataProv.cache[path]; ok && cached.modTime.Equal(info.ModTime()) {
		return cached, nil
	}

	fh, err := os.Open(path)
	if err != nil {
		return csvFile{}, fmt.Errorf("open chain file: %w", err)
	}
	defer fh.Close()

	parsed, err := parseChainCSV(underlying, fh)
	if err != nil {
		return csvFile{}, fmt.Errorf("%s: %w", path, err)
	}
	parsed.modTime = info.ModTime()
	localFileDataProv.cache[path] = parsed
	logger.Debugf("loaded %d quotes for %s from %s", len(parsed.quotes), underlying, path)
	return parsed, nil
}

func parseChainCSV(underlying string, r io.Reader) (csvFile, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return csvFile{}, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range csvColumns {
		if _, ok := col[name]; !ok {
			return csvFile{}, fmt.Errorf("missing column %q", name)
		}
	}
	ivCol, hasIV := col["implied_volatility"]

	var out csvFile
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return csvFile{}, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(name string) string { return strings.TrimSpace(row[col[name]]) }

		kind, err := pricing.ParseKind(field("type"))
		if err != nil {
			return csvFile{}, fmt.Errorf("line %d: %w", line, err)
		}
		expiry, err := ParseDate(field("expiry"))
		if err != nil {
			return csvFile{}, fmt.Errorf("line %d expiry: %w", line, err)
		}
		asOf, err := ParseDate(field("as_of"))
		if err != nil {
			return csvFile{}, fmt.Errorf("line %d as_of: %w", line, err)
		}

		var nums [5]float64
		for i, name := range []string{"strike", "bid", "ask", "last", "underlying_price"} {
			if nums[i], err = parseNumber(field(name)); err != nil {
				return csvFile{}, fmt.Errorf("line %d %s: %w", line, name, err)
			}
		}
		volume, err := parseCount(field("volume"))
		if err != nil {
			return csvFile{}, fmt.Errorf("line %d volume: %w", line, err)
		}
		oi, err := parseCount(field("open_interest"))
		if err != nil {
			return csvFile{}, fmt.Errorf("line %d open_interest: %w", line, err)
		}

		q := Quote{
			Symbol:       OptionSymbol(underlying, expiry, kind, nums[0]),
			Kind:         kind,
			Strike:       nums[0],
			Expiry:       expiry,
			Bid:          nums[1],
			Ask:          nums[2],
			Last:         nums[3],
			Volume:       volume,
			OpenInterest: oi,
		}
		if hasIV {
			if q.VendorIV, err = parseNumber(strings.TrimSpace(row[ivCol])); err != nil {
				return csvFile{}, fmt.Errorf("line %d implied_volatility: %w", line, err)
			}
		}
		out.quotes = append(out.quotes, q)

		// the latest snapshot row wins
		if !asOf.Before(out.asOf) {
			out.asOf = asOf
			out.spot = nums[4]
		}
	}
	if len(out.quotes) == 0 {
		return csvFile{}, fmt.Errorf("no quotes: %w", ErrNotFound)
	}
	return out, nil
}

func expiriesOf(quotes []Quote) []time.Time {
	seen := map[time.Time]struct{}{}
	out := []time.Time{}
	for _, q := range quotes {
		if _, ok := seen[q.Expiry]; !ok {
			seen[q.Expiry] = struct{}{}
			out = append(out, q.Expiry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ParseDate accepts 2006-01-02 or RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// parseNumber treats an empty cell as zero.
func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseCount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	return int64(f), err
}
