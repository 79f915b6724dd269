// This file contains the Massive-backed Provider. It reads option chain
// snapshots and contract listings through the Massive (Polygon
// compatible) REST API.
//
// Design notes:
//   - Uses resty instead of the official Massive SDK
//   - Follows next_url pagination and retries on 429 and 5xx
//   - Logging is verbose at Debug/Trace levels for diagnostics

package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
)

const defaultMassiveBaseURL = "https://api.massive.com"

// MassiveProvider implements Provider using the Massive REST API.
type MassiveProvider struct {
	apiKey    string
	client    *resty.Client
	secondary Provider
	now       func() time.Time
}

// MassiveOption customizes a MassiveProvider.
type MassiveOption func(*MassiveProvider)

// WithBaseURL points the client at another host, such as an httptest
// server.
func WithBaseURL(u string) MassiveOption {
	return func(p *MassiveProvider) { p.client.SetBaseURL(strings.TrimRight(u, "/")) }
}

// WithSecondary sets the fallback provider used on ErrNotFound.
func WithSecondary(secondary Provider) MassiveOption {
	return func(p *MassiveProvider) { p.secondary = secondary }
}

// WithRetry sets how often and how long to wait between retries of
// rate-limited or failed requests.
func WithRetry(count int, wait, maxWait time.Duration) MassiveOption {
	return func(p *MassiveProvider) {
		p.client.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(maxWait)
	}
}

// WithClock overrides the clock used for default snapshot timestamps.
func WithClock(now func() time.Time) MassiveOption {
	return func(p *MassiveProvider) { p.now = now }
}

// NewMassiveProvider constructs a Massive-backed data provider.
func NewMassiveProvider(apiKey string, opts ...MassiveOption) *MassiveProvider {
	client := resty.New().
		SetBaseURL(defaultMassiveBaseURL).
		SetTimeout(60*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "option-lab/1.0").
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(time.Minute).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return true
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= 500
		}).
		SetRetryAfter(retryAfter)

	p := &MassiveProvider{apiKey: apiKey, client: client, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	logger.Infof("initialized Massive data provider (%s)", p.client.BaseURL)
	return p
}

// retryAfter honours a Retry-After header in seconds. Zero lets resty
// fall back to its jittered backoff.
func retryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil {
		return 0, nil
	}
	if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
		logger.Infof("rate limit hit, retrying in %ds", secs)
		return time.Duration(secs) * time.Second, nil
	}
	return 0, nil
}

// Secondary returns the configured secondary Provider, if any.
func (massiveDataProv *MassiveProvider) Secondary() Provider {
	return massiveDataProv.secondary
}

// massiveContract is one entry of /v3/reference/options/contracts.
type massiveContract struct {
	ContractType     string  `json:"contract_type"`
	ExerciseStyle    string  `json:"exercise_style"`
	ExpiryDate       string  `json:"expiration_date"`
	StrikePrice      float64 `json:"strike_price"`
	Ticker           string  `json:"ticker"`
	UnderlyingTicker string  `json:"underlying_ticker"`
}

type massiveContractsResp struct {
	Results   []massiveContract `json:"results"`
	Status    string            `json:"status"`
	RequestID string            `json:"request_id"`
	NextURL   string            `json:"next_url"`
}

// massiveSnapshot is one entry of /v3/snapshot/options/{underlying}.
type massiveSnapshot struct {
	Day struct {
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"day"`
	Details struct {
		ContractType   string  `json:"contract_type"`
		ExerciseStyle  string  `json:"exercise_style"`
		ExpirationDate string  `json:"expiration_date"`
		StrikePrice    float64 `json:"strike_price"`
		Ticker         string  `json:"ticker"`
	} `json:"details"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	LastQuote         struct {
		Ask float64 `json:"ask"`
		Bid float64 `json:"bid"`
	} `json:"last_quote"`
	LastTrade struct {
		Price float64 `json:"price"`
	} `json:"last_trade"`
	OpenInterest    float64 `json:"open_interest"`
	UnderlyingAsset struct {
		Price       float64 `json:"price"`
		Ticker      string  `json:"ticker"`
		LastUpdated int64   `json:"last_updated"` // epoch nanos
	} `json:"underlying_asset"`
}

type massiveSnapshotResp struct {
	Results   []massiveSnapshot `json:"results"`
	Status    string            `json:"status"`
	RequestID string            `json:"request_id"`
	NextURL   string            `json:"next_url"`
}

// Expiries lists unexpired contract expiries for underlying from the
// contracts reference endpoint.
func (massiveDataProv *MassiveProvider) Expiries(ctx context.Context, underlying string) ([]time.Time, error) {
	out, err := massiveDataProv.expiries(ctx, underlying)
	if err != nil {
		return fallback(massiveDataProv.secondary, err, func(p Provider) ([]time.Time, error) {
			return p.Expiries(ctx, underlying)
		})
	}
	return out, nil
}

func (massiveDataProv *MassiveProvider) expiries(ctx context.Context, underlying string) ([]time.Time, error) {
	logger.Debugf("fetching expiries for %s", underlying)

	query := map[string]string{
		"underlying_ticker":   strings.ToUpper(underlying),
		"expiration_date.gte": massiveDataProv.now().UTC().Format(dateLayout),
		"expired":             "false",
		"limit":               "1000",
	}
	seen := map[time.Time]struct{}{}
	var out []time.Time

	err := massiveDataProv.paginate(ctx, "/v3/reference/options/contracts", query, func(body []byte) (string, error) {
		var page massiveContractsResp
		if err := json.Unmarshal(body, &page); err != nil {
			return "", fmt.Errorf("decode contracts: %w", err)
		}
		logger.Tracef("received %d contracts", len(page.Results))
		for _, c := range page.Results {
			t, err := time.Parse(dateLayout, c.ExpiryDate)
			if err != nil {
				continue // skip malformed expiry dates
			}
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
		return page.NextURL, nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no contracts listed for %s: %w", underlying, ErrNotFound)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	logger.Debugf("resolved %d expiries for %s", len(out), underlying)
	return out, nil
}

// Chain fetches the snapshot for one expiry. A zero expiry first asks
// Expiries for the nearest one.
func (massiveDataProv *MassiveProvider) Chain(ctx context.Context, underlying string, expiry time.Time) (*Chain, error) {
	chain, err := massiveDataProv.chain(ctx, underlying, expiry)
	if err != nil {
		return fallback(massiveDataProv.secondary, err, func(p Provider) (*Chain, error) {
			return p.Chain(ctx, underlying, expiry)
		})
	}
	return chain, nil
}

func (massiveDataProv *MassiveProvider) chain(ctx context.Context, underlying string, expiry time.Time) (*Chain, error) {
	if expiry.IsZero() {
		listed, err := massiveDataProv.expiries(ctx, underlying)
		if err != nil {
			return nil, err
		}
		expiry = listed[0]
	}
	day := truncateDay(expiry)
	underlying = strings.ToUpper(underlying)
	logger.Debugf("fetching snapshot %s expiry=%s", underlying, day.Format(dateLayout))

	chain := &Chain{Underlying: underlying, Expiry: day}
	var updated int64
	query := map[string]string{
		"expiration_date": day.Format(dateLayout),
		"limit":           "250",
	}
	path := "/v3/snapshot/options/" + underlying

	err := massiveDataProv.paginate(ctx, path, query, func(body []byte) (string, error) {
		var page massiveSnapshotResp
		if err := json.Unmarshal(body, &page); err != nil {
			return "", fmt.Errorf("decode snapshot: %w", err)
		}
		logger.Tracef("received %d snapshot entries", len(page.Results))
		for _, s := range page.Results {
			kind, err := pricing.ParseKind(s.Details.ContractType)
			if err != nil {
				logger.Warnf("skipping %s: %v", s.Details.Ticker, err)
				continue
			}
			last := s.LastTrade.Price
			if last == 0 {
				last = s.Day.Close
			}
			chain.add(Quote{
				Symbol:       s.Details.Ticker,
				Kind:         kind,
				Strike:       s.Details.StrikePrice,
				Expiry:       day,
				Bid:          s.LastQuote.Bid,
				Ask:          s.LastQuote.Ask,
				Last:         last,
				Volume:       int64(s.Day.Volume),
				OpenInterest: int64(s.OpenInterest),
				VendorIV:     s.ImpliedVolatility,
			})
			if s.UnderlyingAsset.Price > 0 && s.UnderlyingAsset.LastUpdated >= updated {
				chain.Spot = s.UnderlyingAsset.Price
				updated = s.UnderlyingAsset.LastUpdated
			}
		}
		return page.NextURL, nil
	})
	if err != nil {
		return nil, err
	}
	if len(chain.Calls)+len(chain.Puts) == 0 {
		return nil, fmt.Errorf("no snapshot for %s expiry %s: %w", underlying, day.Format(dateLayout), ErrNotFound)
	}

	if updated > 0 {
		chain.AsOf = time.Unix(0, updated).UTC()
	} else {
		chain.AsOf = massiveDataProv.now().UTC()
	}
	chain.sortQuotes()
	return chain, nil
}

// paginate GETs path with query, hands each body to page and follows
// the next_url it returns until it is empty.
func (massiveDataProv *MassiveProvider) paginate(
	ctx context.Context,
	path string,
	query map[string]string,
	page func(body []byte) (string, error),
) error {
	reqURL := path
	for reqURL != "" {
		logger.Debugf("massive request: %s", reqURL)

		req := massiveDataProv.client.R().SetContext(ctx)
		if query != nil {
			req.SetQueryParams(query)
			query = nil // next_url carries its own cursor
		}
		resp, err := req.Get(reqURL)
		if err != nil {
			return fmt.Errorf("massive request %s: %w", path, err)
		}
		if resp.IsError() {
			var dbg struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(resp.Body(), &dbg)
			logger.Errorf("massive API error status=%d message=%s", resp.StatusCode(), dbg.Message)
			err := fmt.Errorf("massive returned status %d: %s", resp.StatusCode(), dbg.Message)
			if resp.StatusCode() == http.StatusNotFound {
				err = fmt.Errorf("%w: %w", err, ErrNotFound)
			}
			return err
		}
		if len(resp.Body()) == 0 {
			return fmt.Errorf("massive %s: empty response body", path)
		}

		next, err := page(resp.Body())
		if err != nil {
			return err
		}
		reqURL = next
	}
	return nil
}
