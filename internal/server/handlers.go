package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contactkeval/option-lab/internal/chain"
	"github.com/contactkeval/option-lab/internal/config"
	"github.com/contactkeval/option-lab/internal/data"
	"github.com/contactkeval/option-lab/internal/pricing"
	"github.com/contactkeval/option-lab/internal/surface"
)

const (
	maxTreeSteps  = 500 // full trees are O(steps²) in the response
	maxAxisPoints = 500
)

// OptionRequest describes one option. Omitted fields take the configured
// defaults.
type OptionRequest struct {
	Spot     *float64 `json:"spot"`
	Strike   *float64 `json:"strike"`
	Expiry   *float64 `json:"expiry"`
	Rate     *float64 `json:"rate"`
	Vol      *float64 `json:"vol"`
	Dividend *float64 `json:"dividend"`
	Kind     string   `json:"kind"`
	Style    string   `json:"style"`
	Model    string   `json:"model" binding:"omitempty,oneof=bs binomial"`
	Steps    int      `json:"steps" binding:"gte=0,lte=100000"` // pricing.MaxSteps
}

// Axis is either an explicit list of values or an evenly spaced range.
type Axis struct {
	Values []float64 `json:"values"`
	From   float64   `json:"from"`
	To     float64   `json:"to"`
	Points int       `json:"points" binding:"gte=0"`
}

type ImpliedVolRequest struct {
	OptionRequest
	MarketPrice float64 `json:"market_price" binding:"required"`
	Method      string  `json:"method" binding:"omitempty,oneof=brent newton"`
}

type StrikeRequest struct {
	OptionRequest
	Delta float64 `json:"delta" binding:"required"`
}

type GreeksCurveRequest struct {
	OptionRequest
	Param  string `json:"param" binding:"required"`
	Values Axis   `json:"values"`
}

type PriceSurfaceRequest struct {
	OptionRequest
	Axis string `json:"axis" binding:"omitempty,oneof=strike spot"` // default strike
	X    Axis   `json:"x"`
	Vols Axis   `json:"vols"`
}

type ImpliedVolSurfaceRequest struct {
	OptionRequest
	MarketPrice float64 `json:"market_price" binding:"required"`
	Strikes     Axis    `json:"strikes"`
	Expiries    Axis    `json:"expiries"`
}

// spec overlays req on the configured defaults. It also returns the
// model name and step count so callers can build a pricer.
func (s *Server) spec(req OptionRequest) (pricing.OptionSpec, string, int, error) {
	spec := s.cfg.Defaults.Spec()
	for _, f := range []struct {
		dst *float64
		src *float64
	}{
		{&spec.Spot, req.Spot},
		{&spec.Strike, req.Strike},
		{&spec.Expiry, req.Expiry},
		{&spec.Rate, req.Rate},
		{&spec.Vol, req.Vol},
		{&spec.Dividend, req.Dividend},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	if req.Kind != "" {
		k, err := pricing.ParseKind(req.Kind)
		if err != nil {
			return spec, "", 0, err
		}
		spec.Kind = k
	}
	if req.Style != "" {
		st, err := pricing.ParseStyle(req.Style)
		if err != nil {
			return spec, "", 0, err
		}
		spec.Style = st
	}

	model := req.Model
	if model == "" {
		model = s.cfg.Defaults.Model
	}
	steps := req.Steps
	if steps == 0 {
		steps = s.cfg.Lattice.Steps
	}
	return spec, model, steps, nil
}

func (s *Server) specAndPricer(req OptionRequest) (pricing.OptionSpec, pricing.Pricer, error) {
	spec, model, steps, err := s.spec(req)
	if err != nil {
		return spec, nil, err
	}
	return spec, config.PricerFor(model, steps), nil
}

func (s *Server) builder(pricer pricing.Pricer) surface.Builder {
	return surface.Builder{
		Pricer:  pricer,
		Solver:  s.cfg.Solver,
		Bumps:   s.cfg.Greeks,
		Workers: s.cfg.Surface.Workers,
	}
}

func (a Axis) resolve(name string, defaultPoints int) ([]float64, error) {
	if len(a.Values) > 0 {
		if len(a.Values) > maxAxisPoints {
			return nil, fmt.Errorf("%s axis has %d values, limit %d: %w", name, len(a.Values), maxAxisPoints, pricing.ErrInvalidParameter)
		}
		return a.Values, nil
	}
	if a.From == 0 && a.To == 0 {
		return nil, fmt.Errorf("%s axis needs values or a from/to range: %w", name, pricing.ErrInvalidParameter)
	}
	n := a.Points
	if n == 0 {
		n = defaultPoints
	}
	if n > maxAxisPoints {
		return nil, fmt.Errorf("%s axis has %d points, limit %d: %w", name, n, maxAxisPoints, pricing.ErrInvalidParameter)
	}
	return surface.Linspace(a.From, a.To, n), nil
}

// HandleHealth reports liveness.
// GET /health
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"provider": s.provider != nil,
	})
}

// HandlePrice prices one option.
// POST /api/v1/price
func (s *Server) HandlePrice(c *gin.Context) {
	var req OptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, pricer, err := s.specAndPricer(req)
	if err != nil {
		fail(c, err)
		return
	}
	price, err := pricer.Price(spec)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price, "spec": spec})
}

// HandleGreeks returns raw Greeks and the same values in quoting units.
// POST /api/v1/greeks
func (s *Server) HandleGreeks(c *gin.Context) {
	var req OptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, model, steps, err := s.spec(req)
	if err != nil {
		fail(c, err)
		return
	}
	g, err := pricing.ComputeGreeksWith(spec, config.PricerFor(model, steps), s.cfg.Greeks)
	if err != nil {
		fail(c, err)
		return
	}
	body := gin.H{"greeks": g, "display": g.Display(), "spec": spec}
	if model == "bs" {
		if analytic, err := pricing.BlackScholesGreeks(spec); err == nil {
			body["analytic"] = analytic
		}
	}
	c.JSON(http.StatusOK, body)
}

// HandleStrike finds the strike with a given Black-Scholes delta.
// POST /api/v1/strike
func (s *Server) HandleStrike(c *gin.Context) {
	var req StrikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, _, _, err := s.spec(req.OptionRequest)
	if err != nil {
		fail(c, err)
		return
	}
	k, err := pricing.StrikeForDelta(spec, req.Delta)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strike": k, "delta": req.Delta})
}

// HandleGreeksCurve sweeps vol, time or spot and returns the Greeks at
// every sample.
// POST /api/v1/greeks/curve
func (s *Server) HandleGreeksCurve(c *gin.Context) {
	var req GreeksCurveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, pricer, err := s.specAndPricer(req.OptionRequest)
	if err != nil {
		fail(c, err)
		return
	}
	param, err := surface.ParseParam(req.Param)
	if err != nil {
		fail(c, err)
		return
	}
	values, err := req.Values.resolve("values", s.cfg.Surface.Points)
	if err != nil {
		fail(c, err)
		return
	}
	curve, err := s.builder(pricer).GreeksCurve(c.Request.Context(), spec, param, values)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, curve)
}

// HandleImpliedVol solves for σ. A quote the model cannot reproduce is
// still a 200, with converged=false and a diagnostic.
// POST /api/v1/implied-vol
func (s *Server) HandleImpliedVol(c *gin.Context) {
	var req ImpliedVolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, model, steps, err := s.spec(req.OptionRequest)
	if err != nil {
		fail(c, err)
		return
	}

	var res pricing.ImpliedVolResult
	if req.Method == "newton" {
		if model != "bs" {
			fail(c, fmt.Errorf("newton solver needs the closed-form model: %w", pricing.ErrInvalidParameter))
			return
		}
		res, err = pricing.ImpliedVolNewton(spec, req.MarketPrice, s.cfg.Solver)
	} else {
		res, err = pricing.ImpliedVolWith(spec, req.MarketPrice, config.PricerFor(model, steps), s.cfg.Solver)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleTree prices on the lattice and returns every layer.
// POST /api/v1/tree
func (s *Server) HandleTree(c *gin.Context) {
	var req OptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, _, steps, err := s.spec(req)
	if err != nil {
		fail(c, err)
		return
	}
	if steps > maxTreeSteps {
		fail(c, fmt.Errorf("tree output is limited to %d steps, got %d: %w", maxTreeSteps, steps, pricing.ErrInvalidParameter))
		return
	}
	lat, err := pricing.NewLattice(spec, steps)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := pricing.Binomial{Steps: steps}.PriceWithTree(spec)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": res.Price, "lattice": lat, "tree": res.Tree, "spec": spec})
}

// HandlePriceSurface prices over strike (or spot) × vol.
// POST /api/v1/surface/price
func (s *Server) HandlePriceSurface(c *gin.Context) {
	var req PriceSurfaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, pricer, err := s.specAndPricer(req.OptionRequest)
	if err != nil {
		fail(c, err)
		return
	}
	axis := req.Axis
	if axis == "" {
		axis = "strike"
	}
	xs, err := req.X.resolve(axis, s.cfg.Surface.Points)
	if err != nil {
		fail(c, err)
		return
	}
	vols, err := req.Vols.resolve("vol", s.cfg.Surface.Points)
	if err != nil {
		fail(c, err)
		return
	}

	b := s.builder(pricer)
	var g *surface.Grid
	if axis == "spot" {
		g, err = b.PriceBySpotVol(c.Request.Context(), spec, xs, vols)
	} else {
		g, err = b.PriceByStrikeVol(c.Request.Context(), spec, xs, vols)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// HandleImpliedVolSurface inverts one market price over strike × expiry.
// Unsolvable cells are null.
// POST /api/v1/surface/implied-vol
func (s *Server) HandleImpliedVolSurface(c *gin.Context) {
	var req ImpliedVolSurfaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	spec, pricer, err := s.specAndPricer(req.OptionRequest)
	if err != nil {
		fail(c, err)
		return
	}
	strikes, err := req.Strikes.resolve("strike", s.cfg.Surface.Points)
	if err != nil {
		fail(c, err)
		return
	}
	expiries, err := req.Expiries.resolve("expiry", s.cfg.Surface.Points)
	if err != nil {
		fail(c, err)
		return
	}
	g, err := s.builder(pricer).ImpliedVolByStrikeExpiry(c.Request.Context(), spec, req.MarketPrice, strikes, expiries)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// HandleExpiries lists the expiries the provider has for an underlying.
// GET /api/v1/chain/:underlying/expiries
func (s *Server) HandleExpiries(c *gin.Context) {
	underlying := strings.ToUpper(c.Param("underlying"))
	expiries, err := s.provider.Expiries(c.Request.Context(), underlying)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]string, len(expiries))
	for i, e := range expiries {
		out[i] = e.Format(time.DateOnly)
	}
	c.JSON(http.StatusOK, gin.H{"underlying": underlying, "expiries": out})
}

// HandleChain analyses one expiry of an option chain.
// GET /api/v1/chain/:underlying?expiry=2025-01-17&match=nearest&vol=0.2&rate=0.05&dividend=0&style=european&model=bs
func (s *Server) HandleChain(c *gin.Context) {
	ctx := c.Request.Context()
	underlying := strings.ToUpper(c.Param("underlying"))

	params, err := s.chainParams(c)
	if err != nil {
		fail(c, err)
		return
	}

	var target time.Time
	if v := c.Query("expiry"); v != "" {
		if target, err = data.ParseDate(v); err != nil {
			fail(c, fmt.Errorf("expiry %q: %w", v, pricing.ErrInvalidParameter))
			return
		}
	}
	mode := data.DateMatchType(c.DefaultQuery("match", string(data.MatchNearest)))
	expiry, err := data.SelectExpiry(ctx, s.provider, underlying, target, mode)
	if err != nil {
		fail(c, err)
		return
	}

	ch, err := s.provider.Chain(ctx, underlying, expiry)
	if err != nil {
		fail(c, err)
		return
	}
	model := c.DefaultQuery("model", s.cfg.Defaults.Model)
	if model != "bs" && model != "binomial" {
		fail(c, fmt.Errorf("unknown model %q: %w", model, pricing.ErrInvalidParameter))
		return
	}
	res, err := chain.Analyzer{
		Pricer:  config.PricerFor(model, s.cfg.Lattice.Steps),
		Solver:  s.cfg.Solver,
		Workers: s.cfg.Surface.Workers,
	}.Analyze(ctx, ch, params)
	if err != nil {
		fail(c, err)
		return
	}
	if c.Query("strict") == "true" {
		if err := res.RequireConverged(); err != nil {
			fail(c, err)
			return
		}
	}
	if c.Query("converged_only") == "true" {
		res.Rows = res.Converged()
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) chainParams(c *gin.Context) (chain.Params, error) {
	d := s.cfg.Defaults
	p := chain.Params{Vol: d.Vol, Rate: d.Rate, Dividend: d.Dividend}
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"vol", &p.Vol},
		{"rate", &p.Rate},
		{"dividend", &p.Dividend},
	} {
		v, ok := c.GetQuery(f.key)
		if !ok {
			continue
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("%s %q: %w", f.key, v, pricing.ErrInvalidParameter)
		}
		*f.dst = x
	}
	style, err := pricing.ParseStyle(c.DefaultQuery("style", d.Style))
	if err != nil {
		return p, err
	}
	p.Style = style
	return p, nil
}
