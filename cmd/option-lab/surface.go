package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
	"github.com/contactkeval/option-lab/internal/report"
	"github.com/contactkeval/option-lab/internal/surface"
)

// axisFlags is a --<name>-from/--<name>-to/--<name>-points triple.
type axisFlags struct {
	name     string
	from, to float64
	points   int
}

func (f *axisFlags) register(cmd *cobra.Command, from, to float64) {
	cmd.Flags().Float64Var(&f.from, f.name+"-from", from, "first "+f.name)
	cmd.Flags().Float64Var(&f.to, f.name+"-to", to, "last "+f.name)
	cmd.Flags().IntVar(&f.points, f.name+"-points", 0, "number of "+f.name+" samples (default surface.points)")
}

func (f *axisFlags) values(defaultPoints int) ([]float64, error) {
	n := f.points
	if n == 0 {
		n = defaultPoints
	}
	if n < 1 || f.to < f.from {
		return nil, fmt.Errorf("%s axis [%g, %g] with %d points: %w", f.name, f.from, f.to, n, pricing.ErrInvalidParameter)
	}
	return surface.Linspace(f.from, f.to, n), nil
}

func (a *app) builder() surface.Builder {
	return surface.Builder{
		Pricer:  a.pricer(),
		Solver:  a.cfg.Solver,
		Bumps:   a.cfg.Greeks,
		Workers: a.cfg.Surface.Workers,
	}
}

func (a *app) writeGrid(g *surface.Grid, name string) error {
	if !a.writeOut {
		return nil
	}
	if err := a.writeReport(name, g); err != nil {
		return err
	}
	path, err := report.WriteGridCSV(g, a.cfg.ReportDir, name)
	if err != nil {
		return err
	}
	logger.Infof("wrote %s", path)
	return nil
}

func newSurfaceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surface",
		Short: "Evaluate the engine over parameter grids",
	}
	cmd.AddCommand(newSurfacePriceCmd(a), newSurfaceIVCmd(a), newSurfaceGreeksCmd(a))
	return cmd
}

func newSurfacePriceCmd(a *app) *cobra.Command {
	var axis string
	x := &axisFlags{name: "x"}
	vol := &axisFlags{name: "vol"}
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price over strike (or spot) × vol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			xs, err := x.values(a.cfg.Surface.Points)
			if err != nil {
				return err
			}
			vols, err := vol.values(a.cfg.Surface.Points)
			if err != nil {
				return err
			}

			var g *surface.Grid
			switch axis {
			case "strike":
				g, err = a.builder().PriceByStrikeVol(cmd.Context(), a.spec(), xs, vols)
			case "spot":
				g, err = a.builder().PriceBySpotVol(cmd.Context(), a.spec(), xs, vols)
			default:
				return fmt.Errorf("unknown axis %q: %w", axis, pricing.ErrInvalidParameter)
			}
			if err != nil {
				return err
			}
			if err := report.PrintGrid(cmd.OutOrStdout(), g); err != nil {
				return err
			}
			return a.writeGrid(g, "price_"+axis+"_vol")
		},
	}
	cmd.Flags().StringVar(&axis, "axis", "strike", "x axis: strike or spot")
	x.register(cmd, 50, 150)
	vol.register(cmd, 0.05, 0.8)
	return cmd
}

func newSurfaceIVCmd(a *app) *cobra.Command {
	var market float64
	strike := &axisFlags{name: "strike"}
	expiry := &axisFlags{name: "expiry"}
	cmd := &cobra.Command{
		Use:   "iv",
		Short: "Implied volatility of one market price over strike × expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			strikes, err := strike.values(a.cfg.Surface.Points)
			if err != nil {
				return err
			}
			expiries, err := expiry.values(a.cfg.Surface.Points)
			if err != nil {
				return err
			}
			g, err := a.builder().ImpliedVolByStrikeExpiry(cmd.Context(), a.spec(), market, strikes, expiries)
			if err != nil {
				return err
			}
			if err := report.PrintGrid(cmd.OutOrStdout(), g); err != nil {
				return err
			}
			return a.writeGrid(g, "implied_vol_strike_expiry")
		},
	}
	cmd.Flags().Float64Var(&market, "market", 0, "observed option price")
	_ = cmd.MarkFlagRequired("market")
	strike.register(cmd, 50, 150)
	expiry.register(cmd, 0.1, 2)
	return cmd
}

func newSurfaceGreeksCmd(a *app) *cobra.Command {
	var param string
	values := &axisFlags{name: "x"}
	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Greeks along vol, time or spot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := surface.ParseParam(param)
			if err != nil {
				return err
			}
			xs, err := values.values(a.cfg.Surface.Points)
			if err != nil {
				return err
			}
			c, err := a.builder().GreeksCurve(cmd.Context(), a.spec(), p, xs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, g := range c.Points {
				fmt.Fprintf(out, "%s=%s\n", p, report.Fixed(c.X[i], report.RatioPlaces))
				if err := report.PrintGreeks(out, g); err != nil {
					return err
				}
			}
			if !a.writeOut {
				return nil
			}
			path, err := report.WriteGreeksCSV(c, a.cfg.ReportDir, "greeks_"+string(p))
			if err != nil {
				return err
			}
			logger.Infof("wrote %s", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&param, "param", "vol", "varied input: vol, time or spot")
	values.register(cmd, 0.05, 0.8)
	return cmd
}
