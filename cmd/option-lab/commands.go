package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
	"github.com/contactkeval/option-lab/internal/report"
)

// maxPrintedSteps bounds the lattice layers that tree prints in full.
const maxPrintedSteps = 8

// writeReport writes v under name when --out is set.
func (a *app) writeReport(name string, v any) error {
	if !a.writeOut {
		return nil
	}
	path, err := report.WriteJSON(v, a.cfg.ReportDir, name)
	if err != nil {
		return err
	}
	logger.Infof("wrote %s", path)
	return nil
}

func newPriceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Price one option",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec := a.spec()
			price, err := a.pricer().Price(spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nprice %s\n", spec, report.Fixed(price, report.RatioPlaces))
			return a.writeReport("price", map[string]any{"spec": spec, "model": a.cfg.Defaults.Model, "price": price})
		},
	}
}

func newGreeksCmd(a *app) *cobra.Command {
	var analytic bool
	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Finite-difference Greeks of one option",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec := a.spec()
			g, err := pricing.ComputeGreeksWith(spec, a.pricer(), a.cfg.Greeks)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), spec)
			if err := report.PrintGreeks(cmd.OutOrStdout(), g); err != nil {
				return err
			}
			if analytic {
				exact, err := pricing.BlackScholesGreeks(spec)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "closed form:")
				if err := report.PrintGreeks(cmd.OutOrStdout(), exact); err != nil {
					return err
				}
			}
			return a.writeReport("greeks", map[string]any{"spec": spec, "greeks": g, "display": g.Display()})
		},
	}
	cmd.Flags().BoolVar(&analytic, "analytic", false, "also print the closed-form Greeks")
	return cmd
}

func newStrikeCmd(a *app) *cobra.Command {
	var delta float64
	cmd := &cobra.Command{
		Use:   "strike",
		Short: "Strike with a given Black-Scholes delta",
		Long:  "Invert the closed-form delta. Put deltas are negative. The --strike flag is ignored.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := pricing.StrikeForDelta(a.spec(), delta)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "strike %s for delta %g\n", report.Fixed(k, report.PricePlaces), delta)
			return nil
		},
	}
	cmd.Flags().Float64Var(&delta, "delta", 0, "target delta")
	_ = cmd.MarkFlagRequired("delta")
	return cmd
}

func newIVCmd(a *app) *cobra.Command {
	var (
		market float64
		method string
	)
	cmd := &cobra.Command{
		Use:   "iv",
		Short: "Implied volatility of a market price",
		Long: "Solve for the volatility that reproduces --market. The --vol flag is ignored.\n" +
			"Exits non-zero when no volatility in the search bounds matches the price.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec := a.spec()
			var (
				res pricing.ImpliedVolResult
				err error
			)
			switch method {
			case "brent":
				res, err = pricing.ImpliedVolWith(spec, market, a.pricer(), a.cfg.Solver)
			case "newton":
				if a.cfg.Defaults.Model != "bs" {
					return fmt.Errorf("newton solver needs --model bs: %w", pricing.ErrInvalidParameter)
				}
				res, err = pricing.ImpliedVolNewton(spec, market, a.cfg.Solver)
			default:
				return fmt.Errorf("unknown method %q: %w", method, pricing.ErrInvalidParameter)
			}
			if err != nil {
				return err
			}
			printIV(cmd.OutOrStdout(), res)
			if err := a.writeReport("implied_vol", map[string]any{"spec": spec, "market_price": market, "result": res}); err != nil {
				return err
			}
			if !res.Converged {
				return pricing.NewNumericalFailure(res.Diagnostic)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&market, "market", 0, "observed option price")
	cmd.Flags().StringVar(&method, "method", "brent", "brent or newton")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func printIV(w io.Writer, res pricing.ImpliedVolResult) {
	if !res.Converged {
		fmt.Fprintf(w, "no solution after %d iterations: %s\n", res.Iterations, res.Diagnostic)
		return
	}
	fmt.Fprintf(w, "implied vol %s (%d iterations, residual %g)\n",
		report.Fixed(res.Sigma, report.RatioPlaces), res.Iterations, res.Residual)
}

func newTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Price on the CRR lattice and show its factors",
		Long:  fmt.Sprintf("Price on the binomial lattice. Trees of up to %d steps are printed layer by layer.", maxPrintedSteps),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, steps := a.spec(), a.cfg.Lattice.Steps
			lat, err := pricing.NewLattice(spec, steps)
			if err != nil {
				return err
			}
			b := pricing.Binomial{Steps: steps}
			out := cmd.OutOrStdout()

			if steps > maxPrintedSteps && !a.writeOut {
				price, err := b.Price(spec)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\nsteps %d  up %g  down %g  p %g  discount %g\nprice %s\n",
					spec, lat.Steps, lat.Up, lat.Down, lat.Prob, lat.Discount, report.Fixed(price, report.RatioPlaces))
				return nil
			}

			res, err := b.PriceWithTree(spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\nsteps %d  up %g  down %g  p %g  discount %g\nprice %s\n",
				spec, lat.Steps, lat.Up, lat.Down, lat.Prob, lat.Discount, report.Fixed(res.Price, report.RatioPlaces))
			if res.Tree != nil && steps <= maxPrintedSteps {
				printTree(out, res.Tree)
			}
			return a.writeReport("tree", map[string]any{"spec": spec, "lattice": lat, "result": res})
		},
	}
}

// printTree lists each layer as spot:value pairs, marking nodes where
// early exercise won with a star.
func printTree(w io.Writer, t *pricing.Tree) {
	for j := range t.Values {
		fmt.Fprintf(w, "%d:", j)
		for i, v := range t.Values[j] {
			mark := ""
			if t.Exercised[j][i] {
				mark = "*"
			}
			fmt.Fprintf(w, " %s:%s%s",
				report.Fixed(t.Spots[j][i], report.StrikePlaces), report.Fixed(v, report.PricePlaces), mark)
		}
		fmt.Fprintln(w)
	}
}
