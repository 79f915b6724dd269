package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-lab/internal/chain"
	"github.com/contactkeval/option-lab/internal/data"
	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
	"github.com/contactkeval/option-lab/internal/report"
)

func newChainCmd(a *app) *cobra.Command {
	var (
		expiry, match         string
		strict, convergedOnly bool
	)
	cmd := &cobra.Command{
		Use:   "chain <underlying>",
		Short: "Compare an option chain with the model",
		Long: "Fetch one expiry of an option chain from the configured provider, price every\n" +
			"quote at --vol and solve for the implied volatility of its mid price.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			underlying := strings.ToUpper(args[0])

			provider, err := data.New(a.cfg.Data)
			if err != nil {
				return err
			}

			var target time.Time
			if expiry != "" {
				if target, err = data.ParseDate(expiry); err != nil {
					return fmt.Errorf("--expiry %q: %w", expiry, pricing.ErrInvalidParameter)
				}
			}
			exp, err := data.SelectExpiry(ctx, provider, underlying, target, data.DateMatchType(match))
			if err != nil {
				return err
			}
			ch, err := provider.Chain(ctx, underlying, exp)
			if err != nil {
				return err
			}
			logger.Debugf("%s %s: %d calls, %d puts", underlying, ch.Expiry.Format(time.DateOnly), len(ch.Calls), len(ch.Puts))

			d := a.cfg.Defaults
			res, err := chain.Analyzer{
				Pricer:  a.pricer(),
				Solver:  a.cfg.Solver,
				Workers: a.cfg.Surface.Workers,
			}.Analyze(ctx, ch, chain.Params{
				Vol:      d.Vol,
				Rate:     d.Rate,
				Dividend: d.Dividend,
				Style:    pricing.ExerciseStyle(d.Style),
			})
			if err != nil {
				return err
			}

			logger.Debugf("%d of %d quotes solved", len(res.Converged()), len(res.Rows))
			var unsolved error
			if strict {
				unsolved = res.RequireConverged()
			}
			if convergedOnly {
				res.Rows = res.Converged()
			}
			if err := report.PrintChain(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if unsolved != nil {
				return unsolved
			}
			if !a.writeOut {
				return nil
			}
			if err := a.writeReport("chain", res); err != nil {
				return err
			}
			path, err := report.WriteChainCSV(res.Rows, a.cfg.ReportDir)
			if err != nil {
				return err
			}
			logger.Infof("wrote %s", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&expiry, "expiry", "", "expiry date YYYY-MM-DD (default nearest listed)")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any quote has no implied volatility")
	cmd.Flags().BoolVar(&convergedOnly, "converged-only", false, "drop quotes without an implied volatility")
	cmd.Flags().StringVar(&match, "match", string(data.MatchNearest), "how --expiry maps to a listed date: exact, lower, higher or nearest")
	return cmd
}
