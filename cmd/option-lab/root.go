package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/contactkeval/option-lab/internal/config"
	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
)

// app is the state shared by every command once the root has loaded
// configuration.
type app struct {
	v          *viper.Viper
	cfg        *config.Config
	configPath string
	writeOut   bool
}

// optionFlags map CLI flags onto config keys. They override the file
// and the environment only when given.
var optionFlags = []struct {
	name, key, usage string
}{
	{"spot", "defaults.spot", "underlying price S"},
	{"strike", "defaults.strike", "strike K"},
	{"expiry", "defaults.expiry", "time to expiry in years"},
	{"rate", "defaults.rate", "continuously compounded risk-free rate"},
	{"vol", "defaults.vol", "annualised volatility"},
	{"dividend", "defaults.dividend", "continuous dividend yield"},
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "option-lab",
		Short:         "Vanilla option pricing, Greeks and implied volatility",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (yaml, json or toml)")
	pf.IntP("verbosity", "v", int(logger.Info), "log verbosity 0..3")
	for _, f := range optionFlags {
		pf.Float64(f.name, 0, f.usage+" (default from config)")
	}
	pf.String("kind", "", "call or put")
	pf.String("style", "", "european or american")
	pf.String("model", "", "bs or binomial")
	pf.Int("steps", 0, "lattice steps")
	pf.BoolVar(&a.writeOut, "out", false, "write reports to the report directory")
	pf.String("report-dir", "", "report directory")

	root.AddCommand(
		newPriceCmd(a),
		newGreeksCmd(a),
		newStrikeCmd(a),
		newIVCmd(a),
		newTreeCmd(a),
		newSurfaceCmd(a),
		newChainCmd(a),
		newServeCmd(a),
	)
	return root
}

// load resolves configuration: defaults, then the optional file, then
// OPTLAB_* variables (a .env file included), then flags.
func (a *app) load(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	v := config.NewViper()
	if a.configPath != "" {
		if err := config.ReadFile(v, a.configPath); err != nil {
			return err
		}
	}

	binds := map[string]string{
		"verbosity":  "log.verbosity",
		"kind":       "defaults.kind",
		"style":      "defaults.style",
		"model":      "defaults.model",
		"steps":      "lattice.steps",
		"report-dir": "report_dir",
	}
	for _, f := range optionFlags {
		binds[f.name] = f.key
	}
	// Look the flags up on the root: a subcommand may shadow one with a
	// local flag of its own, such as chain --expiry.
	pf := cmd.Root().PersistentFlags()
	for name, key := range binds {
		if fl := pf.Lookup(name); fl != nil && fl.Changed {
			if err := v.BindPFlag(key, fl); err != nil {
				return err
			}
		}
	}
	// normalise short forms such as "p" or "a" before validation
	if k := v.GetString("defaults.kind"); k != "" {
		if kind, err := pricing.ParseKind(k); err == nil {
			v.Set("defaults.kind", string(kind))
		}
	}
	if s := v.GetString("defaults.style"); s != "" {
		if style, err := pricing.ParseStyle(s); err == nil {
			v.Set("defaults.style", string(style))
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	logger.SetVerbosity(cfg.Log.Verbosity)
	logger.SetJSON(cfg.Log.JSON)
	a.v, a.cfg = v, cfg
	return nil
}

func (a *app) spec() pricing.OptionSpec { return a.cfg.Defaults.Spec() }

func (a *app) pricer() pricing.Pricer { return a.cfg.Pricer() }
