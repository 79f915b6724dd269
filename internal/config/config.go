// Package config loads option-lab settings. Values are layered: built-in
// defaults, then an optional config file (yaml, json or toml), then
// OPTLAB_* environment variables such as OPTLAB_SERVER_ADDR.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/contactkeval/option-lab/internal/pricing"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "OPTLAB"

// Config is the full application configuration.
type Config struct {
	Defaults  Defaults             `mapstructure:"defaults"`
	Lattice   LatticeConfig        `mapstructure:"lattice"`
	Greeks    pricing.Bumps        `mapstructure:"greeks"`
	Solver    pricing.SolverConfig `mapstructure:"solver"`
	Surface   SurfaceConfig        `mapstructure:"surface"`
	Data      DataConfig           `mapstructure:"data"`
	Server    ServerConfig         `mapstructure:"server"`
	Log       LogConfig            `mapstructure:"log"`
	ReportDir string               `mapstructure:"report_dir" validate:"required"`
}

// Defaults are the option parameters used when a request or flag leaves
// one out.
type Defaults struct {
	Spot     float64 `mapstructure:"spot"     validate:"gt=0"`
	Strike   float64 `mapstructure:"strike"   validate:"gt=0"`
	Expiry   float64 `mapstructure:"expiry"   validate:"gte=0"`
	Rate     float64 `mapstructure:"rate"`
	Vol      float64 `mapstructure:"vol"      validate:"gte=0"`
	Dividend float64 `mapstructure:"dividend" validate:"gte=0"`
	Kind     string  `mapstructure:"kind"     validate:"oneof=call put"`
	Style    string  `mapstructure:"style"    validate:"oneof=european american"`
	Model    string  `mapstructure:"model"    validate:"oneof=bs binomial"`
}

// Spec turns the defaults into an engine spec.
func (d Defaults) Spec() pricing.OptionSpec {
	return pricing.OptionSpec{
		Spot:     d.Spot,
		Strike:   d.Strike,
		Expiry:   d.Expiry,
		Rate:     d.Rate,
		Vol:      d.Vol,
		Dividend: d.Dividend,
		Kind:     pricing.OptionKind(d.Kind),
		Style:    pricing.ExerciseStyle(d.Style),
	}
}

type LatticeConfig struct {
	Steps int `mapstructure:"steps" validate:"gte=1,lte=100000"`
}

type SurfaceConfig struct {
	Workers int `mapstructure:"workers" validate:"gte=1"`
	Points  int `mapstructure:"points"  validate:"gte=2,lte=500"`
}

// DataConfig selects the market-data provider.
type DataConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=synthetic csv massive"`
	Dir      string `mapstructure:"dir"      validate:"required_if=Provider csv"`
	APIKey   string `mapstructure:"api_key"  validate:"required_if=Provider massive"`
	BaseURL  string `mapstructure:"base_url" validate:"omitempty,url"`
	Seed     int64  `mapstructure:"seed"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type LogConfig struct {
	Verbosity int  `mapstructure:"verbosity" validate:"gte=0,lte=3"`
	JSON      bool `mapstructure:"json"`
}

// SetDefaults registers every default on v so that environment
// overrides work for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("defaults.spot", 100.0)
	v.SetDefault("defaults.strike", 100.0)
	v.SetDefault("defaults.expiry", 1.0)
	v.SetDefault("defaults.rate", 0.05)
	v.SetDefault("defaults.vol", 0.20)
	v.SetDefault("defaults.dividend", 0.0)
	v.SetDefault("defaults.kind", string(pricing.Call))
	v.SetDefault("defaults.style", string(pricing.European))
	v.SetDefault("defaults.model", "bs")

	v.SetDefault("lattice.steps", 200)

	v.SetDefault("greeks.spot", pricing.DefaultBumps.Spot)
	v.SetDefault("greeks.vol", pricing.DefaultBumps.Vol)
	v.SetDefault("greeks.time", pricing.DefaultBumps.Time)
	v.SetDefault("greeks.rate", pricing.DefaultBumps.Rate)

	v.SetDefault("solver.lower", pricing.DefaultSolverConfig.Lower)
	v.SetDefault("solver.upper", pricing.DefaultSolverConfig.Upper)
	v.SetDefault("solver.tolerance", pricing.DefaultSolverConfig.Tolerance)
	v.SetDefault("solver.vol_tolerance", pricing.DefaultSolverConfig.VolTolerance)
	v.SetDefault("solver.max_iterations", pricing.DefaultSolverConfig.MaxIterations)

	v.SetDefault("surface.workers", runtime.GOMAXPROCS(0))
	v.SetDefault("surface.points", 25)

	v.SetDefault("data.provider", "synthetic")
	v.SetDefault("data.dir", "")
	v.SetDefault("data.api_key", "")
	v.SetDefault("data.base_url", "")
	v.SetDefault("data.seed", 1)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.verbosity", 1)
	v.SetDefault("log.json", false)
	v.SetDefault("report_dir", "./out")
}

// NewViper returns a viper instance with every default registered and
// OPTLAB_* environment overrides enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges the config file at path into v; the format follows
// the extension.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		if err := ReadFile(v, path); err != nil {
			return nil, err
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates an already populated viper instance.
// The CLI uses it after binding flags.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct tag validation plus the engine's own checks on
// the default spec, bumps and solver bounds.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config validation failed: %s: %w", verrs[0].Namespace(), err)
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := c.Defaults.Spec().Validate(); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	if err := c.Greeks.Validate(); err != nil {
		return fmt.Errorf("config greeks: %w", err)
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("config solver: %w", err)
	}
	return nil
}

// Pricer returns the engine pricer named by Defaults.Model.
func (c *Config) Pricer() pricing.Pricer {
	return PricerFor(c.Defaults.Model, c.Lattice.Steps)
}

// PricerFor maps a model name to a pricer; anything other than
// "binomial" is the closed form.
func PricerFor(model string, steps int) pricing.Pricer {
	if model == "binomial" {
		return pricing.Binomial{Steps: steps}
	}
	return pricing.BlackScholes{}
}
