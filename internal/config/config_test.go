package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/option-lab/internal/pricing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100.0, cfg.Defaults.Spot)
	assert.Equal(t, 0.05, cfg.Defaults.Rate)
	assert.Equal(t, "call", cfg.Defaults.Kind)
	assert.Equal(t, 200, cfg.Lattice.Steps)
	assert.Equal(t, pricing.DefaultBumps, cfg.Greeks)
	assert.Equal(t, pricing.DefaultSolverConfig, cfg.Solver)
	assert.Equal(t, "synthetic", cfg.Data.Provider)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1, cfg.Log.Verbosity)
	assert.Equal(t, "./out", cfg.ReportDir)
	assert.GreaterOrEqual(t, cfg.Surface.Workers, 1)

	assert.Equal(t, pricing.BlackScholes{}, cfg.Pricer())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "optlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  spot: 250
  style: american
  model: binomial
lattice:
  steps: 400
solver:
  tolerance: 1e-8
server:
  addr: ":9000"
`), 0o644))

	t.Setenv("OPTLAB_SERVER_ADDR", ":9100")
	t.Setenv("OPTLAB_LOG_VERBOSITY", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250.0, cfg.Defaults.Spot)
	assert.Equal(t, 100.0, cfg.Defaults.Strike, "unset keys keep defaults")
	assert.Equal(t, 400, cfg.Lattice.Steps)
	assert.Equal(t, 1e-8, cfg.Solver.Tolerance)
	assert.Equal(t, 5.0, cfg.Solver.Upper)
	assert.Equal(t, ":9100", cfg.Server.Addr, "environment beats file")
	assert.Equal(t, 3, cfg.Log.Verbosity)
	assert.Equal(t, pricing.Binomial{Steps: 400}, cfg.Pricer())
	assert.Equal(t, pricing.American, cfg.Defaults.Spec().Style)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"OPTLAB_LATTICE_STEPS":     "0",
		"OPTLAB_DEFAULTS_KIND":     "straddle",
		"OPTLAB_DEFAULTS_SPOT":     "-5",
		"OPTLAB_LOG_VERBOSITY":     "7",
		"OPTLAB_GREEKS_SPOT":       "0",
		"OPTLAB_SOLVER_UPPER":      "0.00001",
		"OPTLAB_DATA_PROVIDER":     "bloomberg",
		"OPTLAB_DATA_BASE_URL":     "not a url",
		"OPTLAB_SURFACE_POINTS":    "1",
		"OPTLAB_DEFAULTS_DIVIDEND": "-0.1",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestProviderSpecificRequirements(t *testing.T) {
	t.Setenv("OPTLAB_DATA_PROVIDER", "csv")
	_, err := Load("")
	assert.Error(t, err, "csv provider needs a directory")

	t.Setenv("OPTLAB_DATA_DIR", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "csv", cfg.Data.Provider)

	t.Setenv("OPTLAB_DATA_PROVIDER", "massive")
	_, err = Load("")
	assert.Error(t, err, "massive provider needs an api key")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestPricerFor(t *testing.T) {
	assert.Equal(t, pricing.Binomial{Steps: 50}, PricerFor("binomial", 50))
	assert.Equal(t, pricing.BlackScholes{}, PricerFor("bs", 50))
}
