package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/superphot/internal/priors"
	"github.com/banshee-data/superphot/internal/sampler"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultFitConfig(t *testing.T) {
	cfg := DefaultFitConfig()
	assert.Equal(t, "dynesty", cfg.Method)
	assert.Equal(t, 1000, cfg.NumWarmup)
	assert.Equal(t, 75, cfg.NumSamples)
	assert.Equal(t, 4, cfg.NumChains)
	assert.Equal(t, 10000, cfg.NumIter)
	assert.Equal(t, 0.001, cfg.StepSize)
	assert.Equal(t, 100, cfg.NumOutput)
	assert.Equal(t, 500, cfg.NumLive)
	assert.Equal(t, 0.5, cfg.DLogZ)
	assert.Equal(t, 0.8, cfg.TargetAccept)
	assert.Equal(t, 0, cfg.PadSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFitConfig(t *testing.T) {
	path := writeConfig(t, "fit.json", `{
  "method": "svi",
  "seed": 7,
  "num_iter": 2500,
  "num_output": 300,
  "max_runtime": "90s",
  "pad_size": 40,
  "time_ceiling": 60,
  "clip_tail": true
}`)
	cfg, err := LoadFitConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "svi", cfg.Method)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 2500, cfg.NumIter)
	assert.Equal(t, 300, cfg.NumOutput)
	assert.Equal(t, 40, cfg.PadSize)
	require.NotNil(t, cfg.TimeCeiling)
	assert.Equal(t, 60.0, *cfg.TimeCeiling)
	assert.True(t, cfg.ClipTail)

	// Omitted fields keep their defaults.
	assert.Equal(t, 1000, cfg.NumWarmup)
	assert.Equal(t, 0.001, cfg.StepSize)

	opts := cfg.SamplerOptions()
	assert.Equal(t, 90*time.Second, opts.MaxRuntime)
	assert.Equal(t, uint64(7), opts.Seed)
	assert.Equal(t, 2500, opts.NumIter)

	s, err := cfg.NewSampler(mustPriors(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, sampler.MethodSVI, s.Method())
}

func TestLoadFitConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "fit.yaml", `{}`, ".json extension"},
		{"syntax", "fit.json", `{"method":`, "parse config JSON"},
		{"unknown_field", "fit.json", `{"num_walkers": 3}`, "parse config JSON"},
		{"unknown_method", "fit.json", `{"method": "emcee"}`, "Method must be one of"},
		{"target_accept", "fit.json", `{"target_accept": 1.5}`, "TargetAccept must be less than 1"},
		{"negative_pad", "fit.json", `{"pad_size": -1}`, "PadSize must be greater than or equal to 0"},
		{"runtime", "fit.json", `{"max_runtime": "soon"}`, "invalid max_runtime"},
		{"negative_warmup", "fit.json", `{"num_warmup": -5}`, "NumWarmup must be greater than or equal to 1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFitConfig(writeConfig(t, tc.file, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadFitConfigTooLarge(t *testing.T) {
	body := `{"method": "svi", "prior_table": "` + strings.Repeat("x", maxFileSize) + `"}`
	_, err := LoadFitConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadFitConfigMissing(t *testing.T) {
	_, err := LoadFitConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestPriorsDefaultsToZTF(t *testing.T) {
	mp, err := DefaultFitConfig().Priors()
	require.NoError(t, err)
	assert.Equal(t, "r", mp.ReferenceBand())

	cfg := DefaultFitConfig()
	cfg.PriorTable = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.Priors()
	assert.Error(t, err)
}

func TestPriorsReferenceBand(t *testing.T) {
	cfg := DefaultFitConfig()
	cfg.ReferenceBand = "r"
	mp := mustPriors(t, cfg)
	assert.Equal(t, "r", cfg.LoadOptions(mp).ReferenceBand)

	cfg.ReferenceBand = "g"
	_, err := cfg.Priors()
	assert.ErrorIs(t, err, ErrReferenceBand)
}

func TestLoadOptions(t *testing.T) {
	path := writeConfig(t, "fit.json", `{"time_ceiling": 60, "reference_band": "r"}`)
	cfg, err := LoadFitConfig(path)
	require.NoError(t, err)

	opts := cfg.LoadOptions(mustPriors(t, cfg))
	require.NotNil(t, opts.TimeCeiling)
	assert.Equal(t, 60.0, *opts.TimeCeiling)
	assert.Equal(t, "r", opts.ReferenceBand)
}

func TestWarmupRuleMatchesSampler(t *testing.T) {
	// Zero takes the default in both layers; negative fails in both.
	cfg := DefaultFitConfig()
	cfg.Method = "NUTS"
	cfg.NumWarmup = -1
	assert.Error(t, cfg.Validate())
	_, err := cfg.NewSampler(priors.ZTF())
	assert.Error(t, err)

	cfg.NumWarmup = 0
	_, err = cfg.NewSampler(priors.ZTF())
	assert.NoError(t, err)
}

func mustPriors(t *testing.T, cfg *FitConfig) *priors.MultibandPriors {
	t.Helper()
	mp, err := cfg.Priors()
	require.NoError(t, err)
	return mp
}
