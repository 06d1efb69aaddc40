package priors

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorFieldsValidate(t *testing.T) {
	tests := []struct {
		name    string
		fields  PriorFields
		wantErr bool
	}{
		{"bounded", PriorFields{Low: -1, High: 1, Mean: 0, Std: 1}, false},
		{"unbounded", PriorFields{Low: math.Inf(-1), High: math.Inf(1), Mean: 0, Std: 1}, false},
		{"zero_std", PriorFields{Low: -1, High: 1, Mean: 0, Std: 0}, true},
		{"inverted_bounds", PriorFields{Low: 1, High: -1, Mean: 0, Std: 1}, true},
		{"nan_mean", PriorFields{Low: -1, High: 1, Mean: math.NaN(), Std: 1}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fields.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPrior) {
					t.Errorf("Validate() = %v, want ErrInvalidPrior", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestZTFSchema(t *testing.T) {
	p := ZTF()
	assert.Equal(t, "r", p.ReferenceBand())
	assert.Equal(t, []string{"r", "g"}, p.Bands())

	s := p.Schema()
	require.Equal(t, 14, s.Len())
	want := []string{
		"A", "beta", "gamma", "t0", "tau_rise", "tau_fall", "extra_sigma",
		"A_g", "beta_g", "gamma_g", "t0_g", "tau_rise_g", "tau_fall_g", "extra_sigma_g",
	}
	if diff := cmp.Diff(want, s.Names()); diff != "" {
		t.Errorf("schema names mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 9, s.Offset(1, Gamma))
	bi, ok := s.BandIndex("g")
	assert.True(t, ok)
	assert.Equal(t, 1, bi)
}

func TestReferenceBandMovedFirst(t *testing.T) {
	ref := ZTF()
	r, _ := ref.Band("r")
	g, _ := ref.Band("g")
	mp, err := NewMultibandPriors("r", []BandPriors{{Band: "g", Priors: g}, {Band: "r", Priors: r}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r", "g"}, mp.Bands())
}

func TestNewMultibandPriorsErrors(t *testing.T) {
	r, _ := ZTF().Band("r")

	_, err := NewMultibandPriors("i", []BandPriors{{Band: "r", Priors: r}})
	assert.ErrorIs(t, err, ErrNoReferenceBand)

	_, err = NewMultibandPriors("r", []BandPriors{{Band: "r", Priors: r}, {Band: "r", Priors: r}})
	assert.ErrorIs(t, err, ErrDuplicateBand)

	bad := r
	bad[TauFall].Std = -1
	_, err = NewMultibandPriors("r", []BandPriors{{Band: "r", Priors: bad}})
	assert.ErrorIs(t, err, ErrInvalidPrior)
}

func TestQuantityLogScaled(t *testing.T) {
	for _, q := range Quantities() {
		want := q != Beta && q != T0
		if q.LogScaled() != want {
			t.Errorf("%s.LogScaled() = %v, want %v", q, q.LogScaled(), want)
		}
	}
}

func TestLoadTableJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "priors.json")
	jsonData := `{
  "reference_band": "r",
  "bands": [
    {"band": "r", "priors": {
      "amp": {"low": 1, "high": 6, "mean": 3, "std": 1},
      "beta": {"low": 0, "high": 0.03, "mean": 0.005, "std": 0.003},
      "gamma": {"low": -2, "high": 2.5, "mean": 1.1, "std": 0.4},
      "t0": {"mean": -5, "std": 10},
      "tau_rise": {"low": -1, "high": 1.5, "mean": 0.5, "std": 0.5},
      "tau_fall": {"low": 0.5, "high": 3, "mean": 1.4, "std": 0.3},
      "extra_sigma": {"low": -5, "high": -0.5, "mean": -1.6, "std": 0.3}
    }}
  ]
}`
	require.NoError(t, os.WriteFile(jsonPath, []byte(jsonData), 0644))

	mp, err := LoadTable(jsonPath)
	require.NoError(t, err)
	r, ok := mp.Band("r")
	require.True(t, ok)
	assert.True(t, math.IsInf(r[T0].Low, -1))
	assert.True(t, math.IsInf(r[T0].High, 1))
	assert.Equal(t, 0.03, r[Beta].High)

	yamlPath := filepath.Join(dir, "priors.yaml")
	yamlData := `reference_band: r
bands:
  - band: r
    priors:
      amp: {low: 1, high: 6, mean: 3, std: 1}
      beta: {low: 0, high: 0.03, mean: 0.005, std: 0.003}
      gamma: {low: -2, high: 2.5, mean: 1.1, std: 0.4}
      t0: {low: -100, high: 100, mean: -5, std: 10}
      tau_rise: {low: -1, high: 1.5, mean: 0.5, std: 0.5}
      tau_fall: {low: 0.5, high: 3, mean: 1.4, std: 0.3}
      extra_sigma: {low: -5, high: -0.5, mean: -1.6, std: 0.3}
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlData), 0644))
	mp, err = LoadTable(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 7, mp.Schema().Len())
}

func TestLoadTableRejectsExtension(t *testing.T) {
	_, err := LoadTable("priors.txt")
	if err == nil {
		t.Fatal("expected error for .txt prior table")
	}
}

func TestTableRoundTrip(t *testing.T) {
	orig := ZTF()
	rebuilt, err := orig.ToTable().Build()
	require.NoError(t, err)
	for _, b := range orig.Bands() {
		want, _ := orig.Band(b)
		got, _ := rebuilt.Band(b)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("band %s mismatch (-want +got):\n%s", b, diff)
		}
	}
}
