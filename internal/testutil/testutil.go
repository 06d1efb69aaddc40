// Package testutil provides shared test utilities and fixtures.
//
// Synthetic light curves are drawn from the flux model itself so fitting tests
// can check recovery of known parameters.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/superphot/internal/fluxmodel"
)

// AssertRelClose fails the test if got and want differ by more than tol
// relative to |want|, or absolutely when want is zero.
func AssertRelClose(t testing.TB, name string, got, want, tol float64) {
	t.Helper()
	scale := math.Abs(want)
	if scale == 0 {
		scale = 1
	}
	if math.Abs(got-want) > tol*scale || math.IsNaN(got) {
		t.Errorf("%s = %g, want %g (rel tol %g)", name, got, want, tol)
	}
}

// Curve is a light curve as parallel slices, rows grouped by band in the
// order the bands were requested.
type Curve struct {
	Time    []float64
	Band    []string
	FluxErr []float64
	Flux    []float64
}

// Len returns the number of rows.
func (c Curve) Len() int { return len(c.Time) }

// ReferenceParams is a supernova-like reference-band parameter set centred on
// the default ZTF priors.
func ReferenceParams() fluxmodel.Params {
	return fluxmodel.Params{
		Amp:        1000,
		Beta:       0.005,
		Gamma:      14,
		T0:         -5,
		TauRise:    3,
		TauFall:    25,
		ExtraSigma: 0.025,
	}
}

// Times returns n evenly spaced epochs in [start, end].
func Times(start, end float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + (end-start)*float64(i)/float64(n-1)
	}
	return out
}

// SyntheticCurve evaluates params per band at times and adds Gaussian noise
// of standard deviation fluxErr. The noise stream is fixed by seed.
func SyntheticCurve(seed uint64, bands []string, params []fluxmodel.Params, times []float64, fluxErr float64) Curve {
	rng := rand.New(rand.NewPCG(seed, 0))
	var c Curve
	for bi, b := range bands {
		for _, ti := range times {
			c.Time = append(c.Time, ti)
			c.Band = append(c.Band, b)
			c.FluxErr = append(c.FluxErr, fluxErr)
			c.Flux = append(c.Flux, fluxmodel.FluxAt(ti, params[bi])+fluxErr*rng.NormFloat64())
		}
	}
	return c
}

// TwoBandCurve is the standard r/g fixture: g is 10% fainter and peaks a day
// later than r, 33 epochs per band with flux error 15.
func TwoBandCurve(seed uint64) (Curve, fluxmodel.Params, fluxmodel.Params) {
	r := ReferenceParams()
	g := fluxmodel.Combine(r, fluxmodel.Params{
		Amp: 0.9, Beta: 0, Gamma: 1, T0: 1, TauRise: 1, TauFall: 1, ExtraSigma: 1,
	})
	return SyntheticCurve(seed, []string{"r", "g"}, []fluxmodel.Params{r, g}, Times(-30, 98, 33), 15), r, g
}
