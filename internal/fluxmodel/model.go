// Package fluxmodel evaluates the empirical supernova flux model: a logistic
// rise multiplied by a linear plateau that switches to an exponential decline
// at phase == gamma.
//
//	phase = t - t0
//	rise  = amp / (1 + exp(-phase/tau_rise))
//	flux  = rise * (1 - beta*phase)                              if gamma - phase >= 0
//	flux  = rise * (1 - beta*gamma) * exp(-(phase-gamma)/tau_fall) otherwise
//
// The switch is a hard one. Smoothing it would change fitted posteriors.
package fluxmodel

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidTimescale is returned when tau_rise or tau_fall is not positive.
var ErrInvalidTimescale = errors.New("fluxmodel: timescales must be positive")

// NumParams is the number of parameters of one band.
const NumParams = 7

// Params holds the model parameters of one band in native (linear) units.
type Params struct {
	Amp        float64
	Beta       float64
	Gamma      float64
	T0         float64
	TauRise    float64
	TauFall    float64
	ExtraSigma float64
}

// FromVector builds Params from a 7-element slice in canonical order.
func FromVector(v []float64) Params {
	return Params{
		Amp:        v[0],
		Beta:       v[1],
		Gamma:      v[2],
		T0:         v[3],
		TauRise:    v[4],
		TauFall:    v[5],
		ExtraSigma: v[6],
	}
}

// Vector returns the parameters in canonical order.
func (p Params) Vector() [NumParams]float64 {
	return [NumParams]float64{p.Amp, p.Beta, p.Gamma, p.T0, p.TauRise, p.TauFall, p.ExtraSigma}
}

// Validate rejects non-positive or non-finite timescales.
func (p Params) Validate() error {
	if !(p.TauRise > 0) || !(p.TauFall > 0) || math.IsInf(p.TauRise, 0) || math.IsInf(p.TauFall, 0) {
		return fmt.Errorf("%w: tau_rise=%g tau_fall=%g", ErrInvalidTimescale, p.TauRise, p.TauFall)
	}
	return nil
}

// Combine applies a non-reference band offset to reference parameters.
// Amplitude, gamma, timescales and extra sigma are ratios; beta and t0 are
// additive shifts. Offsets are given in native units (ratios, not log ratios).
func Combine(ref, offset Params) Params {
	return Params{
		Amp:        ref.Amp * offset.Amp,
		Beta:       ref.Beta + offset.Beta,
		Gamma:      ref.Gamma * offset.Gamma,
		T0:         ref.T0 + offset.T0,
		TauRise:    ref.TauRise * offset.TauRise,
		TauFall:    ref.TauFall * offset.TauFall,
		ExtraSigma: ref.ExtraSigma * offset.ExtraSigma,
	}
}

// sigmoid is 1/(1+exp(-x)) evaluated without overflow.
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// FluxAt evaluates the model at a single time. It does not validate p.
func FluxAt(t float64, p Params) float64 {
	phase := t - p.T0
	rise := p.Amp * sigmoid(phase/p.TauRise)
	if p.Gamma-phase >= 0 {
		return rise * (1 - p.Beta*phase)
	}
	return rise * (1 - p.Beta*p.Gamma) * math.Exp(-(phase-p.Gamma)/p.TauFall)
}

// Flux evaluates the model at every time in t.
func Flux(t []float64, p Params) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := make([]float64, len(t))
	for i, ti := range t {
		out[i] = FluxAt(ti, p)
	}
	return out, nil
}

// SigmaTotal combines measurement errors in quadrature with the fitted extra
// scatter term.
func SigmaTotal(fluxErr []float64, extraSigma float64) []float64 {
	out := make([]float64, len(fluxErr))
	es2 := extraSigma * extraSigma
	for i, e := range fluxErr {
		out[i] = math.Sqrt(e*e + es2)
	}
	return out
}
