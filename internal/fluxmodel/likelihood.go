package fluxmodel

import "math"

var halfLog2Pi = 0.5 * math.Log(2*math.Pi)

// BandLogDensity returns the Gaussian log-likelihood of one band's
// observations plus that band's constraint penalty. When grad is non-nil the
// derivatives with respect to the native parameters (canonical order) are
// added to it. Non-positive timescales give -Inf.
func BandLogDensity(p Params, reference bool, t, fluxErr, flux []float64, grad *[NumParams]float64) float64 {
	if !(p.TauRise > 0) || !(p.TauFall > 0) {
		return math.Inf(-1)
	}

	es2 := p.ExtraSigma * p.ExtraSigma
	var ll float64
	var g [NumParams]float64
	for i, ti := range t {
		phase := ti - p.T0
		sg := sigmoid(phase / p.TauRise)
		rise := p.Amp * sg

		var d, dDdBeta, dDdGamma, dDdT0, dDdTauFall float64
		if p.Gamma-phase >= 0 {
			d = 1 - p.Beta*phase
			dDdBeta = -phase
			dDdT0 = p.Beta
		} else {
			e := math.Exp(-(phase - p.Gamma) / p.TauFall)
			k := 1 - p.Beta*p.Gamma
			d = k * e
			dDdBeta = -p.Gamma * e
			dDdGamma = -p.Beta*e + k*e/p.TauFall
			dDdT0 = k * e / p.TauFall
			dDdTauFall = k * e * (phase - p.Gamma) / (p.TauFall * p.TauFall)
		}
		f := rise * d

		s2 := fluxErr[i]*fluxErr[i] + es2
		r := flux[i] - f
		ll += -0.5*r*r/s2 - 0.5*math.Log(s2) - halfLog2Pi

		if grad == nil {
			continue
		}
		dldf := r / s2
		sgp := sg * (1 - sg)
		dRdT0 := -p.Amp * sgp / p.TauRise
		dRdTauRise := -p.Amp * sgp * phase / (p.TauRise * p.TauRise)

		g[0] += dldf * sg * d
		g[1] += dldf * rise * dDdBeta
		g[2] += dldf * rise * dDdGamma
		g[3] += dldf * (dRdT0*d + rise*dDdT0)
		g[4] += dldf * dRdTauRise * d
		g[5] += dldf * rise * dDdTauFall
		g[6] += (r*r/(s2*s2) - 1/s2) * p.ExtraSigma
	}

	ll += Penalty(p, reference)
	if grad != nil {
		penaltyGrad(p, reference, &g)
		for k := range g {
			grad[k] += g[k]
		}
	}
	return ll
}
