package fluxmodel

import "math"

// ConstraintScale multiplies constraint violations before they are added to
// the log density. Tunable; not physically derived.
const ConstraintScale = 1000.0

// ExtraSigmaCeiling is the largest extra scatter (10^-0.8) tolerated for
// non-reference bands before the penalty applies. Tunable; not physically
// derived.
var ExtraSigmaCeiling = math.Pow(10, -0.8)

// Constraint returns zero when the plateau stays positive through the knee and
// the exponential decline is at least as steep as the plateau slope there,
// i.e. beta*(gamma+tau_fall) <= 1. Violations grow linearly. tauRise does not
// enter the condition.
func Constraint(beta, gamma, tauRise, tauFall float64) float64 {
	return math.Max(0, beta*(gamma+tauFall)-1)
}

// Penalty is the additive log-density penalty for one band. Non-reference
// bands are also penalised for extra scatter above ExtraSigmaCeiling.
func Penalty(p Params, reference bool) float64 {
	pen := -ConstraintScale * Constraint(p.Beta, p.Gamma, p.TauRise, p.TauFall)
	if !reference {
		pen -= ConstraintScale * math.Max(p.ExtraSigma-ExtraSigmaCeiling, 0)
	}
	return pen
}

// penaltyGrad adds the gradient of Penalty with respect to the native
// parameters to grad.
func penaltyGrad(p Params, reference bool, grad *[NumParams]float64) {
	if p.Beta*(p.Gamma+p.TauFall)-1 > 0 {
		grad[1] -= ConstraintScale * (p.Gamma + p.TauFall)
		grad[2] -= ConstraintScale * p.Beta
		grad[5] -= ConstraintScale * p.Beta
	}
	if !reference && p.ExtraSigma-ExtraSigmaCeiling > 0 {
		grad[6] -= ConstraintScale
	}
}
