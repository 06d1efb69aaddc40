package sampler

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/banshee-data/superphot/internal/priors"
)

// MethodMAP is the method tag of MAPSampler.
const MethodMAP = "map"

// mapFloor stands in for -Inf log densities, which the line search cannot
// handle.
const mapFloor = 1e300

// MAPSampler locates the posterior mode in u space with L-BFGS, starting
// from the prior means, and approximates the posterior there by a Normal
// whose covariance is the inverse negative Hessian (finite differences of the
// analytic gradient). When the Hessian is not negative definite it falls back
// to per-coordinate curvatures.
type MAPSampler struct {
	base
}

// NewMAP returns a MAP sampler for mp.
func NewMAP(mp *priors.MultibandPriors, opts Options) (*MAPSampler, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &MAPSampler{}
	s.base = newBase(mp, opts, MethodMAP, s)
	return s, nil
}

func (s *MAPSampler) sample(t *target) (*mat.Dense, error) {
	dim := t.dim
	u0 := make([]float64, dim)
	t.fromZ(t.priorMeanZ(), u0)

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			lp := t.logDensity(u, nil)
			if math.IsInf(lp, -1) {
				return mapFloor
			}
			return -lp
		},
		Grad: func(grad, u []float64) {
			if math.IsInf(t.logDensity(u, grad), -1) {
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			for i := range grad {
				grad[i] = -grad[i]
			}
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   s.opts.NumIter,
		GradientThreshold: 1e-6,
	}
	res, err := optimize.Minimize(problem, u0, settings, &optimize.LBFGS{})
	if res == nil {
		return nil, err
	}
	if err != nil {
		diagf("map: optimizer stopped early: %v (status %v)", err, res.Status)
	}
	mode := res.X
	diagf("map: log density %.3f after %d iterations", -res.F, res.Stats.MajorIterations)

	// Hessian of the log density at the mode.
	hess := mat.NewDense(dim, dim, nil)
	gradAt := func(y, u []float64) {
		t.logDensity(u, y)
	}
	fd.Jacobian(hess, gradAt, mode, &fd.JacobianSettings{Formula: fd.Central, Step: 1e-5})

	rng := rand.New(rand.NewPCG(s.opts.Seed, 1))
	out := mat.NewDense(s.opts.NumOutput, dim, nil)
	u := make([]float64, dim)

	if dist, ok := laplaceNormal(hess, mode, rand.NewPCG(s.opts.Seed, 2)); ok {
		for r := 0; r < s.opts.NumOutput; r++ {
			dist.Rand(u)
			t.uToNative(u, out.RawRowView(r))
		}
		return out, nil
	}

	opsf("map: Hessian not negative definite, using diagonal curvature")
	sd := make([]float64, dim)
	for i := range sd {
		c := -hess.At(i, i)
		sd[i] = 1e-2
		if c > 0 && !math.IsInf(c, 0) {
			sd[i] = 1 / math.Sqrt(c)
		}
	}
	for r := 0; r < s.opts.NumOutput; r++ {
		for i := range u {
			u[i] = mode[i] + sd[i]*rng.NormFloat64()
		}
		t.uToNative(u, out.RawRowView(r))
	}
	return out, nil
}

// laplaceNormal builds N(mode, (-H)^-1) from the symmetrized Hessian.
func laplaceNormal(hess *mat.Dense, mode []float64, src rand.Source) (*distmv.Normal, bool) {
	dim := len(mode)
	prec := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			v := -0.5 * (hess.At(i, j) + hess.At(j, i))
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, false
			}
			prec.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(prec) {
		return nil, false
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, false
	}
	return distmv.NewNormal(mode, &cov, src)
}
