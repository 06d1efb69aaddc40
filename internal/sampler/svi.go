package sampler

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/superphot/internal/priors"
)

// MethodSVI is the method tag of SVISampler.
const MethodSVI = "svi"

// Initial guide widths in z space. The plateau slope lives on a much smaller
// scale than the other quantities.
const (
	sviInitScale     = 1e-3
	sviInitScaleBeta = 1e-5
)

// SVISampler fits a mean-field Normal guide in u space by Adam ascent on a
// single-sample reparameterized ELBO estimate, then draws NumOutput samples
// from it.
//
// The guide and optimizer state stay on the instance: a second Fit resumes
// from where the first stopped instead of restarting. The random stream also
// continues, so a refit is reproducible only as part of the same sequence.
type SVISampler struct {
	base
	rng   *rand.Rand
	guide *sviGuide
}

// sviGuide holds guide parameters as one vector: means then log-scales.
type sviGuide struct {
	dim    int
	params []float64
	opt    *adam
}

// NewSVI returns an SVI sampler for mp.
func NewSVI(mp *priors.MultibandPriors, opts Options) (*SVISampler, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &SVISampler{rng: rand.New(rand.NewPCG(opts.Seed, 0))}
	s.base = newBase(mp, opts, MethodSVI, s)
	return s, nil
}

// Iterations returns the number of optimizer steps taken so far across all
// fits.
func (s *SVISampler) Iterations() int {
	if s.guide == nil {
		return 0
	}
	return s.guide.opt.step
}

// GuideMean returns the current guide means in u space, or nil before the
// first fit.
func (s *SVISampler) GuideMean() []float64 {
	if s.guide == nil {
		return nil
	}
	return append([]float64(nil), s.guide.params[:s.guide.dim]...)
}

func (s *SVISampler) initGuide(t *target) *sviGuide {
	g := &sviGuide{dim: t.dim, params: make([]float64, 2*t.dim), opt: newAdam(2*t.dim, s.opts.StepSize)}
	mu := g.params[:t.dim]
	t.fromZ(t.priorMeanZ(), mu)
	for i := range mu {
		width := sviInitScale
		if q := t.schema.Param(i).Quantity; q == priors.Beta {
			width = sviInitScaleBeta
		}
		_, dzdu, _, _ := t.tr[i].forward(mu[i])
		sd := 1.0
		if a := math.Abs(dzdu); a > 0 {
			sd = math.Min(width/a, 1)
		}
		g.params[t.dim+i] = math.Log(sd)
	}
	return g
}

func (s *SVISampler) sample(t *target) (*mat.Dense, error) {
	if s.guide == nil || s.guide.dim != t.dim {
		s.guide = s.initGuide(t)
	}
	g := s.guide
	dim := g.dim
	mu, rho := g.params[:dim], g.params[dim:]

	var deadline time.Time
	if s.opts.MaxRuntime > 0 {
		deadline = time.Now().Add(s.opts.MaxRuntime)
	}

	u := make([]float64, dim)
	eps := make([]float64, dim)
	sd := make([]float64, dim)
	grad := make([]float64, dim)
	step := make([]float64, 2*dim)
	skipped := 0
	for it := 0; it < s.opts.NumIter; it++ {
		if !deadline.IsZero() && it%256 == 0 && it > 0 && time.Now().After(deadline) {
			opsf("svi: runtime cap reached after %d iterations", it)
			break
		}
		for i := range u {
			eps[i] = s.rng.NormFloat64()
			sd[i] = math.Exp(rho[i])
			u[i] = mu[i] + sd[i]*eps[i]
		}
		lp := t.logDensity(u, grad)
		if math.IsInf(lp, -1) {
			skipped++
			continue
		}
		// ELBO = E[log p(u)] + Σ rho + const.
		for i := range grad {
			step[i] = grad[i]
			step[dim+i] = grad[i]*eps[i]*sd[i] + 1
		}
		g.opt.ascend(g.params, step)
		for i := range rho {
			rho[i] = math.Min(math.Max(rho[i], -30), 3)
		}
		if it%1000 == 0 {
			var ent float64
			for _, r := range rho {
				ent += r
			}
			tracef("svi iter %d: elbo~%.3f", g.opt.step, lp+ent)
		}
	}
	if skipped > 0 {
		diagf("svi: skipped %d non-finite steps", skipped)
	}

	out := mat.NewDense(s.opts.NumOutput, dim, nil)
	for r := 0; r < s.opts.NumOutput; r++ {
		for i := range u {
			u[i] = mu[i] + math.Exp(rho[i])*s.rng.NormFloat64()
		}
		t.uToNative(u, out.RawRowView(r))
	}
	return out, nil
}
