package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/superphot/internal/priors"
)

// MethodNUTS is the method tag of NUTSSampler.
const MethodNUTS = "NUTS"

// Dual-averaging and trajectory constants (Hoffman & Gelman 2014).
const (
	daGamma  = 0.05
	daT0     = 10.0
	daKappa  = 0.75
	deltaMax = 1000.0
)

// Windowed mass-matrix adaptation schedule, in warm-up iterations.
const (
	initBuffer = 75
	termBuffer = 50
	baseWindow = 25
)

var errNoInitialPoint = errors.New("no finite initial point")

// NUTSSampler runs several No-U-Turn chains with step-size and diagonal
// mass-matrix adaptation. Chains run concurrently up to Options.Workers;
// chain c draws from its own stream seeded by (Seed, c), so the pooled draws
// do not depend on the worker count.
type NUTSSampler struct {
	base
}

// NewNUTS returns a NUTS sampler for mp.
func NewNUTS(mp *priors.MultibandPriors, opts Options) (*NUTSSampler, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &NUTSSampler{}
	s.base = newBase(mp, opts, MethodNUTS, s)
	return s, nil
}

func (s *NUTSSampler) sample(t *target) (*mat.Dense, error) {
	o := s.opts
	var deadline time.Time
	if o.MaxRuntime > 0 {
		deadline = time.Now().Add(o.MaxRuntime)
	}

	perChain := make([][][]float64, o.NumChains)
	var g errgroup.Group
	g.SetLimit(o.Workers)
	for c := 0; c < o.NumChains; c++ {
		g.Go(func() error {
			ch := newNUTSChain(t.clone(), rand.New(rand.NewPCG(o.Seed, uint64(c))), o)
			draws, err := ch.run(c, deadline)
			if err != nil {
				return fmt.Errorf("chain %d: %w", c, err)
			}
			perChain[c] = draws
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pooled [][]float64
	for _, d := range perChain {
		pooled = append(pooled, d...)
	}
	if len(pooled) == 0 {
		return nil, ErrNoSamples
	}
	pooled = thin(pooled, o.OutputSamples)

	out := mat.NewDense(len(pooled), t.dim, nil)
	for i, row := range pooled {
		out.SetRow(i, row)
	}
	return out, nil
}

// thin keeps n evenly spaced rows when n > 0 and fewer than len(rows).
func thin(rows [][]float64, n int) [][]float64 {
	if n <= 0 || n >= len(rows) {
		return rows
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = rows[i*len(rows)/n]
	}
	return out
}

// phasePoint is a position in u space with its momentum, gradient and log
// density. Points are never modified once built.
type phasePoint struct {
	u, r, grad []float64
	logp       float64
}

type nutsChain struct {
	t        *target
	rng      *rand.Rand
	dim      int
	maxDepth int
	opts     Options
	invMass  []float64
	scratch  []float64

	// meanLogp is the average u-space log density of the kept draws.
	meanLogp float64
}

func newNUTSChain(t *target, rng *rand.Rand, o Options) *nutsChain {
	c := &nutsChain{
		t:        t,
		rng:      rng,
		dim:      t.dim,
		maxDepth: o.MaxTreeDepth,
		opts:     o,
		invMass:  make([]float64, t.dim),
		scratch:  make([]float64, t.dim),
	}
	floats.AddConst(1, c.invMass)
	return c
}

func (c *nutsChain) newPoint() *phasePoint {
	return &phasePoint{
		u:    make([]float64, c.dim),
		r:    make([]float64, c.dim),
		grad: make([]float64, c.dim),
	}
}

// initJitter is the spread of chain starting points around the prior means
// in u space.
const initJitter = 0.1

// initialPoint starts near the prior means, where every chain shares the
// main mode. If that density is not finite it falls back to uniform draws in
// (-2, 2).
func (c *nutsChain) initialPoint() (*phasePoint, error) {
	p := c.newPoint()
	center := make([]float64, c.dim)
	c.t.fromZ(c.t.priorMeanZ(), center)
	for attempt := 0; attempt < 100; attempt++ {
		for i := range p.u {
			if attempt < 10 && !math.IsInf(center[i], 0) && !math.IsNaN(center[i]) {
				p.u[i] = center[i] + initJitter*c.rng.NormFloat64()
			} else {
				p.u[i] = 4*c.rng.Float64() - 2
			}
		}
		p.logp = c.t.logDensity(p.u, p.grad)
		if !math.IsInf(p.logp, -1) && !math.IsNaN(p.logp) {
			return p, nil
		}
	}
	return nil, errNoInitialPoint
}

func (c *nutsChain) sampleMomentum(r []float64) {
	for i := range r {
		r[i] = c.rng.NormFloat64() / math.Sqrt(c.invMass[i])
	}
}

func (c *nutsChain) kinetic(r []float64) float64 {
	var k float64
	for i, v := range r {
		k += v * v * c.invMass[i]
	}
	return 0.5 * k
}

// leapfrog advances src by one step of size eps into dst.
func (c *nutsChain) leapfrog(dst, src *phasePoint, eps float64) {
	copy(dst.u, src.u)
	copy(dst.r, src.r)
	floats.AddScaled(dst.r, 0.5*eps, src.grad)
	for i := range dst.u {
		dst.u[i] += eps * c.invMass[i] * dst.r[i]
	}
	dst.logp = c.t.logDensity(dst.u, dst.grad)
	if math.IsInf(dst.logp, -1) {
		return
	}
	floats.AddScaled(dst.r, 0.5*eps, dst.grad)
}

func (c *nutsChain) joint(p *phasePoint) float64 {
	j := p.logp - c.kinetic(p.r)
	if math.IsNaN(j) {
		return math.Inf(-1)
	}
	return j
}

// noUTurn reports whether the trajectory between minus and plus is still
// expanding at both ends.
func (c *nutsChain) noUTurn(minus, plus *phasePoint) bool {
	floats.SubTo(c.scratch, plus.u, minus.u)
	var dm, dp float64
	for i, d := range c.scratch {
		dm += d * c.invMass[i] * minus.r[i]
		dp += d * c.invMass[i] * plus.r[i]
	}
	return dm >= 0 && dp >= 0
}

// findStepSize doubles or halves eps until one leapfrog step changes the
// acceptance probability across 1/2.
func (c *nutsChain) findStepSize(p *phasePoint) float64 {
	eps := 1.0
	start := &phasePoint{u: p.u, r: make([]float64, c.dim), grad: p.grad, logp: p.logp}
	c.sampleMomentum(start.r)
	q := c.newPoint()
	joint0 := c.joint(start)

	c.leapfrog(q, start, eps)
	logRatio := c.joint(q) - joint0
	a := -1.0
	if logRatio > -math.Ln2 {
		a = 1
	}
	for i := 0; i < 100 && a*logRatio > -a*math.Ln2; i++ {
		eps *= math.Pow(2, a)
		c.leapfrog(q, start, eps)
		logRatio = c.joint(q) - joint0
	}
	return eps
}

type subtree struct {
	minus, plus, proposal *phasePoint
	n                     int
	ok                    bool
	alpha                 float64
	nAlpha                int
}

func (c *nutsChain) buildTree(p *phasePoint, logu float64, v float64, depth int, eps, joint0 float64) subtree {
	if depth == 0 {
		q := c.newPoint()
		c.leapfrog(q, p, v*eps)
		j := c.joint(q)
		n := 0
		if logu <= j {
			n = 1
		}
		alpha := 0.0
		if !math.IsInf(j, -1) {
			alpha = math.Min(1, math.Exp(j-joint0))
		}
		return subtree{minus: q, plus: q, proposal: q, n: n, ok: logu < j+deltaMax, alpha: alpha, nAlpha: 1}
	}

	st := c.buildTree(p, logu, v, depth-1, eps, joint0)
	if !st.ok {
		return st
	}
	var next subtree
	if v < 0 {
		next = c.buildTree(st.minus, logu, v, depth-1, eps, joint0)
		st.minus = next.minus
	} else {
		next = c.buildTree(st.plus, logu, v, depth-1, eps, joint0)
		st.plus = next.plus
	}
	if tot := st.n + next.n; tot > 0 && c.rng.Float64() < float64(next.n)/float64(tot) {
		st.proposal = next.proposal
	}
	st.alpha += next.alpha
	st.nAlpha += next.nAlpha
	st.ok = next.ok && c.noUTurn(st.minus, st.plus)
	st.n += next.n
	return st
}

// transition performs one slice-NUTS iteration from cur and returns the new
// point, the mean acceptance statistic of the last subtree and the tree depth.
func (c *nutsChain) transition(cur *phasePoint, eps float64) (*phasePoint, float64, int) {
	start := &phasePoint{u: cur.u, r: make([]float64, c.dim), grad: cur.grad, logp: cur.logp}
	c.sampleMomentum(start.r)
	joint0 := c.joint(start)
	logu := joint0 - c.rng.ExpFloat64()

	minus, plus, proposal := start, start, start
	n := 1
	ok := true
	alpha := 0.0
	depth := 0
	for ; ok && depth < c.maxDepth; depth++ {
		v := 1.0
		if c.rng.IntN(2) == 0 {
			v = -1
		}
		var st subtree
		if v < 0 {
			st = c.buildTree(minus, logu, v, depth, eps, joint0)
			minus = st.minus
		} else {
			st = c.buildTree(plus, logu, v, depth, eps, joint0)
			plus = st.plus
		}
		if st.ok && c.rng.Float64() < float64(st.n)/float64(n) {
			proposal = st.proposal
		}
		n += st.n
		ok = st.ok && c.noUTurn(minus, plus)
		alpha = st.alpha / float64(st.nAlpha)
	}
	return proposal, alpha, depth
}

// run performs warm-up and sampling and returns native-space draws.
func (c *nutsChain) run(chain int, deadline time.Time) ([][]float64, error) {
	cur, err := c.initialPoint()
	if err != nil {
		return nil, err
	}

	eps := c.findStepSize(cur)
	da := newDualAverage(eps, c.opts.TargetAccept)
	start, ends := adaptWindows(c.opts.NumWarmup)
	var window [][]float64
	next := 0
	for i := 0; i < c.opts.NumWarmup; i++ {
		var alpha float64
		var depth int
		cur, alpha, depth = c.transition(cur, eps)
		eps = da.update(alpha)
		if i%100 == 0 {
			tracef("chain %d warmup %d: eps=%.4g accept=%.2f depth=%d", chain, i, eps, alpha, depth)
		}

		if next < len(ends) && i >= start {
			window = append(window, append([]float64(nil), cur.u...))
			if i+1 == ends[next] {
				c.updateMass(window)
				window = window[:0]
				next++
				eps = c.findStepSize(cur)
				da = newDualAverage(eps, c.opts.TargetAccept)
			}
		}
	}
	eps = da.final()
	diagf("chain %d: adapted step size %.4g", chain, eps)

	draws := make([][]float64, 0, c.opts.NumSamples)
	var sumLogp float64
	for i := 0; i < c.opts.NumSamples; i++ {
		if !deadline.IsZero() && i > 0 && time.Now().After(deadline) {
			opsf("chain %d: runtime cap reached after %d draws", chain, i)
			break
		}
		cur, _, _ = c.transition(cur, eps)
		row := make([]float64, c.dim)
		c.t.uToNative(cur.u, row)
		draws = append(draws, row)
		sumLogp += cur.logp
	}
	if len(draws) > 0 {
		c.meanLogp = sumLogp / float64(len(draws))
		diagf("chain %d: mean log density %.2f over %d draws", chain, c.meanLogp, len(draws))
	}
	return draws, nil
}

// updateMass sets the inverse mass to the regularized variance of window.
func (c *nutsChain) updateMass(window [][]float64) {
	n := float64(len(window))
	if n < 2 {
		return
	}
	col := make([]float64, len(window))
	for j := 0; j < c.dim; j++ {
		for i, w := range window {
			col[i] = w[j]
		}
		v := stat.Variance(col, nil)
		c.invMass[j] = (n/(n+5))*v + 1e-3*(5/(n+5))
	}
}

// adaptWindows returns the first warm-up iteration of slow adaptation and
// the exclusive end of each doubling window. Short warm-ups shrink the
// buffers proportionally; very short ones adapt the step size only.
func adaptWindows(warmup int) (start int, ends []int) {
	if warmup < 20 {
		return 0, nil
	}
	initBuf, termBuf, base := initBuffer, termBuffer, baseWindow
	if initBuf+termBuf+base > warmup {
		initBuf = int(0.15 * float64(warmup))
		termBuf = int(0.1 * float64(warmup))
		base = warmup - initBuf - termBuf
	}
	last := warmup - termBuf
	lo, size := initBuf, base
	for {
		end := lo + size
		if end+2*size > last {
			ends = append(ends, last)
			return initBuf, ends
		}
		ends = append(ends, end)
		lo, size = end, 2*size
	}
}

type dualAverage struct {
	delta, mu         float64
	hbar              float64
	logEps, logEpsBar float64
	eps0              float64
	m                 int
}

func newDualAverage(eps, delta float64) *dualAverage {
	return &dualAverage{delta: delta, mu: math.Log(10 * eps), eps0: eps}
}

// update folds in one acceptance statistic and returns the next step size.
func (d *dualAverage) update(alpha float64) float64 {
	d.m++
	m := float64(d.m)
	eta := 1 / (m + daT0)
	d.hbar = (1-eta)*d.hbar + eta*(d.delta-alpha)
	d.logEps = d.mu - math.Sqrt(m)/daGamma*d.hbar
	w := math.Pow(m, -daKappa)
	d.logEpsBar = w*d.logEps + (1-w)*d.logEpsBar
	return math.Exp(d.logEps)
}

// final returns the averaged step size used after warm-up.
func (d *dualAverage) final() float64 {
	if d.m == 0 {
		return d.eps0
	}
	return math.Exp(d.logEpsBar)
}
