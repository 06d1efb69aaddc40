package sampler

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/superphot/internal/fluxmodel"
	"github.com/banshee-data/superphot/internal/priors"
)

// Coordinates live in three spaces:
//
//	u  unconstrained, used by NUTS, SVI and MAP
//	z  sampled space of the priors (log10 for log-scaled quantities)
//	x  native parameters fed to the flux model
//
// Nested sampling works on the unit cube and maps straight to z through the
// prior quantile function.

const ln10 = math.Ln10

type boundKind int

const (
	unbounded boundKind = iota
	lowerOnly
	upperOnly
	bothBounds
)

// transform maps u to z on the support of one truncated prior.
type transform struct {
	kind   boundKind
	lo, hi float64
}

func newTransform(lo, hi float64) transform {
	hasLo, hasHi := !math.IsInf(lo, -1), !math.IsInf(hi, 1)
	switch {
	case hasLo && hasHi:
		return transform{kind: bothBounds, lo: lo, hi: hi}
	case hasLo:
		return transform{kind: lowerOnly, lo: lo, hi: hi}
	case hasHi:
		return transform{kind: upperOnly, lo: lo, hi: hi}
	}
	return transform{kind: unbounded, lo: lo, hi: hi}
}

// forward returns z, dz/du, log|dz/du| and d log|dz/du| / du.
func (tr transform) forward(u float64) (z, dzdu, logJac, dLogJac float64) {
	switch tr.kind {
	case bothBounds:
		w := tr.hi - tr.lo
		s := sigmoid(u)
		z = tr.lo + w*s
		// Keep z strictly inside the support when s rounds to 0 or 1.
		if z <= tr.lo || z >= tr.hi {
			z = math.Min(math.Max(z, math.Nextafter(tr.lo, tr.hi)), math.Nextafter(tr.hi, tr.lo))
		}
		return z, w * s * (1 - s), math.Log(w) + logSigmoid(u) + logSigmoid(-u), 1 - 2*s
	case lowerOnly:
		e := math.Exp(u)
		return tr.lo + e, e, u, 1
	case upperOnly:
		e := math.Exp(u)
		return tr.hi - e, -e, u, 1
	}
	return u, 1, 0, 0
}

// inverse maps z back to u. z is clamped inside the support.
func (tr transform) inverse(z float64) float64 {
	switch tr.kind {
	case bothBounds:
		s := (z - tr.lo) / (tr.hi - tr.lo)
		s = math.Min(math.Max(s, 1e-12), 1-1e-12)
		return math.Log(s / (1 - s))
	case lowerOnly:
		return math.Log(math.Max(z-tr.lo, 1e-300))
	case upperOnly:
		return math.Log(math.Max(tr.hi-z, 1e-300))
	}
	return z
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// logSigmoid is log(sigmoid(x)) without overflow.
func logSigmoid(x float64) float64 {
	if x >= 0 {
		return -math.Log1p(math.Exp(-x))
	}
	return x - math.Log1p(math.Exp(x))
}

// truncNormal is one coordinate's prior in z space.
type truncNormal struct {
	norm    distuv.Normal
	lo, hi  float64
	cdfLo   float64
	mass    float64
	logMass float64
}

func newTruncNormal(f priors.PriorFields, lo, hi float64) truncNormal {
	n := distuv.Normal{Mu: f.Mean, Sigma: f.Std}
	cl, ch := n.CDF(lo), n.CDF(hi)
	mass := ch - cl
	if mass <= 0 {
		// Support far in a tail; the normalizer only shifts the evidence.
		mass = math.SmallestNonzeroFloat64
	}
	return truncNormal{norm: n, lo: lo, hi: hi, cdfLo: cl, mass: mass, logMass: math.Log(mass)}
}

// logProb returns the log density and its derivative at z, which must lie in
// the support.
func (p truncNormal) logProb(z float64) (lp, dlp float64) {
	return p.norm.LogProb(z) - p.logMass, -(z - p.norm.Mu) / (p.norm.Sigma * p.norm.Sigma)
}

// quantile maps a unit-cube coordinate to z.
func (p truncNormal) quantile(x float64) float64 {
	q := p.cdfLo + x*p.mass
	q = math.Min(math.Max(q, 1e-300), 1-1e-16)
	z := p.norm.Quantile(q)
	return math.Min(math.Max(z, p.lo), p.hi)
}

// target is the log posterior of one rearranged light curve. The priors part
// is immutable and shared; scratch buffers are per instance, so each chain
// uses its own clone.
type target struct {
	schema *priors.Schema
	data   *blocks
	dim    int

	logScaled []bool
	prior     []truncNormal
	tr        []transform

	z, dzdu, dlj, gz []float64
	native           [][fluxmodel.NumParams]float64
	bandGrad         [][fluxmodel.NumParams]float64
}

func newTarget(mp *priors.MultibandPriors, data *blocks) *target {
	schema := mp.Schema()
	dim := schema.Len()
	t := &target{
		schema:    schema,
		data:      data,
		dim:       dim,
		logScaled: make([]bool, dim),
		prior:     make([]truncNormal, dim),
		tr:        make([]transform, dim),
	}
	ref, _ := mp.Band(mp.ReferenceBand())
	for i := 0; i < dim; i++ {
		p := schema.Param(i)
		cp, _ := mp.Band(p.Band)
		f := cp.Get(p.Quantity)
		lo, hi := f.Low, f.High
		if p.Reference && p.Quantity == priors.Beta {
			// The slope must leave the plateau positive for the shortest
			// plateau plus decline the priors allow.
			hi = math.Min(hi, 1/(math.Pow(10, ref[priors.TauFall].Low)+math.Pow(10, ref[priors.Gamma].Low)))
		}
		t.logScaled[i] = p.Quantity.LogScaled()
		t.prior[i] = newTruncNormal(f, lo, hi)
		t.tr[i] = newTransform(lo, hi)
	}
	t.alloc()
	return t
}

func (t *target) alloc() {
	t.z = make([]float64, t.dim)
	t.dzdu = make([]float64, t.dim)
	t.dlj = make([]float64, t.dim)
	t.gz = make([]float64, t.dim)
	t.native = make([][fluxmodel.NumParams]float64, t.schema.NumBands())
	t.bandGrad = make([][fluxmodel.NumParams]float64, t.schema.NumBands())
}

// clone returns a target sharing the priors and data with fresh scratch.
func (t *target) clone() *target {
	c := *t
	c.alloc()
	return &c
}

// toNative writes the native posterior columns of z into dst: 10^z for
// log-scaled quantities, z otherwise. Offset bands stay as ratios/shifts.
func (t *target) toNative(z, dst []float64) {
	for i, v := range z {
		if t.logScaled[i] {
			dst[i] = math.Pow(10, v)
		} else {
			dst[i] = v
		}
	}
}

// logLikelihood evaluates the data log-likelihood plus constraint penalties
// at z. When gz is non-nil the gradient with respect to z is written to it.
func (t *target) logLikelihood(z, gz []float64) float64 {
	nb := t.schema.NumBands()
	const nq = priors.NumQuantities

	var ref fluxmodel.Params
	for bi := 0; bi < nb; bi++ {
		off := z[bi*nq : (bi+1)*nq]
		var x [nq]float64
		for k := 0; k < nq; k++ {
			if t.logScaled[k] {
				x[k] = math.Pow(10, off[k])
			} else {
				x[k] = off[k]
			}
		}
		p := fluxmodel.FromVector(x[:])
		if bi == 0 {
			ref = p
		} else {
			p = fluxmodel.Combine(ref, p)
		}
		t.native[bi] = p.Vector()
	}

	var ll float64
	for bi := 0; bi < nb; bi++ {
		tm, fe, fl := t.data.band(bi)
		var g *[fluxmodel.NumParams]float64
		if gz != nil {
			t.bandGrad[bi] = [fluxmodel.NumParams]float64{}
			g = &t.bandGrad[bi]
		}
		ll += fluxmodel.BandLogDensity(fluxmodel.FromVector(t.native[bi][:]), bi == 0, tm, fe, fl, g)
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return math.Inf(-1)
	}
	if gz == nil {
		return ll
	}

	// x_b = x_ref ∘ r_b, so d x_b / d z is x_b·ln10 for ratios and 1 for
	// shifts, both for the reference coordinate and the band's own offset.
	for i := range gz[:nq] {
		gz[i] = 0
	}
	for bi := 0; bi < nb; bi++ {
		for k := 0; k < nq; k++ {
			d := t.bandGrad[bi][k]
			if t.logScaled[k] {
				d *= t.native[bi][k] * ln10
			}
			gz[k] += d
			if bi > 0 {
				gz[bi*nq+k] = d
			}
		}
	}
	return ll
}

// logPrior returns the prior log density of z and adds its gradient to gz
// when gz is non-nil. Outside the support it returns -Inf.
func (t *target) logPrior(z, gz []float64) float64 {
	var lp float64
	for i, v := range z {
		p := t.prior[i]
		if v < p.lo || v > p.hi {
			return math.Inf(-1)
		}
		l, d := p.logProb(v)
		lp += l
		if gz != nil {
			gz[i] += d
		}
	}
	return lp
}

// logDensity is the unnormalized log posterior in u space, including the
// log-Jacobian of u → z. When grad is non-nil the gradient is written to it.
func (t *target) logDensity(u, grad []float64) float64 {
	var lj float64
	for i, v := range u {
		z, dzdu, l, dl := t.tr[i].forward(v)
		t.z[i], t.dzdu[i], t.dlj[i] = z, dzdu, dl
		lj += l
	}
	var gz []float64
	if grad != nil {
		gz = t.gz
	}
	ll := t.logLikelihood(t.z, gz)
	if math.IsInf(ll, -1) {
		return ll
	}
	lp := t.logPrior(t.z, gz)
	total := ll + lp + lj
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return math.Inf(-1)
	}
	if grad != nil {
		for i := range grad {
			grad[i] = gz[i]*t.dzdu[i] + t.dlj[i]
		}
	}
	return total
}

// toZ maps u to z.
func (t *target) toZ(u, z []float64) {
	for i, v := range u {
		z[i], _, _, _ = t.tr[i].forward(v)
	}
}

// fromZ maps z to u.
func (t *target) fromZ(z, u []float64) {
	for i, v := range z {
		u[i] = t.tr[i].inverse(v)
	}
}

// priorMeanZ returns the prior means clamped into the support.
func (t *target) priorMeanZ() []float64 {
	z := make([]float64, t.dim)
	for i, p := range t.prior {
		z[i] = math.Min(math.Max(p.norm.Mu, p.lo), p.hi)
	}
	return z
}

// uToNative maps a u-space draw into dst in native posterior columns.
func (t *target) uToNative(u, dst []float64) {
	t.toZ(u, t.z)
	t.toNative(t.z, dst)
}

// cubeToZ maps a unit-cube point to z through the prior quantiles.
func (t *target) cubeToZ(x, z []float64) {
	for i, v := range x {
		z[i] = t.prior[i].quantile(v)
	}
}
