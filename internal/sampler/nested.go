package sampler

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/superphot/internal/priors"
)

// MethodNested is the method tag of NestedSampler. It matches the historical
// tag so archives written by earlier pipelines keep resolving.
const MethodNested = "dynesty"

// NestedSampler runs static nested sampling over the prior unit cube.
// Replacement points come from a random walk started at a surviving live
// point, with Gaussian steps scaled to the live-point spread. The weighted
// dead and live points are resampled into equally weighted draws, so no
// burn-in or thinning is needed.
//
// Nested sampling needs no gradients and is insensitive to the knee of the
// flux model. It is single threaded; Workers is ignored.
type NestedSampler struct {
	base
}

// NewNested returns a nested sampler for mp.
func NewNested(mp *priors.MultibandPriors, opts Options) (*NestedSampler, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &NestedSampler{}
	s.base = newBase(mp, opts, MethodNested, s)
	return s, nil
}

type livePoint struct {
	x    []float64 // unit cube
	z    []float64
	logl float64
}

type deadPoint struct {
	z     []float64
	logwt float64
}

func (s *NestedSampler) sample(t *target) (*mat.Dense, error) {
	o := s.opts
	rng := rand.New(rand.NewPCG(o.Seed, 0))
	dim := t.dim
	var deadline time.Time
	if o.MaxRuntime > 0 {
		deadline = time.Now().Add(o.MaxRuntime)
	}

	live := make([]livePoint, o.NumLive)
	for i := range live {
		live[i] = livePoint{x: make([]float64, dim), z: make([]float64, dim)}
		for attempt := 0; ; attempt++ {
			for j := range live[i].x {
				live[i].x[j] = rng.Float64()
			}
			t.cubeToZ(live[i].x, live[i].z)
			live[i].logl = t.logLikelihood(live[i].z, nil)
			if !math.IsInf(live[i].logl, -1) || attempt >= 1000 {
				break
			}
		}
	}

	var dead []deadPoint
	logZ := math.Inf(-1)
	logX := 0.0
	// Each iteration shrinks the enclosed prior volume by exp(-1/nlive).
	logShrink := math.Log1p(-math.Exp(-1 / float64(o.NumLive)))

	scale := 1.0
	spread := make([]float64, dim)
	col := make([]float64, o.NumLive)
	prop := livePoint{x: make([]float64, dim), z: make([]float64, dim)}

	iter := 0
	for ; iter < o.MaxIter; iter++ {
		worst, maxL := 0, math.Inf(-1)
		for i := range live {
			if live[i].logl < live[worst].logl {
				worst = i
			}
			maxL = math.Max(maxL, live[i].logl)
		}
		lmin := live[worst].logl

		remaining := logAddExp(logZ, maxL+logX) - logZ
		if remaining < o.DLogZ {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			opsf("nested: runtime cap reached after %d iterations (dlogz=%.3g)", iter, remaining)
			break
		}

		logwt := logX + logShrink + lmin
		dead = append(dead, deadPoint{z: append([]float64(nil), live[worst].z...), logwt: logwt})
		logZ = logAddExp(logZ, logwt)
		logX -= 1 / float64(o.NumLive)

		for j := 0; j < dim; j++ {
			for i := range live {
				col[i] = live[i].x[j]
			}
			spread[j] = stat.StdDev(col, nil)
		}

		// Walk from a random surviving point.
		src := rng.IntN(o.NumLive - 1)
		if src >= worst {
			src++
		}
		cur := livePoint{
			x:    append([]float64(nil), live[src].x...),
			z:    append([]float64(nil), live[src].z...),
			logl: live[src].logl,
		}
		accepted := 0
		for step := 0; step < o.WalkSteps; step++ {
			inside := true
			for j := range prop.x {
				prop.x[j] = cur.x[j] + scale*spread[j]*rng.NormFloat64()
				if prop.x[j] <= 0 || prop.x[j] >= 1 {
					inside = false
				}
			}
			if !inside {
				continue
			}
			t.cubeToZ(prop.x, prop.z)
			ll := t.logLikelihood(prop.z, nil)
			if ll > lmin {
				copy(cur.x, prop.x)
				copy(cur.z, prop.z)
				cur.logl = ll
				accepted++
			}
		}
		live[worst] = cur

		acc := float64(accepted) / float64(o.WalkSteps)
		scale *= math.Exp(acc - 0.5)
		scale = math.Min(math.Max(scale, 1e-4), 10)
		if iter%500 == 0 {
			tracef("nested iter %d: logl_min=%.3f logz=%.3f dlogz=%.3g scale=%.3g accept=%.2f",
				iter, lmin, logZ, remaining, scale, acc)
		}
	}
	if iter >= o.MaxIter {
		opsf("nested: iteration cap %d reached", o.MaxIter)
	}

	// The remaining live points share the final volume equally.
	logLiveWt := logX - math.Log(float64(o.NumLive))
	for i := range live {
		dead = append(dead, deadPoint{z: live[i].z, logwt: logLiveWt + live[i].logl})
	}
	weights := make([]float64, len(dead))
	for i, d := range dead {
		weights[i] = d.logwt
	}
	logZ = floats.LogSumExp(weights)
	diagf("nested: %d iterations, logz=%.3f", iter, logZ)

	for i, lw := range weights {
		weights[i] = math.Exp(lw - logZ)
	}
	if sum := floats.Sum(weights); sum > 0 && !math.IsInf(sum, 0) {
		floats.Scale(1/sum, weights)
	} else {
		return nil, ErrNoSamples
	}

	idx := systematicResample(weights, rng)
	out := mat.NewDense(len(idx), dim, nil)
	for i, k := range idx {
		t.toNative(dead[k].z, out.RawRowView(i))
	}
	return out, nil
}

// systematicResample draws len(w) indices with a single uniform offset and
// returns them shuffled. w must sum to one.
func systematicResample(w []float64, rng *rand.Rand) []int {
	n := len(w)
	idx := make([]int, n)
	u0 := rng.Float64()
	cum := w[0]
	j := 0
	for i := 0; i < n; i++ {
		pos := (float64(i) + u0) / float64(n)
		for cum < pos && j < n-1 {
			j++
			cum += w[j]
		}
		idx[i] = j
	}
	rng.Shuffle(n, func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
	return idx
}

func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}
