package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/superphot/internal/priors"
	"github.com/banshee-data/superphot/internal/testutil"
)

func fixtureTarget(t *testing.T) *target {
	t.Helper()
	c, _, _ := testutil.TwoBandCurve(11)
	mp := priors.ZTF()
	data, err := rearrange(mp.Schema(), datasetFrom("fixture", c))
	require.NoError(t, err)
	return newTarget(mp, data)
}

func TestTransformRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi float64
	}{
		{"both", -2, 2.5},
		{"lower", 0.5, math.Inf(1)},
		{"upper", math.Inf(-1), 3},
		{"none", math.Inf(-1), math.Inf(1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTransform(tc.lo, tc.hi)
			for _, u := range []float64{-3, -0.5, 0, 0.7, 2.5} {
				z, dzdu, logJac, dLogJac := tr.forward(u)
				assert.True(t, z >= tc.lo && z <= tc.hi, "z=%v outside support", z)
				assert.InDelta(t, u, tr.inverse(z), 1e-9)

				const h = 1e-6
				zUp, _, ljUp, _ := tr.forward(u + h)
				zDown, _, ljDown, _ := tr.forward(u - h)
				assert.InDelta(t, (zUp-zDown)/(2*h), dzdu, 1e-6*math.Max(1, math.Abs(dzdu)))
				assert.InDelta(t, math.Log(math.Abs(dzdu)), logJac, 1e-9)
				assert.InDelta(t, (ljUp-ljDown)/(2*h), dLogJac, 1e-5)
			}
		})
	}
}

func TestTruncNormalQuantile(t *testing.T) {
	f := priors.PriorFields{Low: 0.5, High: 3, Mean: 1.4, Std: 0.3}
	p := newTruncNormal(f, f.Low, f.High)
	assert.InDelta(t, f.Low, p.quantile(0), 1e-9)
	assert.InDelta(t, f.High, p.quantile(1), 1e-6)
	assert.InDelta(t, f.Mean, p.quantile(0.5), 0.01)

	lp, dlp := p.logProb(1.7)
	assert.InDelta(t, -(1.7-1.4)/(0.3*0.3), dlp, 1e-12)
	assert.False(t, math.IsInf(lp, 0) || math.IsNaN(lp))
}

func TestReferenceBetaBoundTightened(t *testing.T) {
	r, _ := priors.ZTF().Band("r")
	r[priors.Beta].High = 5
	g, _ := priors.ZTF().Band("g")
	mp, err := priors.NewMultibandPriors("r", []priors.BandPriors{{Band: "r", Priors: r}, {Band: "g", Priors: g}})
	require.NoError(t, err)

	c, _, _ := testutil.TwoBandCurve(1)
	data, err := rearrange(mp.Schema(), datasetFrom("x", c))
	require.NoError(t, err)
	tg := newTarget(mp, data)

	want := 1 / (math.Pow(10, r[priors.TauFall].Low) + math.Pow(10, r[priors.Gamma].Low))
	assert.InDelta(t, want, tg.tr[int(priors.Beta)].hi, 1e-12)
	assert.Equal(t, g[priors.Beta].High, tg.tr[7+int(priors.Beta)].hi, "offset slopes keep their bounds")
}

func TestLogDensityGradient(t *testing.T) {
	tg := fixtureTarget(t)
	u := make([]float64, tg.dim)
	tg.fromZ(tg.priorMeanZ(), u)
	for i := range u {
		u[i] += 0.05 * float64(i%5-2)
	}

	grad := make([]float64, tg.dim)
	lp := tg.logDensity(u, grad)
	require.False(t, math.IsInf(lp, 0) || math.IsNaN(lp))

	// The gradient call must agree with the value-only call.
	assert.InDelta(t, lp, tg.logDensity(u, nil), 1e-9)

	for i := range u {
		const h = 1e-6
		up := append([]float64(nil), u...)
		down := append([]float64(nil), u...)
		up[i] += h
		down[i] -= h
		num := (tg.logDensity(up, nil) - tg.logDensity(down, nil)) / (2 * h)
		tol := 1e-3 * math.Max(1, math.Abs(num))
		if math.Abs(num-grad[i]) > tol {
			t.Errorf("grad[%d] (%s) = %g, numerical %g", i, tg.schema.Param(i).Name(), grad[i], num)
		}
	}
}

func TestLogLikelihoodPeaksNearTruth(t *testing.T) {
	tg := fixtureTarget(t)
	truth := truthRow()
	z := make([]float64, tg.dim)
	for i, v := range truth {
		if tg.logScaled[i] {
			z[i] = math.Log10(v)
		} else {
			z[i] = v
		}
	}
	atTruth := tg.logLikelihood(z, nil)

	off := append([]float64(nil), z...)
	off[int(priors.Amp)] += 0.05
	assert.Greater(t, atTruth, tg.logLikelihood(off, nil))

	off = append([]float64(nil), z...)
	off[int(priors.T0)] += 3
	assert.Greater(t, atTruth, tg.logLikelihood(off, nil))
}

func TestToNative(t *testing.T) {
	tg := fixtureTarget(t)
	z := make([]float64, tg.dim)
	z[int(priors.Amp)] = 3
	z[int(priors.T0)] = -5
	z[7+int(priors.T0)] = 1
	out := make([]float64, tg.dim)
	tg.toNative(z, out)
	assert.InDelta(t, 1000, out[int(priors.Amp)], 1e-9)
	assert.Equal(t, -5.0, out[int(priors.T0)])
	assert.Equal(t, 1.0, out[7+int(priors.Amp)], "zero log ratio is a unit ratio")
	assert.Equal(t, 1.0, out[7+int(priors.T0)], "shifts stay additive")
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	// Maximize -(x-3)² - (y+1)².
	params := []float64{0, 0}
	opt := newAdam(2, 0.05)
	grad := make([]float64, 2)
	for i := 0; i < 5000; i++ {
		grad[0] = -2 * (params[0] - 3)
		grad[1] = -2 * (params[1] + 1)
		opt.ascend(params, grad)
	}
	assert.InDelta(t, 3, params[0], 0.05)
	assert.InDelta(t, -1, params[1], 0.05)
	assert.Equal(t, 5000, opt.step)
}

func TestAdaptWindows(t *testing.T) {
	start, ends := adaptWindows(1000)
	assert.Equal(t, 75, start)
	assert.Equal(t, []int{100, 150, 250, 450, 950}, ends)

	start, ends = adaptWindows(100)
	assert.Equal(t, 15, start)
	assert.Equal(t, []int{90}, ends)

	_, ends = adaptWindows(10)
	assert.Empty(t, ends)
}

func TestSystematicResample(t *testing.T) {
	w := []float64{0, 0.5, 0, 0.5}
	idx := systematicResample(w, newTestRNG(1))
	counts := map[int]int{}
	for _, i := range idx {
		counts[i]++
	}
	assert.Equal(t, 2, counts[1])
	assert.Equal(t, 2, counts[3])
}

func TestThin(t *testing.T) {
	rows := make([][]float64, 10)
	for i := range rows {
		rows[i] = []float64{float64(i)}
	}
	got := thin(rows, 5)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, float64(2*i), r[0])
	}
	assert.Len(t, thin(rows, 0), 10)
	assert.Len(t, thin(rows, 20), 10)
}
