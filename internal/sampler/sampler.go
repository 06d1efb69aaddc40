// Package sampler fits the multi-band flux model to a light curve and returns
// equally-weighted posterior draws.
//
// Four interchangeable backends share one contract:
//
//   - NestedSampler: gradient-free nested sampling over the prior unit cube
//   - NUTSSampler: No-U-Turn Hamiltonian Monte Carlo, several chains
//   - SVISampler: mean-field Normal variational inference with warm start
//   - MAPSampler: posterior mode plus a diagonal Laplace approximation
//
// Every backend writes its draws in the canonical column order of the prior
// schema, in native units. A Sampler moves through Unfit, Fitted and Scored;
// Fit validates the light curve before evaluating the model.
package sampler

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/superphot/internal/fluxmodel"
	"github.com/banshee-data/superphot/internal/posterior"
	"github.com/banshee-data/superphot/internal/priors"
)

var (
	// ErrUnbalancedBands is returned when bands have different observation
	// counts.
	ErrUnbalancedBands = errors.New("sampler: bands have unequal observation counts")

	// ErrMissingBand is returned when a band of the prior schema has no
	// observations.
	ErrMissingBand = errors.New("sampler: band missing from light curve")

	// ErrUnknownBand is returned for observations in a band the priors do not
	// describe.
	ErrUnknownBand = errors.New("sampler: band not in priors")

	// ErrUnknownSampler is returned by New for an unrecognised method name.
	ErrUnknownSampler = errors.New("sampler: unknown sampler")

	// ErrDimensionMismatch is returned when parallel inputs disagree in
	// length.
	ErrDimensionMismatch = errors.New("sampler: dimension mismatch")

	// ErrDegenerateScore is returned when the reduced chi-squared has no
	// degrees of freedom or is not finite.
	ErrDegenerateScore = errors.New("sampler: degenerate score")

	// ErrNotFit is returned when results are requested before Fit.
	ErrNotFit = errors.New("sampler: not fit")

	// ErrNoSamples is returned when a backend produced no usable draws.
	ErrNoSamples = errors.New("sampler: no posterior samples")
)

// State is the lifecycle stage of a Sampler.
type State int

const (
	Unfit State = iota
	Fitted
	Scored
)

func (s State) String() string {
	switch s {
	case Unfit:
		return "unfit"
	case Fitted:
		return "fit"
	case Scored:
		return "scored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Dataset is one light curve as parallel slices. Name identifies the target
// and becomes the posterior name.
type Dataset struct {
	Name    string
	Time    []float64
	Band    []string
	FluxErr []float64
	Flux    []float64
}

// Len returns the number of observations.
func (d Dataset) Len() int { return len(d.Time) }

func (d Dataset) checkLengths() error {
	n := len(d.Time)
	if len(d.Band) != n || len(d.FluxErr) != n || len(d.Flux) != n {
		return fmt.Errorf("%w: time=%d band=%d flux_err=%d flux=%d",
			ErrDimensionMismatch, n, len(d.Band), len(d.FluxErr), len(d.Flux))
	}
	return nil
}

// Sampler is the common contract of all backends. A Sampler is not safe for
// concurrent use.
type Sampler interface {
	// Fit validates and rearranges d, runs the backend and scores the
	// result. origNumTimes <= 0 means "use d.Len()" as the degrees-of-freedom
	// basis.
	Fit(d Dataset, origNumTimes int) error

	// Predict evaluates the model at times/bands for every retained draw and
	// returns a draws × times matrix.
	Predict(times []float64, bands []string) (*mat.Dense, error)

	// Score returns the median reduced chi-squared of yPred against d.
	Score(d Dataset, yPred *mat.Dense, origNumTimes int) (float64, error)

	// Result returns the posterior of the last Fit, or nil.
	Result() *posterior.Samples

	// State returns the lifecycle stage.
	State() State

	// Method returns the method tag used in posterior file names.
	Method() string
}

// blocks is a light curve rearranged into contiguous equal-size band blocks in
// schema order. Block bi occupies [bi*n, (bi+1)*n).
type blocks struct {
	n       int
	nbands  int
	time    []float64
	fluxErr []float64
	flux    []float64
}

func (b *blocks) band(bi int) (t, fluxErr, flux []float64) {
	lo, hi := bi*b.n, (bi+1)*b.n
	return b.time[lo:hi], b.fluxErr[lo:hi], b.flux[lo:hi]
}

// rearrange copies d into freshly allocated band blocks ordered by the
// schema. Row order within a band is preserved.
func rearrange(schema *priors.Schema, d Dataset) (*blocks, error) {
	if err := d.checkLengths(); err != nil {
		return nil, err
	}
	counts := make([]int, schema.NumBands())
	for _, b := range d.Band {
		bi, ok := schema.BandIndex(b)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBand, b)
		}
		counts[bi]++
	}
	bands := schema.Bands()
	for bi, c := range counts {
		if c == 0 {
			return nil, fmt.Errorf("%w: %q", ErrMissingBand, bands[bi])
		}
	}
	for bi, c := range counts {
		if c != counts[0] {
			return nil, fmt.Errorf("%w: %s has %d, %s has %d",
				ErrUnbalancedBands, bands[0], counts[0], bands[bi], c)
		}
	}

	n := counts[0]
	out := &blocks{
		n:       n,
		nbands:  len(counts),
		time:    make([]float64, len(d.Time)),
		fluxErr: make([]float64, len(d.Time)),
		flux:    make([]float64, len(d.Time)),
	}
	next := make([]int, len(counts))
	for i, b := range d.Band {
		bi, _ := schema.BandIndex(b)
		j := bi*n + next[bi]
		next[bi]++
		out.time[j] = d.Time[i]
		out.fluxErr[j] = d.FluxErr[i]
		out.flux[j] = d.Flux[i]
	}
	return out, nil
}

// bandParams returns the native parameters of band position bi from a row of
// native posterior columns.
func bandParams(row []float64, bi int) fluxmodel.Params {
	ref := fluxmodel.FromVector(row[:priors.NumQuantities])
	if bi == 0 {
		return ref
	}
	off := row[bi*priors.NumQuantities : (bi+1)*priors.NumQuantities]
	return fluxmodel.Combine(ref, fluxmodel.FromVector(off))
}

// backend produces native-space draws for a prepared target.
type backend interface {
	sample(t *target) (*mat.Dense, error)
}

// base carries what every backend shares: priors, the schema computed once
// from them, run options and the lifecycle.
type base struct {
	priors *priors.MultibandPriors
	schema *priors.Schema
	opts   Options
	method string
	impl   backend

	state  State
	result *posterior.Samples
}

func newBase(mp *priors.MultibandPriors, opts Options, method string, impl backend) base {
	return base{
		priors: mp,
		schema: mp.Schema(),
		opts:   opts,
		method: method,
		impl:   impl,
	}
}

// Method returns the method tag.
func (b *base) Method() string { return b.method }

// State returns the lifecycle stage.
func (b *base) State() State { return b.state }

// Result returns the posterior from the last Fit.
func (b *base) Result() *posterior.Samples { return b.result }

// Fit implements Sampler.
func (b *base) Fit(d Dataset, origNumTimes int) error {
	data, err := rearrange(b.schema, d)
	if err != nil {
		return err
	}
	if origNumTimes <= 0 {
		origNumTimes = d.Len()
	}

	start := time.Now()
	t := newTarget(b.priors, data)
	draws, err := b.impl.sample(t)
	if err != nil {
		return fmt.Errorf("%s fit %s: %w", b.method, d.Name, err)
	}
	res, err := posterior.New(d.Name, b.method, draws)
	if err != nil {
		return fmt.Errorf("%s fit %s: %w", b.method, d.Name, ErrNoSamples)
	}
	b.result = res
	b.state = Fitted
	diagf("%s: fit %s with %d draws in %v", b.method, d.Name, res.Len(), time.Since(start).Round(time.Millisecond))

	ordered := Dataset{
		Name:    d.Name,
		Time:    data.time,
		Band:    make([]string, len(data.time)),
		FluxErr: data.fluxErr,
		Flux:    data.flux,
	}
	bands := b.schema.Bands()
	for bi := range bands {
		for j := bi * data.n; j < (bi+1)*data.n; j++ {
			ordered.Band[j] = bands[bi]
		}
	}
	pred, err := b.Predict(ordered.Time, ordered.Band)
	if err != nil {
		return err
	}
	score, err := b.Score(ordered, pred, origNumTimes)
	if err != nil {
		// The samples stand; only the score is missing.
		opsf("%s: score %s: %v", b.method, d.Name, err)
		return nil
	}
	res.SetScore(score)
	b.state = Scored
	return nil
}

// Predict implements Sampler.
func (b *base) Predict(times []float64, bands []string) (*mat.Dense, error) {
	if b.result == nil {
		return nil, ErrNotFit
	}
	if len(times) != len(bands) {
		return nil, fmt.Errorf("%w: %d times, %d bands", ErrDimensionMismatch, len(times), len(bands))
	}
	idx := make([]int, len(bands))
	for i, band := range bands {
		bi, ok := b.schema.BandIndex(band)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBand, band)
		}
		idx[i] = bi
	}

	draws := b.result.Draws()
	nd, _ := draws.Dims()
	out := mat.NewDense(nd, len(times), nil)
	params := make([]fluxmodel.Params, b.schema.NumBands())
	for r := 0; r < nd; r++ {
		row := draws.RawRowView(r)
		for bi := range params {
			params[bi] = bandParams(row, bi)
		}
		dst := out.RawRowView(r)
		for i, ti := range times {
			dst[i] = fluxmodel.FluxAt(ti, params[idx[i]])
		}
	}
	return out, nil
}

// Score implements Sampler: for each draw the chi-squared of d against that
// draw's prediction, with each band's fitted extra scatter added to the
// errors in quadrature, divided by origNumTimes - nparams - 1. The median
// over draws is returned.
func (b *base) Score(d Dataset, yPred *mat.Dense, origNumTimes int) (float64, error) {
	if b.result == nil {
		return 0, ErrNotFit
	}
	if err := d.checkLengths(); err != nil {
		return 0, err
	}
	draws := b.result.Draws()
	nd, _ := draws.Dims()
	pr, pc := yPred.Dims()
	if pr != nd || pc != d.Len() {
		return 0, fmt.Errorf("%w: prediction %dx%d, want %dx%d", ErrDimensionMismatch, pr, pc, nd, d.Len())
	}
	if origNumTimes <= 0 {
		origNumTimes = d.Len()
	}
	dof := float64(origNumTimes - b.schema.Len() - 1)
	if dof <= 0 {
		return 0, fmt.Errorf("%w: %d observations for %d parameters", ErrDegenerateScore, origNumTimes, b.schema.Len())
	}

	idx := make([]int, d.Len())
	for i, band := range d.Band {
		bi, ok := b.schema.BandIndex(band)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownBand, band)
		}
		idx[i] = bi
	}

	chi := make([]float64, nd)
	es := make([]float64, b.schema.NumBands())
	for r := 0; r < nd; r++ {
		row := draws.RawRowView(r)
		for bi := range es {
			es[bi] = bandParams(row, bi).ExtraSigma
		}
		pred := yPred.RawRowView(r)
		var sum float64
		for i, y := range d.Flux {
			res := y - pred[i]
			sum += res * res / (d.FluxErr[i]*d.FluxErr[i] + es[idx[i]]*es[idx[i]])
		}
		chi[r] = sum / dof
	}
	score := median(chi)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: reduced chi-squared is %v", ErrDegenerateScore, score)
	}
	return score, nil
}

func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return 0.5 * (s[n/2-1] + s[n/2])
}
