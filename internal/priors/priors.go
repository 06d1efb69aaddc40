// Package priors holds the truncated-normal priors used to fit light curves.
//
// Priors are described per photometric band. One band is the reference band and
// its priors are absolute; every other band describes an offset relative to the
// reference band (a log10 ratio for amplitude, plateau duration, timescales and
// extra scatter; an additive shift for the plateau slope and peak time).
package priors

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidPrior is returned when a PriorFields value cannot describe a
	// truncated normal distribution.
	ErrInvalidPrior = errors.New("priors: invalid prior")

	// ErrNoReferenceBand is returned when the reference band has no priors.
	ErrNoReferenceBand = errors.New("priors: reference band missing")

	// ErrDuplicateBand is returned when a band appears twice in a prior table.
	ErrDuplicateBand = errors.New("priors: duplicate band")
)

// Quantity identifies one physical parameter of the flux model.
type Quantity int

// Canonical quantity order. Posterior columns, prior tables and the model all
// use this order.
const (
	Amp Quantity = iota
	Beta
	Gamma
	T0
	TauRise
	TauFall
	ExtraSigma
)

// NumQuantities is the number of parameters fitted per band.
const NumQuantities = 7

var quantityNames = [NumQuantities]string{"A", "beta", "gamma", "t0", "tau_rise", "tau_fall", "extra_sigma"}

// String returns the column name used for the reference band.
func (q Quantity) String() string {
	if q < 0 || int(q) >= NumQuantities {
		return fmt.Sprintf("Quantity(%d)", int(q))
	}
	return quantityNames[q]
}

// LogScaled reports whether the quantity is sampled as log10 of its value
// (reference band) or log10 of a ratio (other bands). Beta and t0 are sampled
// linearly and combine additively.
func (q Quantity) LogScaled() bool {
	return q != Beta && q != T0
}

// Quantities returns all quantities in canonical order.
func Quantities() []Quantity {
	return []Quantity{Amp, Beta, Gamma, T0, TauRise, TauFall, ExtraSigma}
}

// PriorFields describes one truncated normal: clip bounds, mean and standard
// deviation in the sampled space. Infinite bounds leave that side untruncated.
type PriorFields struct {
	Low  float64
	High float64
	Mean float64
	Std  float64
}

// Validate checks that the bounds are ordered and the width is positive.
func (p PriorFields) Validate() error {
	if math.IsNaN(p.Low) || math.IsNaN(p.High) || math.IsNaN(p.Mean) || math.IsNaN(p.Std) {
		return fmt.Errorf("%w: NaN field", ErrInvalidPrior)
	}
	if !(p.Std > 0) || math.IsInf(p.Std, 0) {
		return fmt.Errorf("%w: std must be positive and finite, got %g", ErrInvalidPrior, p.Std)
	}
	if p.Low >= p.High {
		return fmt.Errorf("%w: low %g must be below high %g", ErrInvalidPrior, p.Low, p.High)
	}
	if math.IsInf(p.Mean, 0) {
		return fmt.Errorf("%w: mean must be finite", ErrInvalidPrior)
	}
	return nil
}

// Bounded reports which sides of the prior are truncated.
func (p PriorFields) Bounded() (low, high bool) {
	return !math.IsInf(p.Low, -1), !math.IsInf(p.High, 1)
}

// CurvePriors holds the priors of all quantities for one band, indexed by
// Quantity.
type CurvePriors [NumQuantities]PriorFields

// Get returns the prior for q.
func (c CurvePriors) Get(q Quantity) PriorFields { return c[q] }

// Validate validates every quantity's prior.
func (c CurvePriors) Validate() error {
	for _, q := range Quantities() {
		if err := c[q].Validate(); err != nil {
			return fmt.Errorf("%s: %w", q, err)
		}
	}
	return nil
}

// MultibandPriors maps bands to their priors and designates a reference band.
// It is immutable once constructed; use NewMultibandPriors to build one.
type MultibandPriors struct {
	reference string
	order     []string
	bands     map[string]CurvePriors
	schema    *Schema
}

// BandPriors pairs a band name with its priors, used to build MultibandPriors
// in a fixed order.
type BandPriors struct {
	Band   string
	Priors CurvePriors
}

// NewMultibandPriors validates the band priors and computes the canonical
// parameter schema. Band order is preserved from the input except that the
// reference band is moved to the front.
func NewMultibandPriors(reference string, bands []BandPriors) (*MultibandPriors, error) {
	mp := &MultibandPriors{
		reference: reference,
		bands:     make(map[string]CurvePriors, len(bands)),
	}
	for _, bp := range bands {
		if bp.Band == "" {
			return nil, fmt.Errorf("%w: empty band name", ErrInvalidPrior)
		}
		if _, dup := mp.bands[bp.Band]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateBand, bp.Band)
		}
		if err := bp.Priors.Validate(); err != nil {
			return nil, fmt.Errorf("band %s: %w", bp.Band, err)
		}
		mp.bands[bp.Band] = bp.Priors
	}
	if _, ok := mp.bands[reference]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoReferenceBand, reference)
	}

	mp.order = append(mp.order, reference)
	for _, bp := range bands {
		if bp.Band != reference {
			mp.order = append(mp.order, bp.Band)
		}
	}
	mp.schema = newSchema(mp.order)
	return mp, nil
}

// ReferenceBand returns the band whose priors are absolute.
func (m *MultibandPriors) ReferenceBand() string { return m.reference }

// Bands returns the canonical band order: reference band first.
func (m *MultibandPriors) Bands() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Band returns the priors for a band.
func (m *MultibandPriors) Band(b string) (CurvePriors, bool) {
	c, ok := m.bands[b]
	return c, ok
}

// Schema returns the canonical parameter schema.
func (m *MultibandPriors) Schema() *Schema { return m.schema }
