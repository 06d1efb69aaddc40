// Package posterior stores the equally-weighted posterior draws produced by a
// light-curve fit, together with summaries and the npz archive format used to
// persist them.
package posterior

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmpty is returned when a sample matrix has no rows or columns.
	ErrEmpty = errors.New("posterior: empty sample matrix")

	// ErrDimensionMismatch is returned when a sample matrix does not have the
	// expected number of parameter columns.
	ErrDimensionMismatch = errors.New("posterior: column count mismatch")
)

// Samples holds posterior draws in canonical parameter order: one row per
// draw, one column per fit parameter, native units.
//
// Samples is read-only after construction except for SetScore.
type Samples struct {
	name   string
	method string
	draws  *mat.Dense

	score    float64
	hasScore bool

	mean     []float64
	variance []float64
}

// New wraps draws. The matrix is not copied; callers must not modify it
// afterwards.
func New(name, method string, draws *mat.Dense) (*Samples, error) {
	if draws == nil || draws.IsEmpty() {
		return nil, ErrEmpty
	}
	return &Samples{name: name, method: method, draws: draws}, nil
}

// Name returns the target identifier.
func (s *Samples) Name() string { return s.name }

// Method returns the sampling-method tag. Empty means nested sampling output
// stored under the legacy file name.
func (s *Samples) Method() string { return s.method }

// Draws returns the sample matrix. It must be treated as read-only.
func (s *Samples) Draws() *mat.Dense { return s.draws }

// Len returns the number of draws.
func (s *Samples) Len() int {
	r, _ := s.draws.Dims()
	return r
}

// Dim returns the number of parameters per draw.
func (s *Samples) Dim() int {
	_, c := s.draws.Dims()
	return c
}

// CheckColumns returns ErrDimensionMismatch unless the matrix has n columns.
func (s *Samples) CheckColumns(n int) error {
	if c := s.Dim(); c != n {
		return fmt.Errorf("%w: have %d columns, want %d", ErrDimensionMismatch, c, n)
	}
	return nil
}

// SetScore records the fit score.
func (s *Samples) SetScore(score float64) {
	s.score = score
	s.hasScore = true
}

// Score returns the fit score and whether one has been set.
func (s *Samples) Score() (float64, bool) { return s.score, s.hasScore }

// SampleMean returns the per-parameter mean across draws.
func (s *Samples) SampleMean() []float64 {
	s.summarize()
	return append([]float64(nil), s.mean...)
}

// SampleVariance returns the per-parameter unbiased variance across draws.
// A single draw has zero variance.
func (s *Samples) SampleVariance() []float64 {
	s.summarize()
	return append([]float64(nil), s.variance...)
}

func (s *Samples) summarize() {
	if s.mean != nil {
		return
	}
	r, c := s.draws.Dims()
	s.mean = make([]float64, c)
	s.variance = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, s.draws)
		if r == 1 {
			s.mean[j] = col[0]
			continue
		}
		s.mean[j], s.variance[j] = stat.MeanVariance(col, nil)
	}
}

// Features returns the (mean, matrix, score) triple consumed by downstream
// classifiers. score is NaN when hasScore is false.
func (s *Samples) Features() (mean []float64, draws *mat.Dense, score float64, hasScore bool) {
	score = math.NaN()
	if s.hasScore {
		score = s.score
	}
	return s.SampleMean(), s.draws, score, s.hasScore
}
