// Package lightcurve holds observed supernova light curves: parallel time,
// flux, flux-error and band columns, their npz archive format, and the
// preparation steps applied before a curve is handed to a sampler (quality
// guards, tail clipping and padding to equal band counts).
package lightcurve

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/superphot/internal/sampler"
)

var (
	// ErrEmpty is returned when a curve has no usable rows.
	ErrEmpty = errors.New("empty light curve")

	// ErrLengthMismatch is returned when the columns differ in length.
	ErrLengthMismatch = errors.New("light curve columns differ in length")

	// ErrMissingBand is returned when a required band has no observations.
	ErrMissingBand = errors.New("band has no observations")

	// ErrLowSignal is returned when a band has too few high-signal points.
	ErrLowSignal = errors.New("too few high-signal points")

	// ErrLowAmplitude is returned when a band's flux range is within noise.
	ErrLowAmplitude = errors.New("flux range within noise")

	// ErrBandCode is returned when a band label cannot be stored as a single
	// ASCII code.
	ErrBandCode = errors.New("band label must be one ASCII character")

	// ErrPadTooSmall is returned when a band already has more rows than the
	// requested pad size.
	ErrPadTooSmall = errors.New("pad size smaller than band count")
)

// LightCurve is one object's photometry. Rows are aligned across the four
// columns.
type LightCurve struct {
	Name    string
	Time    []float64
	Flux    []float64
	FluxErr []float64
	Band    []string
}

// New checks that the columns are aligned and returns a curve that owns
// copies of them.
func New(name string, time, flux, fluxErr []float64, band []string) (*LightCurve, error) {
	n := len(time)
	if len(flux) != n || len(fluxErr) != n || len(band) != n {
		return nil, fmt.Errorf("%w: time=%d flux=%d flux_err=%d band=%d",
			ErrLengthMismatch, n, len(flux), len(fluxErr), len(band))
	}
	return &LightCurve{
		Name:    name,
		Time:    append([]float64(nil), time...),
		Flux:    append([]float64(nil), flux...),
		FluxErr: append([]float64(nil), fluxErr...),
		Band:    append([]string(nil), band...),
	}, nil
}

// Len returns the number of rows.
func (lc *LightCurve) Len() int { return len(lc.Time) }

// Bands returns the distinct band labels in order of first appearance.
func (lc *LightCurve) Bands() []string {
	seen := make(map[string]bool)
	var out []string
	for _, b := range lc.Band {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// Counts returns the number of rows per band.
func (lc *LightCurve) Counts() map[string]int {
	out := make(map[string]int)
	for _, b := range lc.Band {
		out[b]++
	}
	return out
}

// FilterByBand returns the rows observed in band, in their current order.
func (lc *LightCurve) FilterByBand(band string) *LightCurve {
	return lc.filter(func(i int) bool { return lc.Band[i] == band })
}

func (lc *LightCurve) filter(keep func(i int) bool) *LightCurve {
	out := &LightCurve{Name: lc.Name}
	for i := range lc.Time {
		if !keep(i) {
			continue
		}
		out.Time = append(out.Time, lc.Time[i])
		out.Flux = append(out.Flux, lc.Flux[i])
		out.FluxErr = append(out.FluxErr, lc.FluxErr[i])
		out.Band = append(out.Band, lc.Band[i])
	}
	return out
}

// SortByTime reorders rows by ascending time. Ties keep their order.
func (lc *LightCurve) SortByTime() {
	idx := make([]int, lc.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return lc.Time[idx[a]] < lc.Time[idx[b]] })

	time := make([]float64, len(idx))
	flux := make([]float64, len(idx))
	ferr := make([]float64, len(idx))
	band := make([]string, len(idx))
	for i, j := range idx {
		time[i], flux[i], ferr[i], band[i] = lc.Time[j], lc.Flux[j], lc.FluxErr[j], lc.Band[j]
	}
	lc.Time, lc.Flux, lc.FluxErr, lc.Band = time, flux, ferr, band
}

// Shift subtracts dt from every time.
func (lc *LightCurve) Shift(dt float64) {
	for i := range lc.Time {
		lc.Time[i] -= dt
	}
}

// PeakTime returns the time of the band's brightest point, where brightness
// is flux minus its absolute error.
func (lc *LightCurve) PeakTime(band string) (float64, error) {
	best := -1
	var bestVal float64
	for i, b := range lc.Band {
		if b != band {
			continue
		}
		v := lc.Flux[i] - abs(lc.FluxErr[i])
		if best < 0 || v > bestVal {
			best, bestVal = i, v
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("%s: %w: %q", lc.Name, ErrMissingBand, band)
	}
	return lc.Time[best], nil
}

// Dataset returns the curve as sampler input. Slices are shared; samplers
// copy before rearranging.
func (lc *LightCurve) Dataset() sampler.Dataset {
	return sampler.Dataset{
		Name:    lc.Name,
		Time:    lc.Time,
		Band:    lc.Band,
		FluxErr: lc.FluxErr,
		Flux:    lc.Flux,
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
