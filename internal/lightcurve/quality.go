package lightcurve

import (
	"fmt"
	"math"
)

// Quality thresholds applied per band by CheckSignal.
const (
	// MinHighSignal is the minimum number of points with SNR above
	// HighSignalSNR.
	MinHighSignal = 5
	HighSignalSNR = 3.0

	// AmplitudeNoiseRatio is the minimum (max-min flux) / mean error.
	AmplitudeNoiseRatio = 3.0
)

// tailSlopeFraction scales the peak-to-end slope into the cutoff below which
// trailing points count as flat.
const tailSlopeFraction = 0.2

// PadFluxErr is the flux error given to padding rows, large enough that they
// carry no weight in the likelihood or the score.
const PadFluxErr = 1e10

// CheckSignal rejects curves that cannot constrain a fit: every band in bands
// needs at least MinHighSignal points with |flux/err| > HighSignalSNR, and a
// flux range of at least AmplitudeNoiseRatio times its mean error.
func (lc *LightCurve) CheckSignal(bands []string) error {
	if lc.Len() == 0 {
		return fmt.Errorf("%s: %w", lc.Name, ErrEmpty)
	}
	for _, b := range bands {
		var (
			n, high  int
			lo, hi   = math.Inf(1), math.Inf(-1)
			errTotal float64
		)
		for i, band := range lc.Band {
			if band != b {
				continue
			}
			n++
			f, e := lc.Flux[i], lc.FluxErr[i]
			if math.Abs(f/e) > HighSignalSNR {
				high++
			}
			lo = math.Min(lo, f)
			hi = math.Max(hi, f)
			errTotal += e
		}
		if n == 0 {
			return fmt.Errorf("%s: %w: %q", lc.Name, ErrMissingBand, b)
		}
		if high < MinHighSignal {
			return fmt.Errorf("%s: %w: band %q has %d (need %d)", lc.Name, ErrLowSignal, b, high, MinHighSignal)
		}
		if hi-lo < AmplitudeNoiseRatio*errTotal/float64(n) {
			return fmt.Errorf("%s: %w: band %q range %.3g vs mean error %.3g",
				lc.Name, ErrLowAmplitude, b, hi-lo, errTotal/float64(n))
		}
	}
	return nil
}

// ClipTail removes the flat end of each band's decline. Walking back from
// the last point towards the peak, the furthest point whose slope to the last
// point is below a fifth of the peak-to-end slope marks the cut; it and
// everything after it are dropped. Rows are assumed time-ordered within a
// band. The result groups rows by band in the order of Bands().
func (lc *LightCurve) ClipTail() *LightCurve {
	out := &LightCurve{Name: lc.Name}
	for _, b := range lc.Bands() {
		sub := lc.FilterByBand(b)
		n := sub.Len()

		peak := 0
		for i, f := range sub.Flux {
			if f > sub.Flux[peak] {
				peak = i
			}
		}

		cut := 0
		last := n - 1
		if peak < last {
			cutoff := tailSlopeFraction * math.Abs((sub.Flux[last]-sub.Flux[peak])/(sub.Time[last]-sub.Time[peak]))
			for i := 2; i < n-peak; i++ {
				j := n - i
				m := (sub.Flux[j] - sub.Flux[last]) / (sub.Time[j] - sub.Time[last])
				if math.Abs(m) < cutoff {
					cut = i
				}
			}
		}
		if cut > 0 {
			diagf("%s: clipped %d flat tail points from band %q", lc.Name, cut, b)
		}

		keep := n - cut
		out.Time = append(out.Time, sub.Time[:keep]...)
		out.Flux = append(out.Flux, sub.Flux[:keep]...)
		out.FluxErr = append(out.FluxErr, sub.FluxErr[:keep]...)
		out.Band = append(out.Band, sub.Band[:keep]...)
	}
	return out
}

// Pad appends rows so every band in bands has size rows, and returns the
// padded curve with the row count before padding. A size of zero pads to the
// largest band. Padding rows repeat the band's last time with zero flux and
// PadFluxErr so they do not move the fit.
func (lc *LightCurve) Pad(bands []string, size int) (*LightCurve, int, error) {
	counts := lc.Counts()
	if size <= 0 {
		for _, b := range bands {
			size = max(size, counts[b])
		}
	}

	out := &LightCurve{Name: lc.Name}
	for _, b := range bands {
		sub := lc.FilterByBand(b)
		if sub.Len() == 0 {
			return nil, 0, fmt.Errorf("%s: %w: %q", lc.Name, ErrMissingBand, b)
		}
		if sub.Len() > size {
			return nil, 0, fmt.Errorf("%s: %w: band %q has %d rows, pad size %d",
				lc.Name, ErrPadTooSmall, b, sub.Len(), size)
		}
		lastTime := sub.Time[sub.Len()-1]
		for sub.Len() < size {
			sub.Time = append(sub.Time, lastTime)
			sub.Flux = append(sub.Flux, 0)
			sub.FluxErr = append(sub.FluxErr, PadFluxErr)
			sub.Band = append(sub.Band, b)
		}
		out.Time = append(out.Time, sub.Time...)
		out.Flux = append(out.Flux, sub.Flux...)
		out.FluxErr = append(out.FluxErr, sub.FluxErr...)
		out.Band = append(out.Band, sub.Band...)
	}

	orig := 0
	for _, b := range bands {
		orig += counts[b]
	}
	return out, orig, nil
}
