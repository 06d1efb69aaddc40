// Package pipeline runs light-curve fits end to end: preparing a curve for
// the configured sampler, fitting it, and persisting and cataloguing the
// posterior. Batch runs isolate per-object failures.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/superphot/internal/config"
	"github.com/banshee-data/superphot/internal/lightcurve"
	"github.com/banshee-data/superphot/internal/posterior"
	"github.com/banshee-data/superphot/internal/priors"
	"github.com/banshee-data/superphot/internal/sampler"
)

// inputErrors are the failures that mean "this curve cannot be fit" rather
// than "the run is misconfigured".
var inputErrors = []error{
	lightcurve.ErrEmpty,
	lightcurve.ErrMissingBand,
	lightcurve.ErrLowSignal,
	lightcurve.ErrLowAmplitude,
	sampler.ErrMissingBand,
	sampler.ErrUnbalancedBands,
}

// IsInputError reports whether err marks an unusable light curve.
func IsInputError(err error) bool {
	for _, target := range inputErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Prepare turns a loaded curve into sampler input: rows in bands mp does not
// model are dropped, the flat tail is clipped when cfg.ClipTail is set, the
// signal checks run, and every band is padded to cfg.PadSize rows. It
// returns the dataset and the row count before padding.
func Prepare(lc *lightcurve.LightCurve, mp *priors.MultibandPriors, cfg *config.FitConfig) (sampler.Dataset, int, error) {
	bands := mp.Bands()
	known := make(map[string]bool, len(bands))
	for _, b := range bands {
		known[b] = true
	}
	kept := &lightcurve.LightCurve{Name: lc.Name}
	for i, b := range lc.Band {
		if !known[b] {
			continue
		}
		kept.Time = append(kept.Time, lc.Time[i])
		kept.Flux = append(kept.Flux, lc.Flux[i])
		kept.FluxErr = append(kept.FluxErr, lc.FluxErr[i])
		kept.Band = append(kept.Band, b)
	}
	if dropped := lc.Len() - kept.Len(); dropped > 0 {
		diagf("%s: dropped %d rows in bands without priors", lc.Name, dropped)
	}

	if cfg.ClipTail {
		kept = kept.ClipTail()
	}
	if err := kept.CheckSignal(bands); err != nil {
		return sampler.Dataset{}, 0, err
	}
	padded, orig, err := kept.Pad(bands, cfg.PadSize)
	if err != nil {
		return sampler.Dataset{}, 0, err
	}
	return padded.Dataset(), orig, nil
}

// RunSingleCurve fits one light curve with s. A curve that fails the input
// checks yields (nil, nil) and a diagnostic log line; configuration and
// numerical failures are returned as errors. A fit whose score could not be
// computed still returns its samples.
func RunSingleCurve(lc *lightcurve.LightCurve, s sampler.Sampler, mp *priors.MultibandPriors, cfg *config.FitConfig) (*posterior.Samples, error) {
	d, orig, err := Prepare(lc, mp, cfg)
	if err == nil {
		err = s.Fit(d, orig)
	}
	if err != nil {
		if IsInputError(err) {
			diagf("%s: no fit: %v", lc.Name, err)
			return nil, nil
		}
		return nil, fmt.Errorf("fit %s: %w", lc.Name, err)
	}

	res := s.Result()
	if score, ok := res.Score(); ok {
		diagf("%s: %s fit, %d draws, reduced chi2 %.3f", lc.Name, s.Method(), res.Len(), score)
	} else {
		diagf("%s: %s fit, %d draws, unscored", lc.Name, s.Method(), res.Len())
	}
	return res, nil
}
