package sampler

import (
	"fmt"
	"time"
)

// Options carries the run-scoped hyperparameters of every backend. Each
// backend reads only its own fields; zero values are replaced by the
// defaults below.
type Options struct {
	// Seed drives every random stream of a fit.
	Seed uint64

	// Nested sampling.
	NumLive   int
	WalkSteps int
	DLogZ     float64
	MaxIter   int

	// NUTS.
	NumWarmup     int
	NumSamples    int
	NumChains     int
	Workers       int
	OutputSamples int
	MaxTreeDepth  int
	TargetAccept  float64

	// SVI and MAP.
	NumIter   int
	StepSize  float64
	NumOutput int

	// MaxRuntime is a soft wall-clock cap on the sampling loop of a fit.
	// Zero means no cap. A capped fit keeps the draws it has.
	MaxRuntime time.Duration
}

// DefaultOptions returns the defaults used for production fits.
func DefaultOptions() Options {
	return Options{
		NumLive:      500,
		WalkSteps:    25,
		DLogZ:        0.5,
		MaxIter:      100000,
		NumWarmup:    1000,
		NumSamples:   75,
		NumChains:    4,
		Workers:      4,
		MaxTreeDepth: 10,
		TargetAccept: 0.8,
		NumIter:      10000,
		StepSize:     0.001,
		NumOutput:    100,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NumLive == 0 {
		o.NumLive = d.NumLive
	}
	if o.WalkSteps == 0 {
		o.WalkSteps = d.WalkSteps
	}
	if o.DLogZ == 0 {
		o.DLogZ = d.DLogZ
	}
	if o.MaxIter == 0 {
		o.MaxIter = d.MaxIter
	}
	if o.NumWarmup == 0 {
		o.NumWarmup = d.NumWarmup
	}
	if o.NumSamples == 0 {
		o.NumSamples = d.NumSamples
	}
	if o.NumChains == 0 {
		o.NumChains = d.NumChains
	}
	if o.Workers == 0 {
		o.Workers = d.Workers
	}
	if o.MaxTreeDepth == 0 {
		o.MaxTreeDepth = d.MaxTreeDepth
	}
	if o.TargetAccept == 0 {
		o.TargetAccept = d.TargetAccept
	}
	if o.NumIter == 0 {
		o.NumIter = d.NumIter
	}
	if o.StepSize == 0 {
		o.StepSize = d.StepSize
	}
	if o.NumOutput == 0 {
		o.NumOutput = d.NumOutput
	}
	return o
}

// validate rejects values no backend can run with.
func (o Options) validate() error {
	switch {
	case o.NumLive < 2:
		return fmt.Errorf("num_live must be at least 2, got %d", o.NumLive)
	case o.WalkSteps < 1:
		return fmt.Errorf("walk_steps must be positive, got %d", o.WalkSteps)
	case o.DLogZ <= 0:
		return fmt.Errorf("dlogz must be positive, got %g", o.DLogZ)
	case o.NumWarmup < 1 || o.NumSamples < 1 || o.NumChains < 1 || o.Workers < 1:
		return fmt.Errorf("invalid NUTS sizes: warmup=%d samples=%d chains=%d workers=%d",
			o.NumWarmup, o.NumSamples, o.NumChains, o.Workers)
	case o.OutputSamples < 0:
		return fmt.Errorf("output_samples must not be negative, got %d", o.OutputSamples)
	case o.MaxTreeDepth < 1:
		return fmt.Errorf("max_tree_depth must be positive, got %d", o.MaxTreeDepth)
	case o.TargetAccept <= 0 || o.TargetAccept >= 1:
		return fmt.Errorf("target_accept must be in (0, 1), got %g", o.TargetAccept)
	case o.NumIter < 1 || o.StepSize <= 0 || o.NumOutput < 1:
		return fmt.Errorf("invalid SVI settings: num_iter=%d step_size=%g num_output=%d",
			o.NumIter, o.StepSize, o.NumOutput)
	case o.MaxRuntime < 0:
		return fmt.Errorf("max_runtime must not be negative, got %v", o.MaxRuntime)
	}
	return nil
}
