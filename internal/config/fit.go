// Package config loads fit configuration: the sampler to run, its
// hyperparameters and the light-curve preparation settings.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/banshee-data/superphot/internal/lightcurve"
	"github.com/banshee-data/superphot/internal/priors"
	"github.com/banshee-data/superphot/internal/sampler"
)

// maxFileSize caps config files read from disk.
const maxFileSize = 1 * 1024 * 1024 // 1MB

var validate = validator.New()

// FitConfig is the JSON schema of a fit configuration. Zero-valued fields
// take the default in their tag; hyperparameters a backend does not use are
// ignored by it.
type FitConfig struct {
	Method string `json:"method" default:"dynesty" validate:"oneof=dynesty nested NUTS nuts svi map iminuit"`
	Seed   uint64 `json:"seed"`

	// NUTS
	NumWarmup     int     `json:"num_warmup" default:"1000" validate:"gte=1"`
	NumSamples    int     `json:"num_samples" default:"75" validate:"gte=1"`
	NumChains     int     `json:"num_chains" default:"4" validate:"gte=1"`
	Workers       int     `json:"workers" default:"4" validate:"gte=1"`
	OutputSamples int     `json:"output_samples" validate:"gte=0"`
	MaxTreeDepth  int     `json:"max_tree_depth" default:"10" validate:"gte=1,lte=20"`
	TargetAccept  float64 `json:"target_accept" default:"0.8" validate:"gt=0,lt=1"`

	// SVI and MAP
	NumIter   int     `json:"num_iter" default:"10000" validate:"gte=1"`
	StepSize  float64 `json:"step_size" default:"0.001" validate:"gt=0"`
	NumOutput int     `json:"num_output" default:"100" validate:"gte=1"`

	// Nested sampling
	NumLive   int     `json:"num_live" default:"500" validate:"gte=2"`
	WalkSteps int     `json:"walk_steps" default:"25" validate:"gte=1"`
	DLogZ     float64 `json:"dlogz" default:"0.5" validate:"gt=0"`
	MaxIter   int     `json:"max_iter" default:"100000" validate:"gte=1"`

	// MaxRuntime is a duration string like "90s". Empty means no cap.
	MaxRuntime string `json:"max_runtime,omitempty"`

	// Light-curve preparation. PadSize 0 pads every band to the largest one.
	PadSize       int      `json:"pad_size" validate:"gte=0"`
	TimeCeiling   *float64 `json:"time_ceiling,omitempty"`
	PriorTable    string   `json:"prior_table,omitempty"`
	ClipTail      bool     `json:"clip_tail"`

	// ReferenceBand, when set, must match the prior table's reference band.
	// Light curves are re-zeroed at that band's peak.
	ReferenceBand string `json:"reference_band,omitempty"`
}

// DefaultFitConfig returns a FitConfig with every default applied.
func DefaultFitConfig() *FitConfig {
	cfg := &FitConfig{}
	if err := defaults.Set(cfg); err != nil {
		// Tags are static; a failure here is a programming error.
		panic(fmt.Sprintf("config: invalid default tags: %v", err))
	}
	return cfg
}

// LoadFitConfig loads a FitConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Omitted fields take their defaults.
func LoadFitConfig(path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseFitConfig(data)
}

// ParseFitConfig decodes JSON, applies defaults and validates the result.
func ParseFitConfig(data []byte) (*FitConfig, error) {
	cfg := &FitConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges and that MaxRuntime parses.
func (c *FitConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if _, err := c.Runtime(); err != nil {
		return err
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

// Runtime returns the parsed MaxRuntime, zero when unset.
func (c *FitConfig) Runtime() (time.Duration, error) {
	if c.MaxRuntime == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MaxRuntime)
	if err != nil {
		return 0, fmt.Errorf("invalid max_runtime '%s': %w", c.MaxRuntime, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("max_runtime must be non-negative, got %s", c.MaxRuntime)
	}
	return d, nil
}

// SamplerOptions maps the hyperparameters onto sampler.Options.
func (c *FitConfig) SamplerOptions() sampler.Options {
	runtime, _ := c.Runtime()
	return sampler.Options{
		Seed:          c.Seed,
		NumLive:       c.NumLive,
		WalkSteps:     c.WalkSteps,
		DLogZ:         c.DLogZ,
		MaxIter:       c.MaxIter,
		NumWarmup:     c.NumWarmup,
		NumSamples:    c.NumSamples,
		NumChains:     c.NumChains,
		Workers:       c.Workers,
		OutputSamples: c.OutputSamples,
		MaxTreeDepth:  c.MaxTreeDepth,
		TargetAccept:  c.TargetAccept,
		NumIter:       c.NumIter,
		StepSize:      c.StepSize,
		NumOutput:     c.NumOutput,
		MaxRuntime:    runtime,
	}
}

// ErrReferenceBand is returned when reference_band disagrees with the prior
// table.
var ErrReferenceBand = errors.New("config: reference_band does not match priors")

// Priors returns the prior table named by PriorTable, or the ZTF defaults
// when it is empty.
func (c *FitConfig) Priors() (*priors.MultibandPriors, error) {
	mp := priors.ZTF()
	if c.PriorTable != "" {
		var err error
		if mp, err = priors.LoadTable(c.PriorTable); err != nil {
			return nil, err
		}
	}
	if c.ReferenceBand != "" && c.ReferenceBand != mp.ReferenceBand() {
		return nil, fmt.Errorf("%w: %q, priors use %q", ErrReferenceBand, c.ReferenceBand, mp.ReferenceBand())
	}
	return mp, nil
}

// LoadOptions returns the light-curve cleanup settings for fits against mp.
func (c *FitConfig) LoadOptions(mp *priors.MultibandPriors) lightcurve.LoadOptions {
	return lightcurve.LoadOptions{
		TimeCeiling:   c.TimeCeiling,
		ReferenceBand: mp.ReferenceBand(),
	}
}

// NewSampler builds the configured sampler over mp.
func (c *FitConfig) NewSampler(mp *priors.MultibandPriors) (sampler.Sampler, error) {
	return sampler.New(c.Method, mp, c.SamplerOptions())
}
