package sampler

import (
	"fmt"
	"strings"

	"github.com/banshee-data/superphot/internal/priors"
)

// Methods lists the accepted sampler names. Lookup is case-insensitive.
func Methods() []string {
	return []string{"dynesty", "nested", "NUTS", "svi", "map", "iminuit"}
}

// New returns the sampler registered under name.
func New(name string, mp *priors.MultibandPriors, opts Options) (Sampler, error) {
	var (
		s   Sampler
		err error
	)
	switch strings.ToLower(name) {
	case "dynesty", "nested":
		s, err = NewNested(mp, opts)
	case "nuts":
		s, err = NewNUTS(mp, opts)
	case "svi":
		s, err = NewSVI(mp, opts)
	case "map", "iminuit":
		s, err = NewMAP(mp, opts)
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownSampler, name, strings.Join(Methods(), ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}
