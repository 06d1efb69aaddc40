package priors

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fieldsEntry is the on-disk form of PriorFields. A missing bound means the
// prior is untruncated on that side.
type fieldsEntry struct {
	Low  *float64 `json:"low,omitempty" yaml:"low,omitempty"`
	High *float64 `json:"high,omitempty" yaml:"high,omitempty"`
	Mean float64  `json:"mean" yaml:"mean"`
	Std  float64  `json:"std" yaml:"std"`
}

type curveEntry struct {
	Amp        fieldsEntry `json:"amp" yaml:"amp"`
	Beta       fieldsEntry `json:"beta" yaml:"beta"`
	Gamma      fieldsEntry `json:"gamma" yaml:"gamma"`
	T0         fieldsEntry `json:"t0" yaml:"t0"`
	TauRise    fieldsEntry `json:"tau_rise" yaml:"tau_rise"`
	TauFall    fieldsEntry `json:"tau_fall" yaml:"tau_fall"`
	ExtraSigma fieldsEntry `json:"extra_sigma" yaml:"extra_sigma"`
}

type bandEntry struct {
	Band   string     `json:"band" yaml:"band"`
	Priors curveEntry `json:"priors" yaml:"priors"`
}

// Table is the serialized prior table: one row of bounds/mean/std per
// quantity per band, with one band flagged as reference.
type Table struct {
	ReferenceBand string      `json:"reference_band" yaml:"reference_band"`
	Bands         []bandEntry `json:"bands" yaml:"bands"`
}

func (f fieldsEntry) toFields() PriorFields {
	p := PriorFields{Low: math.Inf(-1), High: math.Inf(1), Mean: f.Mean, Std: f.Std}
	if f.Low != nil {
		p.Low = *f.Low
	}
	if f.High != nil {
		p.High = *f.High
	}
	return p
}

func fromFields(p PriorFields) fieldsEntry {
	e := fieldsEntry{Mean: p.Mean, Std: p.Std}
	if lo, hi := p.Bounded(); lo || hi {
		if lo {
			v := p.Low
			e.Low = &v
		}
		if hi {
			v := p.High
			e.High = &v
		}
	}
	return e
}

func (c curveEntry) toCurve() CurvePriors {
	var cp CurvePriors
	cp[Amp] = c.Amp.toFields()
	cp[Beta] = c.Beta.toFields()
	cp[Gamma] = c.Gamma.toFields()
	cp[T0] = c.T0.toFields()
	cp[TauRise] = c.TauRise.toFields()
	cp[TauFall] = c.TauFall.toFields()
	cp[ExtraSigma] = c.ExtraSigma.toFields()
	return cp
}

// Build converts the table into validated MultibandPriors.
func (t Table) Build() (*MultibandPriors, error) {
	bands := make([]BandPriors, 0, len(t.Bands))
	for _, b := range t.Bands {
		bands = append(bands, BandPriors{Band: b.Band, Priors: b.Priors.toCurve()})
	}
	return NewMultibandPriors(t.ReferenceBand, bands)
}

// ToTable converts priors back into their serialized form.
func (m *MultibandPriors) ToTable() Table {
	t := Table{ReferenceBand: m.reference}
	for _, b := range m.order {
		c := m.bands[b]
		t.Bands = append(t.Bands, bandEntry{
			Band: b,
			Priors: curveEntry{
				Amp:        fromFields(c[Amp]),
				Beta:       fromFields(c[Beta]),
				Gamma:      fromFields(c[Gamma]),
				T0:         fromFields(c[T0]),
				TauRise:    fromFields(c[TauRise]),
				TauFall:    fromFields(c[TauFall]),
				ExtraSigma: fromFields(c[ExtraSigma]),
			},
		})
	}
	return t
}

// LoadTable reads a prior table from a .json, .yaml or .yml file.
func LoadTable(path string) (*MultibandPriors, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("prior table must be .json, .yaml or .yml, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat prior table: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("prior table too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prior table: %w", err)
	}

	var t Table
	if ext == ".json" {
		err = json.Unmarshal(data, &t)
	} else {
		err = yaml.Unmarshal(data, &t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse prior table: %w", err)
	}
	return t.Build()
}
