package priors

// Param is one entry of the canonical parameter vector.
type Param struct {
	Band      string
	Quantity  Quantity
	Reference bool
}

// Name returns the posterior column name: the bare quantity name for the
// reference band, suffixed with "_<band>" otherwise.
func (p Param) Name() string {
	if p.Reference {
		return p.Quantity.String()
	}
	return p.Quantity.String() + "_" + p.Band
}

// Schema is the ordered list of (band, quantity) pairs shared by priors,
// model, samplers and posterior columns. It is computed once per
// MultibandPriors.
type Schema struct {
	bands  []string
	params []Param
	index  map[string]int
}

func newSchema(bands []string) *Schema {
	s := &Schema{
		bands:  append([]string(nil), bands...),
		params: make([]Param, 0, len(bands)*NumQuantities),
		index:  make(map[string]int, len(bands)),
	}
	for bi, b := range bands {
		s.index[b] = bi
		for _, q := range Quantities() {
			s.params = append(s.params, Param{Band: b, Quantity: q, Reference: bi == 0})
		}
	}
	return s
}

// Len is the length of the parameter vector: 7 × number of bands.
func (s *Schema) Len() int { return len(s.params) }

// NumBands returns the number of bands.
func (s *Schema) NumBands() int { return len(s.bands) }

// Bands returns the canonical band order.
func (s *Schema) Bands() []string { return append([]string(nil), s.bands...) }

// BandIndex returns the position of band b in the canonical order.
func (s *Schema) BandIndex(b string) (int, bool) {
	i, ok := s.index[b]
	return i, ok
}

// Param returns the i-th parameter.
func (s *Schema) Param(i int) Param { return s.params[i] }

// Offset returns the vector index of quantity q in band position bi.
func (s *Schema) Offset(bi int, q Quantity) int { return bi*NumQuantities + int(q) }

// Names returns the column names in canonical order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.params))
	for i, p := range s.params {
		out[i] = p.Name()
	}
	return out
}
