package main

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/superphot/internal/catalog"
	"github.com/banshee-data/superphot/internal/monitoring"
	"github.com/banshee-data/superphot/internal/posterior"
)

func TestColumnNames(t *testing.T) {
	names := columnNames(14)
	assert.Len(t, names, 14)
	assert.NotEqual(t, "param_0", names[0])

	assert.Equal(t, []string{"param_0", "param_1"}, columnNames(2))
}

func TestPrintSamples(t *testing.T) {
	res, err := posterior.New("ZTF21abc", "svi", mat.NewDense(2, 2, []float64{1, 10, 3, 10}))
	require.NoError(t, err)
	res.SetScore(1.25)

	var buf bytes.Buffer
	printSamples(&buf, res, []string{"amp", "beta"})
	out := buf.String()
	assert.Contains(t, out, "ZTF21abc (svi): 2 draws")
	assert.Contains(t, out, "reduced chi2: 1.2500")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"amp", "2", "1.41"}, strings.Fields(lines[3]))
	assert.Equal(t, []string{"beta", "10", "0"}, strings.Fields(lines[4]))
}

func TestPrintFitUnscored(t *testing.T) {
	f := &catalog.Fit{
		ID:        "abc",
		Name:      "ZTF21abc",
		Method:    "map",
		Score:     math.NaN(),
		NumDraws:  100,
		Columns:   []string{"amp"},
		Mean:      []float64{1000},
		Runtime:   1500 * time.Millisecond,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	printFit(&buf, f)
	out := buf.String()
	assert.Contains(t, out, "abc ZTF21abc (map): 100 draws, runtime 1.5s, recorded 2024-05-01T12:00:00Z")
	assert.NotContains(t, out, "chi2")
	assert.Contains(t, out, "amp")
}

func TestNewMux(t *testing.T) {
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "fits.db"))
	require.NoError(t, err)
	defer cat.Close()

	get := func(mux *http.ServeMux, path string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	mux := newMux(cat, monitoring.NewRecorder())
	assert.Equal(t, http.StatusOK, get(mux, "/metrics"))
	assert.Equal(t, http.StatusOK, get(mux, "/api/fits"))

	mux = newMux(cat, nil)
	assert.Equal(t, http.StatusNotFound, get(mux, "/metrics"))
}
