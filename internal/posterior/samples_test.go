package posterior

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/superphot/internal/fsutil"
)

func testDraws() *mat.Dense {
	return mat.NewDense(4, 3, []float64{
		1, 10, -1,
		2, 20, -2,
		3, 30, -3,
		4, 40, -4,
	})
}

func TestFilename(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"", "out/ZTF22abc_eqwt.npz"},
		{"svi", "out/ZTF22abc_eqwt_svi.npz"},
		{"NUTS", "out/ZTF22abc_eqwt_NUTS.npz"},
	}
	for _, tc := range tests {
		t.Run(tc.method, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tc.want), Filename("out", "ZTF22abc", tc.method))
		})
	}
}

func TestSummaries(t *testing.T) {
	s, err := New("obj", "svi", testDraws())
	require.NoError(t, err)

	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 3, s.Dim())
	assert.InDeltaSlice(t, []float64{2.5, 25, -2.5}, s.SampleMean(), 1e-12)
	assert.InDeltaSlice(t, []float64{5.0 / 3, 500.0 / 3, 5.0 / 3}, s.SampleVariance(), 1e-12)

	// Returned slices are copies.
	m := s.SampleMean()
	m[0] = 99
	assert.Equal(t, 2.5, s.SampleMean()[0])
}

func TestNewRejectsEmpty(t *testing.T) {
	_, err := New("obj", "", nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestCheckColumns(t *testing.T) {
	s, err := New("obj", "", testDraws())
	require.NoError(t, err)
	assert.NoError(t, s.CheckColumns(3))
	if err := s.CheckColumns(14); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("CheckColumns(14) = %v, want ErrDimensionMismatch", err)
	}
}

func TestFeatures(t *testing.T) {
	s, err := New("obj", "NUTS", testDraws())
	require.NoError(t, err)

	_, _, score, ok := s.Features()
	assert.False(t, ok)
	assert.True(t, math.IsNaN(score))

	s.SetScore(1.25)
	mean, draws, score, ok := s.Features()
	assert.True(t, ok)
	assert.Equal(t, 1.25, score)
	assert.Equal(t, 2.5, mean[0])
	assert.Same(t, s.Draws(), draws)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, method := range []string{"", "svi"} {
		t.Run("method="+method, func(t *testing.T) {
			mfs := fsutil.NewMemoryFileSystem()
			orig, err := New("ZTF22abc", method, testDraws())
			require.NoError(t, err)
			wantMean := orig.SampleMean()

			path, err := orig.Save(mfs, "/posteriors")
			require.NoError(t, err)
			assert.Equal(t, Filename("/posteriors", "ZTF22abc", method), path)
			assert.True(t, Exists(mfs, "/posteriors", "ZTF22abc", method))

			loaded, err := FromFile(mfs, "/posteriors", "ZTF22abc", method)
			require.NoError(t, err)
			assert.Equal(t, orig.Name(), loaded.Name())
			assert.Equal(t, orig.Method(), loaded.Method())
			assert.Equal(t, orig.Len(), loaded.Len())
			assert.True(t, mat.Equal(orig.Draws(), loaded.Draws()), "draws differ after round trip")
			assert.InDeltaSlice(t, wantMean, loaded.SampleMean(), 1e-12)
		})
	}
}

func TestFromFileMissing(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_, err := FromFile(mfs, "/posteriors", "nothing", "svi")
	assert.Error(t, err)
	assert.False(t, Exists(mfs, "/posteriors", "nothing", "svi"))
}
