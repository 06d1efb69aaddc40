package catalog

import (
	"errors"
	"io/fs"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/superphot/internal/posterior"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "fits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testSamples(t *testing.T, name, method string) *posterior.Samples {
	t.Helper()
	s, err := posterior.New(name, method, mat.NewDense(2, 3, []float64{
		1, 10, 100,
		3, 30, 300,
	}))
	require.NoError(t, err)
	return s
}

func TestMigrations(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	c := openTest(t)
	version, dirty, err := c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, c.MigrateUp())

	require.NoError(t, c.MigrateDown())
	version, _, err = c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, c.MigrateUp())
	version, _, err = c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRecordAndGet(t *testing.T) {
	c := openTest(t)
	s := testSamples(t, "ZTF22abc", "svi")
	s.SetScore(1.25)

	f, err := c.Record(s, []string{"A", "beta", "gamma"}, 1500*time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)

	got, err := c.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "ZTF22abc", got.Name)
	assert.Equal(t, "svi", got.Method)
	assert.True(t, got.HasScore())
	assert.Equal(t, 1.25, got.Score)
	assert.Equal(t, 2, got.NumDraws)
	assert.Equal(t, []string{"A", "beta", "gamma"}, got.Columns)
	assert.Equal(t, []float64{2, 20, 200}, got.Mean)
	assert.Equal(t, 1500*time.Millisecond, got.Runtime)
	assert.Equal(t, f.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())
}

func TestRecordUnscored(t *testing.T) {
	c := openTest(t)
	f, err := c.Record(testSamples(t, "obj", ""), []string{"a", "b", "c"}, 0)
	require.NoError(t, err)

	got, err := c.Get(f.ID)
	require.NoError(t, err)
	assert.False(t, got.HasScore())
	assert.True(t, math.IsNaN(got.Score))
}

func TestRecordColumnMismatch(t *testing.T) {
	c := openTest(t)
	_, err := c.Record(testSamples(t, "obj", ""), []string{"a"}, 0)
	assert.ErrorIs(t, err, posterior.ErrDimensionMismatch)
}

func TestInsertNonFiniteMean(t *testing.T) {
	c := openTest(t)
	f := &Fit{
		ID: "fit-nan", Name: "obj", Score: math.NaN(), NumDraws: 1,
		Columns: []string{"a", "b"}, Mean: []float64{math.NaN(), 4},
		CreatedAt: time.Unix(100, 0),
	}
	require.NoError(t, c.Insert(f))

	got, err := c.Get("fit-nan")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Mean[0]))
	assert.Equal(t, 4.0, got.Mean[1])
}

func TestLatestAndList(t *testing.T) {
	c := openTest(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, fit := range []struct{ id, name, method string }{
		{"f1", "obj", "svi"},
		{"f2", "obj", "svi"},
		{"f3", "obj", "NUTS"},
		{"f4", "other", "svi"},
	} {
		require.NoError(t, c.Insert(&Fit{
			ID: fit.id, Name: fit.name, Method: fit.method, Score: float64(i),
			NumDraws: 1, Columns: []string{"A"}, Mean: []float64{1},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := c.Latest("obj", "svi")
	require.NoError(t, err)
	assert.Equal(t, "f2", got.ID)

	_, err = c.Latest("obj", "dynesty")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := c.List("", 0)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, f := range all {
		ids[i] = f.ID
	}
	assert.Equal(t, []string{"f4", "f3", "f2", "f1"}, ids)

	svi, err := c.List("svi", 2)
	require.NoError(t, err)
	require.Len(t, svi, 2)
	assert.Equal(t, "f4", svi[0].ID)
	assert.Equal(t, "f2", svi[1].ID)
}

func TestDelete(t *testing.T) {
	c := openTest(t)
	f, err := c.Record(testSamples(t, "obj", "svi"), []string{"a", "b", "c"}, 0)
	require.NoError(t, err)

	require.NoError(t, c.Delete(f.ID))
	_, err = c.Get(f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Delete(f.ID), ErrNotFound)
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("success after retry", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-busy error is not retried", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("constraint failed")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		assert.Error(t, err)
		assert.Equal(t, busyRetries, calls)
	})
}
