package lightcurve

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/sbinet/npyio/npz"

	"github.com/banshee-data/superphot/internal/fsutil"
)

// Archive member names. Band labels are stored as one ASCII code per row.
const (
	keyTime    = "time.npy"
	keyFlux    = "flux.npy"
	keyFluxErr = "flux_err.npy"
	keyBand    = "band.npy"
)

// DefaultReferenceBand is the band whose peak defines t = 0 on load.
const DefaultReferenceBand = "r"

// LoadOptions controls the cleanup applied by Load.
type LoadOptions struct {
	// TimeCeiling drops rows observed after this time (before re-zeroing).
	TimeCeiling *float64

	// ReferenceBand is the band whose peak is moved to t = 0. Defaults to
	// DefaultReferenceBand.
	ReferenceBand string
}

// Filename returns the archive path of the named curve in dir.
func Filename(dir, name string) string {
	return filepath.Join(dir, name+".npz")
}

// NameFromPath returns the object name encoded in an archive path.
func NameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".npz")
}

// Save writes lc to Filename(dir, lc.Name) and returns the path.
func (lc *LightCurve) Save(fsys fsutil.FileSystem, dir string) (string, error) {
	if lc.Len() != len(lc.Flux) || lc.Len() != len(lc.FluxErr) || lc.Len() != len(lc.Band) {
		return "", fmt.Errorf("%s: %w", lc.Name, ErrLengthMismatch)
	}
	codes := make([]uint8, lc.Len())
	for i, b := range lc.Band {
		if len(b) != 1 || b[0] > 127 {
			return "", fmt.Errorf("%s: %w: %q", lc.Name, ErrBandCode, b)
		}
		codes[i] = b[0]
	}

	path := Filename(dir, lc.Name)
	err := fsutil.WriteWith(fsys, path, func(w io.Writer) error {
		zw := npz.NewWriter(w)
		for _, m := range []struct {
			key string
			val interface{}
		}{
			{keyTime, lc.Time},
			{keyFlux, lc.Flux},
			{keyFluxErr, lc.FluxErr},
			{keyBand, codes},
		} {
			if err := zw.Write(m.key, m.val); err != nil {
				zw.Close()
				return fmt.Errorf("encode %s of %s: %w", m.key, lc.Name, err)
			}
		}
		return zw.Close()
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// Load reads the archive at path. Rows with a NaN flux error are dropped,
// rows after opts.TimeCeiling are dropped, rows are sorted by time, and the
// times are shifted so the reference band's peak sits at zero.
func Load(fsys fsutil.FileSystem, path string, opts LoadOptions) (*LightCurve, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read light curve: %w", err)
	}
	zr, err := npz.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open light curve %s: %w", path, err)
	}
	defer zr.Close()

	var (
		time, flux, ferr []float64
		codes            []uint8
	)
	for _, m := range []struct {
		key string
		ptr interface{}
	}{
		{keyTime, &time},
		{keyFlux, &flux},
		{keyFluxErr, &ferr},
		{keyBand, &codes},
	} {
		if err := zr.Read(m.key, m.ptr); err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", m.key, path, err)
		}
	}
	band := make([]string, len(codes))
	for i, c := range codes {
		band[i] = string(rune(c))
	}

	raw, err := New(NameFromPath(path), time, flux, ferr, band)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	lc := raw.filter(func(i int) bool {
		if math.IsNaN(raw.FluxErr[i]) {
			return false
		}
		return opts.TimeCeiling == nil || raw.Time[i] <= *opts.TimeCeiling
	})
	if dropped := raw.Len() - lc.Len(); dropped > 0 {
		diagf("%s: dropped %d of %d rows (NaN error or past ceiling)", lc.Name, dropped, raw.Len())
	}
	lc.SortByTime()
	if lc.Len() == 0 {
		return lc, nil
	}

	ref := opts.ReferenceBand
	if ref == "" {
		ref = DefaultReferenceBand
	}
	peak, err := lc.PeakTime(ref)
	if err != nil {
		return nil, err
	}
	lc.Shift(peak)
	return lc, nil
}
