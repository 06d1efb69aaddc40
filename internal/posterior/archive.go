package posterior

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/superphot/internal/fsutil"
)

// arrayKey is the single array stored in a posterior archive.
const arrayKey = "arr_0.npy"

// Filename returns the archive path for a target: {dir}/{name}_eqwt.npz when
// method is empty (nested sampling, legacy layout), otherwise
// {dir}/{name}_eqwt_{method}.npz.
func Filename(dir, name, method string) string {
	base := name + "_eqwt"
	if method != "" {
		base += "_" + method
	}
	return filepath.Join(dir, base+".npz")
}

// Exists reports whether an archive for (name, method) is present in dir.
func Exists(fsys fsutil.FileSystem, dir, name, method string) bool {
	return fsys.Exists(Filename(dir, name, method))
}

// Save writes the draws to Filename(dir, s.Name(), s.Method()) and returns the
// path. The score is not persisted.
func (s *Samples) Save(fsys fsutil.FileSystem, dir string) (string, error) {
	path := Filename(dir, s.name, s.method)
	err := fsutil.WriteWith(fsys, path, func(w io.Writer) error {
		zw := npz.NewWriter(w)
		if err := zw.Write(arrayKey, s.draws); err != nil {
			zw.Close()
			return fmt.Errorf("encode posterior %s: %w", s.name, err)
		}
		return zw.Close()
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// FromFile loads the archive for (name, method) from dir.
func FromFile(fsys fsutil.FileSystem, dir, name, method string) (*Samples, error) {
	path := Filename(dir, name, method)
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read posterior: %w", err)
	}
	zr, err := npz.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open posterior %s: %w", path, err)
	}
	defer zr.Close()

	var draws mat.Dense
	if err := zr.Read(arrayKey, &draws); err != nil {
		return nil, fmt.Errorf("decode posterior %s: %w", path, err)
	}
	return New(name, method, &draws)
}
