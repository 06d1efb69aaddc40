package fsutil

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestWriteWith_OS(t *testing.T) {
	fs := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "nested", "out.bin")

	err := WriteWith(fs, path, func(w io.Writer) error {
		_, err := w.Write([]byte("archive"))
		return err
	})
	if err != nil {
		t.Fatalf("WriteWith failed: %v", err)
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "archive" {
		t.Errorf("expected %q, got %q", "archive", data)
	}
	if fs.Exists(path + ".tmp") {
		t.Error("temporary file left behind")
	}
}

func TestWriteWith_Memory(t *testing.T) {
	mfs := NewMemoryFileSystem()

	err := WriteWith(mfs, "/out/posterior.npz", func(w io.Writer) error {
		_, err := w.Write([]byte("created content"))
		return err
	})
	if err != nil {
		t.Fatalf("WriteWith failed: %v", err)
	}

	data, err := mfs.ReadFile("/out/posterior.npz")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "created content" {
		t.Errorf("expected 'created content', got %q", data)
	}
	if !mfs.Exists("/out") {
		t.Error("expected parent directory to exist")
	}
}

func TestWriteWith_FailureLeavesNothing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	boom := errors.New("encode failed")

	err := WriteWith(mfs, "/out/bad.npz", func(w io.Writer) error {
		w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected encode error, got %v", err)
	}
	if mfs.Exists("/out/bad.npz") || mfs.Exists("/out/bad.npz.tmp") {
		t.Error("failed write left a file behind")
	}
}

func TestMemoryFileSystem_RenameMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.Rename("/a", "/b"); err == nil {
		t.Error("expected error renaming missing file")
	}
}

func TestMemoryFileSystem_ReadMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.ReadFile("/nope"); err == nil {
		t.Error("expected error reading missing file")
	}
	if err := mfs.Remove("/nope"); err == nil {
		t.Error("expected error removing missing file")
	}
}
