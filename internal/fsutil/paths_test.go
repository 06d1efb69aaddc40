package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithinDir(t *testing.T) {
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "fits")
	unsafeDir := filepath.Join(tmpDir, "elsewhere")
	for _, d := range []string{safeDir, unsafeDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	link := filepath.Join(safeDir, "link")
	if err := os.Symlink(unsafeDir, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(safeDir, "a_eqwt.npz"), false},
		{"nested new file", filepath.Join(safeDir, "sub", "a.npz"), false},
		{"dot dot", filepath.Join(safeDir, "..", "a.npz"), true},
		{"sibling", filepath.Join(unsafeDir, "a.npz"), true},
		{"through symlink", filepath.Join(link, "a.npz"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := WithinDir(tc.path, safeDir)
			if (err != nil) != tc.wantErr {
				t.Errorf("WithinDir(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ZTF22abcdef", "ZTF22abcdef"},
		{"SN 2023ixf", "SN_2023ixf"},
		{"../../etc/passwd", "etc_passwd"},
		{"a//b  c", "a_b_c"},
		{"", "unknown"},
		{"___", "unknown"},
		{"2020.a-b", "2020.a-b"},
	}
	for _, tc := range tests {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	if got := SanitizeName(string(long)); len(got) != maxNameLen {
		t.Errorf("len(SanitizeName(long)) = %d, want %d", len(got), maxNameLen)
	}
}
