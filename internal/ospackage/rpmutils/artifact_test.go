package rpmutils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadArtifactNEVRAErrors(t *testing.T) {
	if _, err := ReadArtifactNEVRA(filepath.Join(t.TempDir(), "missing.rpm")); err == nil {
		t.Error("expected error for missing file")
	}

	bogus := filepath.Join(t.TempDir(), "bogus.rpm")
	if err := os.WriteFile(bogus, []byte("not an rpm"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := ReadArtifactNEVRA(bogus); err == nil {
		t.Error("expected error for non-rpm file")
	}
}

func TestIsRemote(t *testing.T) {
	for path, want := range map[string]bool{
		"http://repo/x.rpm":  true,
		"https://repo/x.rpm": true,
		"ftp://repo/x.rpm":   true,
		"/srv/repo/x.rpm":    false,
		"x.rpm":              false,
	} {
		if got := IsRemote(path); got != want {
			t.Errorf("IsRemote(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestCompareEVRA(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"*:1.0-1.x86_64", "*:1.0-1.i686", 0},
		{"*:1.0-1.*", "*:1.0-2.*", -1},
		{"1:1.0-1.x86_64", "0:9.0-1.x86_64", 1},
		{"*:1.10-1.x86_64", "*:1.9-1.x86_64", 1},
		{"0:2.0-3.el9.x86_64", "*:2.0-3.el9.x86_64", 0},
	}
	for _, tt := range tests {
		if got := CompareEVRA(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareEVRA(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestReadKeyInfo(t *testing.T) {
	keys, err := ReadKeyInfo(filepath.Join("testdata", "RPM-GPG-KEY-test"))
	if err != nil {
		t.Fatalf("ReadKeyInfo failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %d", len(keys))
	}
	if keys[0].Version != "d7b75813" || keys[0].Release != "6ad1e036" {
		t.Errorf("unexpected key info %+v", keys[0])
	}
	if keys[0].UserID != "Reconciler Test Key <test@example.com>" {
		t.Errorf("unexpected user id %q", keys[0].UserID)
	}

	bogus := filepath.Join(t.TempDir(), "bogus.asc")
	if err := os.WriteFile(bogus, []byte("-----BEGIN NOTHING-----\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := ReadKeyInfo(bogus); err == nil {
		t.Error("expected error for unparsable key")
	}
}
