package fsx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ESPToolKit/esp-jsondb/src/dbtypes"
)

// TestAtomicWriteAndRead checks the basic write-then-read round trip and
// that no .tmp file survives a successful write.
func TestAtomicWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	c := New(nil)
	target := filepath.Join(dir, "doc.mp")

	if st := c.AtomicWrite(target, []byte("hello")); !st.IsOK() {
		t.Fatalf("AtomicWrite failed: %v", st)
	}
	if _, err := os.Stat(target + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected .tmp file to be gone, stat err = %v", err)
	}
	data, st := c.ReadFile(target)
	if !st.IsOK() {
		t.Fatalf("ReadFile failed: %v", st)
	}
	if string(data) != "hello" {
		t.Errorf("ReadFile returned %q", data)
	}
}

// TestReadFileMissingIsNotFound covers the NotFound-not-IoError rule.
func TestReadFileMissingIsNotFound(t *testing.T) {
	c := New(nil)
	_, st := c.ReadFile(filepath.Join(t.TempDir(), "missing.mp"))
	if st.Code != dbtypes.NotFound {
		t.Errorf("expected NotFound, got %v", st)
	}
}

// TestListFilesFiltersBySuffix checks the suffix filter and missing-dir no-op.
func TestListFilesFiltersBySuffix(t *testing.T) {
	dir := t.TempDir()
	c := New(nil)
	for _, name := range []string{"a.mp", "b.mp", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("setup write failed: %v", err)
		}
	}
	names, st := c.ListFiles(dir, ".mp")
	if !st.IsOK() {
		t.Fatalf("ListFiles failed: %v", st)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 .mp files, got %v", names)
	}

	missing, st := c.ListFiles(filepath.Join(dir, "nope"), ".mp")
	if !st.IsOK() || len(missing) != 0 {
		t.Errorf("missing dir should list empty, got %v / %v", missing, st)
	}
}

// TestRemoveTreeRemovesNestedContent exercises the depth-first recursive removal.
func TestRemoveTreeRemovesNestedContent(t *testing.T) {
	dir := t.TempDir()
	c := New(nil)
	nested := filepath.Join(dir, "sub", "inner")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("setup mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "f.mp"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}

	if st := c.RemoveTree(dir); !st.IsOK() {
		t.Fatalf("RemoveTree failed: %v", st)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected dir to be gone, stat err = %v", err)
	}
}

// TestRemoveTreeOnMissingPathIsNoop covers "non-existent paths are no-ops".
func TestRemoveTreeOnMissingPathIsNoop(t *testing.T) {
	c := New(nil)
	if st := c.RemoveTree(filepath.Join(t.TempDir(), "nope")); !st.IsOK() {
		t.Errorf("expected Ok for missing path, got %v", st)
	}
}
