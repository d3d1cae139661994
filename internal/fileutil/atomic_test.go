package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tiroq/cuesync/testutil"
)

func TestAtomicWriteReplacesAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep", "status.json")

	testutil.AssertNoError(t, AtomicWrite(path, []byte("one"), 0600), "first write")
	testutil.AssertNoError(t, AtomicWrite(path, []byte("two"), 0600), "overwrite")

	data, err := os.ReadFile(path)
	testutil.AssertNoError(t, err, "read")
	testutil.AssertEqual(t, "two", string(data), "content")

	info, err := os.Stat(path)
	testutil.AssertNoError(t, err, "stat")
	testutil.AssertEqual(t, os.FileMode(0600), info.Mode().Perm(), "perm")

	entries, err := os.ReadDir(filepath.Dir(path))
	testutil.AssertNoError(t, err, "readdir")
	testutil.AssertEqual(t, 1, len(entries), "no temp files left")
}

func TestAtomicWriteMissingParentIsCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.txt")
	testutil.AssertNoError(t, AtomicWrite(path, nil, 0644), "write")
	_, err := os.Stat(path)
	testutil.AssertNoError(t, err, "exists")
}
