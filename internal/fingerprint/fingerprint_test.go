package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

type memStore map[string]string

func (m memStore) Fingerprint(pkg string) (string, bool, error) {
	h, ok := m[pkg]
	return h, ok, nil
}

func (m memStore) RecordFingerprint(pkg, hash string) error {
	m[pkg] = hash
	return nil
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestComputeIsOrderIndependent(t *testing.T) {
	a := t.TempDir()
	write(t, a, "com/acme/A.class", "aaa")
	write(t, a, "com/acme/B.class", "bbb")
	write(t, a, "README.txt", "ignored")

	b := t.TempDir()
	write(t, b, "com/acme/B.class", "bbb")
	write(t, b, "com/acme/A.class", "aaa")

	ha, err := Compute(a, DefaultExt)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	hb, err := Compute(b, DefaultExt)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if ha != hb {
		t.Errorf("expected equal fingerprints, got %s and %s", ha, hb)
	}
	again, _ := Compute(a, DefaultExt)
	if again != ha {
		t.Error("fingerprint not stable across runs")
	}
}

func TestComputeDetectsByteChange(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "A.class", "aaa")
	before, _ := Compute(dir, DefaultExt)
	write(t, dir, "A.class", "aab")
	after, _ := Compute(dir, DefaultExt)
	if before == after {
		t.Error("expected fingerprint to change after a byte change")
	}
}

func TestComputeDetectsRename(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "A.class", "aaa")
	before, _ := Compute(dir, DefaultExt)
	if err := os.Rename(filepath.Join(dir, "A.class"), filepath.Join(dir, "Z.class")); err != nil {
		t.Fatal(err)
	}
	after, _ := Compute(dir, DefaultExt)
	if before == after {
		t.Error("expected fingerprint to change after a rename")
	}
}

func TestComputeMissingDir(t *testing.T) {
	h, err := Compute(filepath.Join(t.TempDir(), "nope"), DefaultExt)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if h != NoArtifacts {
		t.Errorf("expected %s, got %s", NoArtifacts, h)
	}
}

func TestTrackerLifecycle(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "A.class", "aaa")
	store := memStore{}
	tr := NewTracker(store, "")

	needs, fp, err := tr.Check("core-1.0", dir)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !needs {
		t.Fatal("expected unseen package to need indexing")
	}
	if len(store) != 0 {
		t.Fatal("Check must not record anything")
	}
	if err := tr.RecordIndexed("core-1.0", fp); err != nil {
		t.Fatalf("RecordIndexed: %v", err)
	}
	if needs, _ := tr.NeedsReindex("core-1.0", dir); needs {
		t.Error("expected unchanged package to be skipped")
	}
	write(t, dir, "B.class", "bbb")
	if needs, _ := tr.NeedsReindex("core-1.0", dir); !needs {
		t.Error("expected changed package to need indexing")
	}
}

func TestTrackerMissingDir(t *testing.T) {
	tr := NewTracker(memStore{}, DefaultExt)
	needs, err := tr.NeedsReindex("ghost", filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("NeedsReindex: %v", err)
	}
	if needs {
		t.Error("missing artifacts dir should not need indexing")
	}
}
