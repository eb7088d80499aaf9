// Package fingerprint decides whether a dependency package must be re-indexed
// by hashing its compiled artifacts.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// NoArtifacts is the fingerprint of a package whose artifacts directory does not exist.
const NoArtifacts = "no-artifacts"

// DefaultExt is the artifact extension hashed when none is configured.
const DefaultExt = ".class"

// Compute hashes every artifact under dir with the given extension. Artifacts are
// fed to the hash sorted by slash-separated relative path, name first then bytes,
// so the result does not depend on directory listing order.
func Compute(dir, ext string) (string, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return NoArtifacts, nil
	}
	if err != nil {
		return "", fmt.Errorf("stat artifacts: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("artifacts path %s is not a directory", dir)
	}

	var names []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk artifacts: %w", err)
	}
	sort.Strings(names)

	h := xxh3.New()
	for _, name := range names {
		_, _ = h.Write([]byte(name))
		if err := hashFile(h, filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	return nil
}

// Store persists the fingerprint each package was last indexed with.
type Store interface {
	Fingerprint(pkg string) (string, bool, error)
	RecordFingerprint(pkg, hash string) error
}

// Tracker gates re-indexing on fingerprint changes.
type Tracker struct {
	store Store
	ext   string
}

// NewTracker returns a Tracker hashing artifacts with extension ext (DefaultExt when empty).
func NewTracker(store Store, ext string) *Tracker {
	if ext == "" {
		ext = DefaultExt
	}
	return &Tracker{store: store, ext: ext}
}

// Check computes the current fingerprint of dir and compares it with the one
// recorded for pkg. A missing directory never needs indexing.
func (t *Tracker) Check(pkg, dir string) (bool, string, error) {
	current, err := Compute(dir, t.ext)
	if err != nil {
		return false, "", err
	}
	if current == NoArtifacts {
		return false, current, nil
	}
	stored, ok, err := t.store.Fingerprint(pkg)
	if err != nil {
		return false, "", err
	}
	needs := !ok || stored != current
	slog.Debug("fingerprint.check", "package", pkg, "needs_reindex", needs)
	return needs, current, nil
}

// NeedsReindex reports whether pkg changed since it was last recorded.
func (t *Tracker) NeedsReindex(pkg, dir string) (bool, error) {
	needs, _, err := t.Check(pkg, dir)
	return needs, err
}

// RecordIndexed stores fingerprint as the state pkg was indexed at.
func (t *Tracker) RecordIndexed(pkg, fingerprint string) error {
	return t.store.RecordFingerprint(pkg, fingerprint)
}
