package merge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Backend kinds a cache directory can hold.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// CacheDir locates per-dependency document stores. Each dependency package gets
// its own store: <dir>/<package>.db for SQLite, <dir>/<package>.badger/ for Badger.
type CacheDir struct {
	dir     string
	backend string
}

// NewCacheDir returns a CacheDir, ensuring the directory exists.
func NewCacheDir(dir, backend string) (*CacheDir, error) {
	switch backend {
	case BackendSQLite, BackendBadger:
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &CacheDir{dir: dir, backend: backend}, nil
}

// Dir returns the cache directory.
func (c *CacheDir) Dir() string {
	return c.dir
}

func (c *CacheDir) suffix() string {
	if c.backend == BackendBadger {
		return ".badger"
	}
	return ".db"
}

// Path returns the store location for pkg.
func (c *CacheDir) Path(pkg string) string {
	return filepath.Join(c.dir, pkg+c.suffix())
}

// Packages lists the cached packages in sorted order.
func (c *CacheDir) Packages() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	suffix := c.suffix()
	var pkgs []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		if e.IsDir() != (c.backend == BackendBadger) {
			slog.Debug("cachedir.skip", "entry", e.Name())
			continue
		}
		pkgs = append(pkgs, strings.TrimSuffix(e.Name(), suffix))
	}
	sort.Strings(pkgs)
	return pkgs, nil
}
