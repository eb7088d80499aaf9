// Package watcher keeps dependency packages indexed by polling their compiled
// artifacts and re-indexing a package when its artifact set changes.
// Filesystem notifications, when available, pull the next poll forward.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

// Package is a dependency package and the directory holding its artifacts.
type Package struct {
	Name string
	Dir  string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

type packageState struct {
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// IndexFunc re-indexes one package. It is expected to skip packages whose
// fingerprint did not change.
type IndexFunc func(ctx context.Context, pkg, dir string) error

// Watcher polls package directories and triggers re-indexing on change.
type Watcher struct {
	packages []Package
	ext      string
	indexFn  IndexFunc
	states   map[string]*packageState
	ctx      context.Context
	fsw      *fsnotify.Watcher
}

// New creates a Watcher over packages. ext selects the artifact files (".class").
func New(packages []Package, ext string, indexFn IndexFunc) *Watcher {
	return &Watcher{
		packages: packages,
		ext:      ext,
		indexFn:  indexFn,
		states:   make(map[string]*packageState),
		ctx:      context.Background(),
	}
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling each
// package only when its adaptive interval has elapsed or a notification
// touched its directory.
func (w *Watcher) Run(ctx context.Context) {
	w.ctx = ctx
	w.pollAll()
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if fsw, err := w.notifier(); err != nil {
		slog.Warn("watcher.notify.unavailable", "err", err)
	} else {
		defer fsw.Close()
		events, errs = fsw.Events, fsw.Errors
		w.fsw = fsw
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollAll()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watcher.notify.err", "err", err)
		}
	}
}

// notifier registers every existing package directory, recursively.
func (w *Watcher) notifier() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range w.packages {
		addTree(fsw, p.Dir)
	}
	return fsw, nil
}

func addTree(fsw *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				slog.Debug("watcher.notify.add", "dir", path, "err", addErr)
			}
		}
		return nil
	})
}

// handleEvent marks the owning package due for polling on the next tick.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	p, ok := w.owner(ev.Name)
	if !ok {
		return
	}
	if ev.Has(fsnotify.Create) && w.fsw != nil {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			addTree(w.fsw, ev.Name)
		}
	}
	if !ev.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
		return
	}
	if state, exists := w.states[p.Name]; exists {
		state.nextPoll = time.Time{}
	}
}

// owner returns the package whose directory contains path.
func (w *Watcher) owner(path string) (Package, bool) {
	for _, p := range w.packages {
		rel, err := filepath.Rel(p.Dir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return p, true
	}
	return Package{}, false
}

func (w *Watcher) pollAll() {
	now := time.Now()
	for _, p := range w.packages {
		state, exists := w.states[p.Name]
		if !exists {
			state = &packageState{}
			w.states[p.Name] = state
		}
		if exists && now.Before(state.nextPoll) {
			continue
		}
		w.pollPackage(p, state)
	}
}

// pollPackage indexes on the first poll and whenever the artifact snapshot
// differs from the last successfully indexed one.
func (w *Watcher) pollPackage(p Package, state *packageState) {
	if _, err := os.Stat(p.Dir); err != nil {
		slog.Debug("watcher.dir_gone", "package", p.Name, "dir", p.Dir)
		state.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, err := captureSnapshot(p.Dir, w.ext)
	if err != nil {
		slog.Warn("watcher.snapshot", "package", p.Name, "err", err)
		state.nextPoll = time.Now().Add(state.interval)
		return
	}
	interval := pollInterval(len(snap))

	if state.snapshot != nil && snapshotsEqual(state.snapshot, snap) {
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	slog.Info("watcher.changed", "package", p.Name, "files", len(snap))
	if err := w.indexFn(w.ctx, p.Name, p.Dir); err != nil {
		slog.Warn("watcher.index", "package", p.Name, "err", err)
		state.nextPoll = time.Now().Add(interval)
		return
	}

	state.snapshot = snap
	state.interval = interval
	state.nextPoll = time.Now().Add(interval)
}

// captureSnapshot records mtime and size of every artifact under dir.
func captureSnapshot(dir, ext string) (map[string]fileSnapshot, error) {
	snap := make(map[string]fileSnapshot)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		snap[filepath.ToSlash(rel)] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
		}
		return nil
	})
	return snap, err
}

// snapshotsEqual returns true if two snapshots have identical files with same mtime+size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// pollInterval computes the adaptive interval from file count.
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	ms := 1000 + (fileCount/500)*1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}
