package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestSnapshotsEqual(t *testing.T) {
	now := time.Now()

	a := map[string]fileSnapshot{
		"Main.class": {modTime: now, size: 100},
		"Util.class": {modTime: now, size: 200},
	}
	b := map[string]fileSnapshot{
		"Main.class": {modTime: now, size: 100},
		"Util.class": {modTime: now, size: 200},
	}
	if !snapshotsEqual(a, b) {
		t.Error("identical snapshots should be equal")
	}

	// Different size
	c := map[string]fileSnapshot{
		"Main.class": {modTime: now, size: 101},
		"Util.class": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, c) {
		t.Error("different size should not be equal")
	}

	// Different mtime
	d := map[string]fileSnapshot{
		"Main.class": {modTime: now.Add(time.Second), size: 100},
		"Util.class": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, d) {
		t.Error("different mtime should not be equal")
	}

	// Missing file
	e := map[string]fileSnapshot{
		"Main.class": {modTime: now, size: 100},
	}
	if snapshotsEqual(a, e) {
		t.Error("different file count should not be equal")
	}

	// Extra file
	f := map[string]fileSnapshot{
		"Main.class": {modTime: now, size: 100},
		"Util.class": {modTime: now, size: 200},
		"New.class":  {modTime: now, size: 50},
	}
	if snapshotsEqual(a, f) {
		t.Error("extra file should not be equal")
	}

	// Both empty
	if !snapshotsEqual(map[string]fileSnapshot{}, map[string]fileSnapshot{}) {
		t.Error("both empty should be equal")
	}
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		files    int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{70, 1 * time.Second},
		{499, 1 * time.Second},
		{500, 2 * time.Second},
		{2000, 5 * time.Second},
		{5000, 11 * time.Second},
		{10000, 21 * time.Second},
		{50000, 60 * time.Second},
		{100000, 60 * time.Second},
	}
	for _, tt := range tests {
		got := pollInterval(tt.files)
		if got != tt.expected {
			t.Errorf("pollInterval(%d) = %v, want %v", tt.files, got, tt.expected)
		}
	}
}

func TestCaptureSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "com", "acme"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "com", "acme", "Order.class"), []byte{0xca, 0xfe}, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "README.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	snap, err := captureSnapshot(tmpDir, ".class")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 {
		t.Fatalf("expected 1 file, got %d", len(snap))
	}
	s, ok := snap["com/acme/Order.class"]
	if !ok {
		t.Fatal("expected com/acme/Order.class in snapshot")
	}
	if s.size != 2 {
		t.Errorf("size = %d, want 2", s.size)
	}
	if s.modTime.IsZero() {
		t.Error("expected non-zero modtime")
	}
}

func TestCaptureSnapshotDetectsChanges(t *testing.T) {
	tmpDir := t.TempDir()
	classFile := filepath.Join(tmpDir, "Main.class")
	if err := os.WriteFile(classFile, []byte{1}, 0o600); err != nil {
		t.Fatal(err)
	}

	snap1, err := captureSnapshot(tmpDir, ".class")
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(classFile, now, now); err != nil {
		t.Fatal(err)
	}

	snap2, err := captureSnapshot(tmpDir, ".class")
	if err != nil {
		t.Fatal(err)
	}
	if snapshotsEqual(snap1, snap2) {
		t.Error("snapshots should differ after mtime change")
	}
}

func resetPolls(w *Watcher) {
	for _, state := range w.states {
		state.nextPoll = time.Time{}
	}
}

func TestWatcherTriggersOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	classFile := filepath.Join(tmpDir, "Main.class")
	if err := os.WriteFile(classFile, []byte{1}, 0o600); err != nil {
		t.Fatal(err)
	}

	var indexCount atomic.Int32
	indexFn := func(_ context.Context, pkg, dir string) error {
		if pkg != "lib-1.0" || dir != tmpDir {
			t.Errorf("indexFn(%q, %q)", pkg, dir)
		}
		indexCount.Add(1)
		return nil
	}
	w := New([]Package{{Name: "lib-1.0", Dir: tmpDir}}, ".class", indexFn)

	// First poll indexes
	w.pollAll()
	if got := indexCount.Load(); got != 1 {
		t.Fatalf("first poll should index once, got %d", got)
	}

	// Not due yet
	w.pollAll()
	if got := indexCount.Load(); got != 1 {
		t.Errorf("poll before interval should not index, got %d", got)
	}

	resetPolls(w)
	w.pollAll()
	if got := indexCount.Load(); got != 1 {
		t.Errorf("no-change poll should not index, got %d", got)
	}

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(classFile, now, now); err != nil {
		t.Fatal(err)
	}
	resetPolls(w)
	w.pollAll()
	if got := indexCount.Load(); got != 2 {
		t.Errorf("change should trigger index, got %d", got)
	}
}

func TestWatcherRetriesFailedIndex(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "Main.class"), []byte{1}, 0o600); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	w := New([]Package{{Name: "lib", Dir: tmpDir}}, ".class", func(context.Context, string, string) error {
		if calls.Add(1) == 1 {
			return errors.New("analyzer down")
		}
		return nil
	})

	w.pollAll()
	resetPolls(w)
	w.pollAll()
	if got := calls.Load(); got != 2 {
		t.Fatalf("failed index should be retried, got %d calls", got)
	}
	resetPolls(w)
	w.pollAll()
	if got := calls.Load(); got != 2 {
		t.Errorf("successful index should settle, got %d calls", got)
	}
}

func TestWatcherMissingDir(t *testing.T) {
	var calls atomic.Int32
	w := New([]Package{{Name: "gone", Dir: filepath.Join(t.TempDir(), "missing")}}, ".class", func(context.Context, string, string) error {
		calls.Add(1)
		return nil
	})
	w.pollAll()
	if calls.Load() != 0 {
		t.Error("missing dir should not index")
	}
	if next := w.states["gone"].nextPoll; time.Until(next) < maxInterval-time.Second {
		t.Errorf("missing dir should back off to maxInterval, next poll in %v", time.Until(next))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := New(nil, ".class", func(context.Context, string, string) error { return nil })
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOwner(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	ab := filepath.Join(root, "ab")
	w := New([]Package{{Name: "a", Dir: a}, {Name: "ab", Dir: ab}}, ".class", nil)

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{filepath.Join(a, "com", "X.class"), "a", true},
		{a, "a", true},
		{filepath.Join(ab, "Y.class"), "ab", true},
		{filepath.Join(root, "other", "Z.class"), "", false},
	}
	for _, tt := range tests {
		p, ok := w.owner(tt.path)
		if ok != tt.ok || p.Name != tt.want {
			t.Errorf("owner(%q) = %q,%v; want %q,%v", tt.path, p.Name, ok, tt.want, tt.ok)
		}
	}
}

func TestHandleEventSchedulesPoll(t *testing.T) {
	dir := t.TempDir()
	w := New([]Package{{Name: "dep", Dir: dir}}, ".class", func(context.Context, string, string) error { return nil })
	w.pollAll()

	state := w.states["dep"]
	if state.nextPoll.IsZero() {
		t.Fatal("expected a scheduled poll after the first index")
	}

	w.handleEvent(fsnotify.Event{Name: filepath.Join(dir, "Main.class"), Op: fsnotify.Chmod})
	if state.nextPoll.IsZero() {
		t.Error("chmod should not reschedule")
	}

	w.handleEvent(fsnotify.Event{Name: filepath.Join(dir, "Main.class"), Op: fsnotify.Write})
	if !state.nextPoll.IsZero() {
		t.Error("write should make the package due immediately")
	}
}
