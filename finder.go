package stapled

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store is the process-global path->Record mapping of spec.md §3/§5: read by
// Finder and Parser, written by Finder, supporting concurrent read + exclusive
// write via a plain RWMutex (no pack example reaches for anything fancier
// than sync.RWMutex for this shape of map, e.g.
// _examples/tbroyer-ocspd/updater.go's own certificate cache).
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

func (s *Store) get(path string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[path]
	return r, ok
}

func (s *Store) put(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Path] = r
}

func (s *Store) delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, path)
}

// Snapshot returns a stable copy of every known record, for Finder's cycle
// over "known records" without holding the lock across filesystem calls.
func (s *Store) Snapshot() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// Len reports how many records are known.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Finder implements spec.md §4.1: it keeps Store in sync with the
// filesystem and emits StageParse tasks for new or changed certificate
// files.
//
// Grounded on
// _examples/original_source/stapled/core/certfinder.py's CertFinderThread,
// generalized from Python's thread-with-a-stop-flag idiom to a single
// goroutine observing a plain <-chan struct{} stop signal, the same
// supervisor-closes-a-channel shutdown idiom used throughout this package
// (see supervisor.go's Stop/awaitSignalOrStop).
type Finder struct {
	Config    Config
	Store     *Store
	Scheduler *Scheduler
	Logger    *zap.Logger
	ignore    *ignoreMatcher

	watcher       *fsnotify.Watcher // optional early-wake; nil if unavailable
	firstPassDone chan struct{}
}

// NewFinder builds a Finder. Invalid ignore patterns are logged and
// discarded, per spec.md §4.1.
func NewFinder(cfg Config, store *Store, sched *Scheduler, logger *zap.Logger) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Finder{Config: cfg, Store: store, Scheduler: sched, Logger: logger, firstPassDone: make(chan struct{})}
	f.ignore = newIgnoreMatcher(cfg.Ignore, func(pattern string) {
		logger.Warn("discarding invalid ignore pattern", zap.String("pattern", pattern))
	})
	// Best-effort: fsnotify just lets a cycle start early on a filesystem
	// event instead of waiting out the rest of RefreshInterval. The poll
	// loop below remains the correctness-bearing path and runs regardless
	// of whether this succeeds.
	if w, err := fsnotify.NewWatcher(); err == nil {
		f.watcher = w
		for _, root := range cfg.CertPaths {
			_ = f.watcher.Add(root)
		}
	} else {
		logger.Debug("fsnotify unavailable, relying on poll interval alone", zap.Error(err))
	}
	return f
}

// Run executes refresh cycles until stop is closed. OneOff mode runs exactly
// one cycle and returns.
func (f *Finder) Run(stop <-chan struct{}) {
	f.Logger.Info("scanning paths", zap.Strings("paths", f.Config.CertPaths))
	first := true
	for {
		start := time.Now()
		f.refresh()
		if first {
			close(f.firstPassDone)
			first = false
		}
		if f.Config.OneOff {
			return
		}
		since := time.Since(start)
		remaining := f.Config.RefreshInterval - since
		if remaining <= 0 {
			continue
		}
		if !f.sleep(remaining, stop) {
			return
		}
	}
}

// sleep waits for d in <=1s slices (per spec.md §4.1's "≤1-second
// increments"), woken early by a filesystem event if fsnotify is available.
// Returns false if stop fired.
func (f *Finder) sleep(d time.Duration, stop <-chan struct{}) bool {
	deadline := time.Now().Add(d)
	var events chan fsnotify.Event
	if f.watcher != nil {
		events = f.watcher.Events
	}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		slice := remaining
		if slice > time.Second {
			slice = time.Second
		}
		timer := time.NewTimer(slice)
		select {
		case <-stop:
			timer.Stop()
			return false
		case <-timer.C:
		case <-events:
			timer.Stop()
			return true
		}
	}
}

// FirstPassDone returns a channel closed once Run has completed its first
// refresh cycle, letting a caller (Supervisor, in OneOff mode) know every
// StageParse task Finder will ever emit for the initial scan has already
// been handed to the Scheduler before it starts polling for idleness.
func (f *Finder) FirstPassDone() <-chan struct{} {
	return f.firstPassDone
}

// Close releases the optional fsnotify watcher.
func (f *Finder) Close() {
	if f.watcher != nil {
		_ = f.watcher.Close()
	}
}

func (f *Finder) refresh() {
	f.Logger.Debug("starting refresh run")
	f.updateCached()
	f.findNew()
}

// updateCached implements spec.md §4.1 steps 1-2: drop records whose file
// vanished, and reload records whose mtime advanced.
func (f *Finder) updateCached() {
	for _, r := range f.Store.Snapshot() {
		info, err := os.Stat(r.Path)
		if err != nil {
			if os.IsNotExist(err) {
				f.Scheduler.CancelBySubject(r)
				f.Store.delete(r.Path)
				f.Logger.Info("certificate file removed", zap.String("path", r.Path))
				continue
			}
			f.Logger.Error("can't stat known certificate file", zap.String("path", r.Path), zap.Error(err))
			continue
		}
		if info.ModTime().After(r.ModTime) {
			f.Scheduler.CancelBySubject(r)
			f.Store.delete(r.Path)
			fresh, err := NewRecord(r.Path)
			if err != nil {
				HandleError(f.Logger, f.Scheduler, NewTask(StageParse, r), err)
				continue
			}
			f.Store.put(fresh)
			f.Scheduler.AddTask(NewTask(StageParse, fresh))
			f.Logger.Info("certificate file changed", zap.String("path", fresh.Path))
		}
	}
}

// findNew implements spec.md §4.1 step 3: walk the configured paths and
// register any file not already known.
func (f *Finder) findNew() {
	for _, root := range f.Config.CertPaths {
		f.walk(root)
	}
}

func (f *Finder) walk(root string) {
	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			f.Logger.Error("can't read path, skipping for this cycle", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && !f.Config.Recursive {
				return filepath.SkipDir
			}
			if path != root && f.watcher != nil {
				_ = f.watcher.Add(path)
			}
			return nil
		}
		if hasDerivedSuffix(path) {
			return nil
		}
		if !f.hasConfiguredExtension(path) {
			return nil
		}
		if f.ignore.Match(path) {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if _, known := f.Store.get(path); known {
			return nil
		}
		rec, err := NewRecord(path)
		if err != nil {
			f.Logger.Error("can't access new certificate file", zap.String("path", path), zap.Error(err))
			return nil
		}
		f.Store.put(rec)
		f.Scheduler.AddTask(NewTask(StageParse, rec))
		f.Logger.Info("found new certificate file", zap.String("path", path))
		return nil
	}
	if err := filepath.WalkDir(root, walkFn); err != nil {
		f.Logger.Error("walk failed", zap.String("root", root), zap.Error(err))
	}
}

// hasDerivedSuffix reports whether path is a file this package itself
// produces or that never holds a certificate, so it's never worth
// considering even if its extension happens to match Config.FileExtensions.
//
// Adapted from _examples/tbroyer-ocspd/cmd/internal/files.go's
// ShouldIgnoreFileName.
func hasDerivedSuffix(path string) bool {
	for _, suffix := range []string{".ocsp", ".issuer", ".sctl", ".key"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func (f *Finder) hasConfiguredExtension(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, want := range f.Config.FileExtensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}
