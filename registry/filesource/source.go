// Package filesource serves the unit registry from YAML files and watches
// them for changes. Every reload is diffed against the previous contents
// and the resulting events are delivered to the handler.
//
// File format:
//
//	units:
//	  - id: kitchen-light
//	    type: LIGHT
//	    label: Kitchen ceiling
//	    location_id: kitchen
//	    states:
//	      POWER_STATE_SERVICE:
//	        discrete: "ON"
package filesource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/ontosync/registry"
)

// DefaultPattern matches unit files under ./units.
const DefaultPattern = "units/**/*.yaml"

// Config configures a Source.
type Config struct {
	// Root resolves relative patterns. Empty means the working directory.
	Root string

	// Patterns select unit files.
	Patterns []string

	// Debounce is how long to wait for more changes before reloading.
	Debounce time.Duration

	Logger *slog.Logger
}

// File is the on-disk document.
type File struct {
	Units []registry.Unit `yaml:"units"`
}

// Source is a registry.Source backed by watched files.
type Source struct {
	config  Config
	logger  *slog.Logger
	now     func() time.Time
	watcher *fsnotify.Watcher

	stateMu sync.Mutex
	current map[string]registry.Unit
	seeded  bool

	dirtyMu sync.Mutex
	dirty   bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ registry.Source = (*Source)(nil)

// New creates a file source. Nothing is read until Snapshot or Start.
func New(config Config) *Source {
	if len(config.Patterns) == 0 {
		config.Patterns = []string{DefaultPattern}
	}
	if config.Debounce <= 0 {
		config.Debounce = 200 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		config:  config,
		logger:  logger,
		now:     time.Now,
		current: make(map[string]registry.Unit),
	}
}

// Snapshot reads every unit file. Units are ordered by ID. Before Start,
// the result also becomes the baseline that Start diffs against, so
// edits made between the two calls are delivered as events.
func (s *Source) Snapshot(_ context.Context) ([]registry.Unit, error) {
	units, err := s.load()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.running {
		s.stateMu.Lock()
		s.current = units
		s.seeded = true
		s.stateMu.Unlock()
	}
	s.mu.Unlock()

	out := make([]registry.Unit, 0, len(units))
	for _, u := range units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Start delivers an event for every change after the baseline. The
// baseline is the last Snapshot taken before Start; without one, the
// contents at Start are loaded silently.
func (s *Source) Start(ctx context.Context, h registry.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("file source already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range s.watchRoots() {
		s.addWatchesRecursive(watcher, dir)
	}

	s.stateMu.Lock()
	seeded := s.seeded
	s.stateMu.Unlock()
	if seeded {
		// Watches were not yet in place when the snapshot was read
		s.markDirty()
	} else {
		baseline, err := s.load()
		if err != nil {
			_ = watcher.Close()
			return err
		}
		s.stateMu.Lock()
		s.current = baseline
		s.stateMu.Unlock()
	}

	s.stateMu.Lock()
	units := len(s.current)
	s.stateMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.processEvents(loopCtx, h, s.done)

	s.logger.Info("Registry file source started",
		"patterns", s.config.Patterns,
		"units", units)
	return nil
}

// Stop ends watching.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	return s.watcher.Close()
}

// Reload re-reads the files and delivers the difference to h.
func (s *Source) Reload(ctx context.Context, h registry.Handler) error {
	next, err := s.load()
	if err != nil {
		return err
	}

	s.stateMu.Lock()
	events := registry.Diff(s.current, next, s.now())
	s.current = next
	s.stateMu.Unlock()

	for _, e := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h(ctx, e)
	}
	if len(events) > 0 {
		s.logger.Info("Registry files reloaded", "events", len(events), "units", len(next))
	}
	return nil
}

func (s *Source) processEvents(ctx context.Context, h registry.Handler, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			if !s.takeDirty() {
				continue
			}
			if err := s.Reload(ctx, h); err != nil {
				s.logger.Warn("Registry reload failed, keeping previous units", "error", err)
			}
		}
	}
}

func (s *Source) handleFSEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			s.addWatchesRecursive(s.watcher, event.Name)
			s.markDirty()
			return
		}
	}
	if !s.matches(event.Name) {
		return
	}
	s.logger.Debug("Unit file change detected", "path", event.Name, "op", event.Op.String())
	s.markDirty()
}

func (s *Source) markDirty() {
	s.dirtyMu.Lock()
	s.dirty = true
	s.dirtyMu.Unlock()
}

func (s *Source) takeDirty() bool {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

// load parses every matching file. A unit ID defined twice is an error.
func (s *Source) load() (map[string]registry.Unit, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	units := make(map[string]registry.Unit)
	origin := make(map[string]string)
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for i, u := range f.Units {
			if err := u.Validate(); err != nil {
				return nil, fmt.Errorf("%s: unit %d: %w", path, i+1, err)
			}
			if prev, dup := origin[u.ID]; dup {
				return nil, fmt.Errorf("unit %q defined in %s and %s", u.ID, prev, path)
			}
			origin[u.ID] = path
			units[u.ID] = u
		}
	}
	return units, nil
}

func (s *Source) files() ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range s.patterns() {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err != nil || !info.Mode().IsRegular() || seen[m] {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *Source) patterns() []string {
	out := make([]string, 0, len(s.config.Patterns))
	for _, p := range s.config.Patterns {
		if !filepath.IsAbs(p) && s.config.Root != "" {
			p = filepath.Join(s.config.Root, p)
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

func (s *Source) matches(path string) bool {
	for _, p := range s.patterns() {
		if ok, _ := doublestar.PathMatch(p, path); ok {
			return true
		}
	}
	return false
}

// watchRoots returns the existing static prefix directory of each pattern.
func (s *Source) watchRoots() []string {
	seen := make(map[string]bool)
	var roots []string
	for _, p := range s.patterns() {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(p))
		base = filepath.FromSlash(base)
		if info, err := os.Stat(base); err != nil || !info.IsDir() {
			continue
		}
		if !seen[base] {
			seen[base] = true
			roots = append(roots, base)
		}
	}
	return roots
}

func (s *Source) addWatchesRecursive(w *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			s.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}
