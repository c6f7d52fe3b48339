package extension

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher tracks the extensions under one directory and reports changes as
// events. Operator enable/disable choices survive rescans.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	events   chan Event

	mu       sync.Mutex
	known    map[string]*types.Extension
	disabled map[string]bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for file activity to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithDisabled starts the named extensions disabled.
func WithDisabled(names ...string) WatcherOption {
	return func(w *Watcher) {
		for _, n := range names {
			w.disabled[n] = true
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher for dir. Call Rescan or Run to start reporting.
func NewWatcher(dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		debounce: defaultDebounce,
		logger:   slog.Default(),
		events:   make(chan Event, 16),
		known:    make(map[string]*types.Extension),
		disabled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "extension")
	return w
}

// Events returns the event stream. It is never closed; stop reading when the
// context passed to Run is done.
func (w *Watcher) Events() <-chan Event { return w.events }

// Extensions returns snapshots of the known extensions, sorted by name.
func (w *Watcher) Extensions() []*types.Extension {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*types.Extension, 0, len(w.known))
	for name, ext := range w.known {
		out = append(out, snapshot(ext, !w.disabled[name]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load records the extensions currently on disk without emitting events and
// returns them. Use it for the startup set; a later Run reports only changes.
func (w *Watcher) Load() ([]*types.Extension, error) {
	exts, err := Scan(w.dir)

	w.mu.Lock()
	for _, ext := range exts {
		w.known[ext.Name] = ext
	}
	w.mu.Unlock()

	return w.Extensions(), err
}

// Rescan reloads the directory and emits Loaded and Unloaded events for what
// changed. A modified extension is unloaded and loaded again.
func (w *Watcher) Rescan(ctx context.Context) error {
	exts, scanErr := Scan(w.dir)
	if scanErr != nil {
		w.logger.Warn("extension scan", "dir", w.dir, "error", scanErr)
	}

	current := make(map[string]*types.Extension, len(exts))
	for _, ext := range exts {
		current[ext.Name] = ext
	}

	w.mu.Lock()
	var events []Event
	for name, old := range w.known {
		ext, still := current[name]
		if !still || changed(old, ext) {
			events = append(events, Event{Type: EventUnloaded, Extension: snapshot(old, false)})
			delete(w.known, name)
		}
	}
	for _, ext := range exts {
		if _, ok := w.known[ext.Name]; ok {
			continue
		}
		w.known[ext.Name] = ext
		events = append(events, Event{Type: EventLoaded, Extension: snapshot(ext, !w.disabled[ext.Name])})
	}
	w.mu.Unlock()

	for _, ev := range events {
		w.logger.Info("extension "+string(ev.Type), "extension", ev.Extension.Name)
		if err := w.emit(ctx, ev); err != nil {
			return err
		}
	}
	return scanErr
}

// SetEnabled enables or disables an extension and emits the matching event.
func (w *Watcher) SetEnabled(ctx context.Context, name string, enabled bool) error {
	w.mu.Lock()
	ext, ok := w.known[name]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("unknown extension %q", name)
	}
	wasEnabled := !w.disabled[name]
	if enabled {
		delete(w.disabled, name)
	} else {
		w.disabled[name] = true
	}
	w.mu.Unlock()

	if wasEnabled == enabled {
		return nil
	}
	typ := EventDisabled
	if enabled {
		typ = EventEnabled
	}
	return w.emit(ctx, Event{Type: typ, Extension: snapshot(ext, enabled)})
}

// Run scans once, then rescans whenever manifests change until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Rescan(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addWatches(watcher); err != nil {
		// Nothing to watch yet. Block until ctx cancelled.
		w.logger.Debug("extension dir not watchable", "dir", w.dir, "error", err)
		<-ctx.Done()
		return ctx.Err()
	}

	reload := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			_ = w.addWatches(watcher)
			if err := w.Rescan(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("extension watcher error", "error", err)
		}
	}
}

// addWatches watches the root and each extension directory.
func (w *Watcher) addWatches(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = watcher.Add(filepath.Join(w.dir, entry.Name()))
		}
	}
	return nil
}

func (w *Watcher) emit(ctx context.Context, ev Event) error {
	select {
	case w.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func changed(a, b *types.Extension) bool {
	return a.Version != b.Version || !reflect.DeepEqual(a.McpServers, b.McpServers)
}
