package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is how long FileSource waits after the last file event
// before reloading.
const DefaultDebounce = 200 * time.Millisecond

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithDebounce sets the reload debounce window.
func WithDebounce(d time.Duration) FileOption {
	return func(f *FileSource) { f.debounce = d }
}

// WithFileLogger sets the logger for reload failures.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(f *FileSource) { f.logger = logger }
}

// FileSource reads a YAML snapshot from disk and, once started, pushes a new
// snapshot to subscribers whenever the file changes.
//
//	enabled: true
//	features:
//	  lazyLoad: true
//	  disableAnimations: false
//
// Features missing from the file keep their default value.
type FileSource struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	subs     subscribers

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending *time.Timer
	cancel  context.CancelFunc
	last    Snapshot
	loaded  bool
}

// NewFileSource returns a source for the YAML file at path.
func NewFileSource(path string, opts ...FileOption) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("settings: resolve %s: %w", path, err)
	}
	f := &FileSource{path: abs, debounce: DefaultDebounce, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Path returns the watched file path.
func (f *FileSource) Path() string { return f.path }

// Fetch implements Source.
func (f *FileSource) Fetch(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s, err := f.read()
	if err != nil {
		return Snapshot{}, err
	}
	f.mu.Lock()
	f.last, f.loaded = s, true
	f.mu.Unlock()
	return s, nil
}

// Subscribe implements Source.
func (f *FileSource) Subscribe(fn func(Snapshot)) func() { return f.subs.add(fn) }

// Save writes s to the file atomically. A running watcher picks the change
// up and notifies subscribers.
func (f *FileSource) Save(_ context.Context, s Snapshot) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Start watches the file's directory until ctx is done or Close is called.
func (f *FileSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fsw != nil {
		return errors.New("settings: file source already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watch: %w", err)
	}
	// Watching the directory survives editors that replace the file.
	if err := fsw.Add(filepath.Dir(f.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("settings: watch %s: %w", filepath.Dir(f.path), err)
	}
	f.fsw = fsw

	ctx, f.cancel = context.WithCancel(ctx)
	go f.watch(ctx, fsw)
	return nil
}

// Close stops watching.
func (f *FileSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fsw == nil {
		return nil
	}
	f.cancel()
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}
	err := f.fsw.Close()
	f.fsw = nil
	return err
}

func (f *FileSource) watch(ctx context.Context, fsw *fsnotify.Watcher) {
	target := filepath.Base(f.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				f.trigger()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			f.logger.Warn("settings: watch error", "path", f.path, "error", err)
		}
	}
}

func (f *FileSource) trigger() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		f.pending.Stop()
	}
	f.pending = time.AfterFunc(f.debounce, f.reload)
}

func (f *FileSource) reload() {
	s, err := f.read()
	if err != nil {
		f.logger.Warn("settings: reload failed, keeping previous snapshot", "path", f.path, "error", err)
		return
	}
	f.mu.Lock()
	changed := !f.loaded || !f.last.Equal(s)
	f.last, f.loaded = s, true
	f.mu.Unlock()
	if changed {
		f.logger.Info("settings: reloaded", "path", f.path, "enabled", s.Enabled())
		f.subs.notify(s)
	}
}

func (f *FileSource) read() (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: parse %s: %w", ErrUnavailable, f.path, err)
	}
	return s, nil
}
