package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is how often [Watcher.Run] re-checks the file.
const DefaultPollInterval = 5 * time.Second

// Watcher tracks a config file and hands every valid content change to a
// callback with the previous and the new config. An edit that fails to
// parse or validate is reported once and the previous config stays active.
//
// NewWatcher only performs the initial load; polling happens in [Watcher.Run]
// so the owner decides which goroutine and lifetime it gets.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher primed with its content.
// onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.mtime, w.sum = snap.cfg, snap.mtime, snap.sum
	return w, nil
}

// Current returns the most recently adopted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done and always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Reload(false)
		}
	}
}

// Reload checks the file now. Without force, a file whose modification
// time has not moved is skipped without reading it. It reports whether a
// new config was adopted; identical content never is.
func (w *Watcher) Reload(force bool) bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat watched file", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	seen := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if seen && !force {
		return false
	}

	snap, err := w.read()
	if err != nil {
		w.mu.Lock()
		w.mtime = info.ModTime()
		w.mu.Unlock()
		slog.Warn("config: ignoring invalid edit", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	w.mtime = snap.mtime
	if snap.sum == w.sum {
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.sum = snap.cfg, snap.sum
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path, "changes", Diff(old, snap.cfg).Keys())
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
	return true
}

type snapshot struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
}

func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
