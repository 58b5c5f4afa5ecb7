package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the watcher waits after the last filesystem
// event before re-reading the config. Editors and config-management tools
// produce bursts of writes; one reload per burst is enough.
const reloadDebounce = 200 * time.Millisecond

// Watcher re-reads the config file on change and swaps the Store snapshot.
// A reload that fails to parse or validate keeps the previous snapshot.
type Watcher struct {
	store  *Store
	cli    *CLI
	logger *slog.Logger
	fsw    *fsnotify.Watcher
	path   string
	apply  func(*Config)
}

// NewWatcher creates a Watcher for the config file the Store was loaded from.
func NewWatcher(store *Store, cli *CLI, logger *slog.Logger) (*Watcher, error) {
	path := store.Current().FilePath()
	if path == "" {
		return nil, fmt.Errorf("config watcher: no config file path to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	// Watch the directory, not the file: editors and orchestrators replace
	// config files by rename, which drops a watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		store:  store,
		cli:    cli,
		logger: logger.With("component", "config_watcher"),
		fsw:    fsw,
		path:   path,
	}, nil
}

// OnApply registers a hook called with each successfully reloaded config,
// after the snapshot swap. Components whose state lives outside the snapshot
// (the log level) update themselves here.
func (w *Watcher) OnApply(fn func(*Config)) {
	w.apply = fn
}

// Run processes filesystem events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	w.logger.Info("watching config file", "path", w.path)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerCh = timer.C
			} else {
				// Drain a tick that fired between selects so the reset
				// starts a full debounce window.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watch error", "err", err)
		}
	}
}

// relevant reports whether the event concerns the config file itself.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}

// reload re-reads the config file and swaps the snapshot on success.
func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path, w.cli)
	if err != nil {
		w.logger.Error("config reload failed; keeping previous config", "err", err)
		return
	}
	w.store.Replace(cfg)
	if w.apply != nil {
		w.apply(cfg)
	}
	w.logger.Info("config reloaded",
		"domains", cfg.Edge.Domains,
		"static_root", cfg.Static.Root,
		"gzip_enabled", cfg.Gzip.On(),
	)
}
