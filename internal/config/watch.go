package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config whenever GP_CONFIG_FILE changes on disk, mirroring
// 99souls-ariadne's HotReloadSystem (engine/internal/runtime/runtime.go)
// generalized from a business-policy reload to a probe-config reload.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the given config file path. If path is empty,
// it returns (nil, nil): hot reload is simply disabled.
func NewWatcher(path string) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: path, watcher: fw}, nil
}

// Run watches for writes to the config file and invokes onReload with the
// freshly merged Config. Blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context, onReload func(Config)) {
	if w == nil {
		return
	}
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load()
			if err != nil {
				slog.Warn("config reload failed", "path", w.path, "error", err)
				continue
			}
			onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
