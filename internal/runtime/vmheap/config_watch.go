package vmheap

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/vmheap/internal/cli"
)

// ConfigWatcher reloads a config file whenever it changes on disk and hands
// each valid result to an apply callback. Invalid or missing files are
// logged and skipped so the last good policy stays in force.
type ConfigWatcher struct {
	path  string
	w     *fsnotify.Watcher
	apply func(Config)
	log   *cli.Logger
}

// NewConfigWatcher watches the directory holding path. Editors tend to
// replace files rather than write them in place, so the directory is
// watched and events are filtered by name.
func NewConfigWatcher(path string, apply func(Config), log *cli.Logger) (*ConfigWatcher, error) {
	if log == nil {
		log = cli.Discard()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &ConfigWatcher{path: abs, w: w, apply: apply, log: log}, nil
}

// Run processes events until ctx is done or the watcher is closed.
func (cw *ConfigWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-cw.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cw.reload()
		case err, ok := <-cw.w.Errors:
			if !ok {
				return nil
			}
			cw.log.Warn("config watcher: %v", err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := readConfig(cw.path)
	if errors.Is(err, fs.ErrNotExist) {
		cw.log.Debug("config reload skipped: %v", err)
		return
	}
	if err != nil {
		cw.log.Warn("config reload skipped: %v", err)
		return
	}
	cw.log.Debug("config reloaded from %s", cw.path)
	cw.apply(cfg)
}

// Close stops the underlying watcher.
func (cw *ConfigWatcher) Close() error { return cw.w.Close() }
