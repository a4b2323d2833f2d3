// Package configwatch re-parses the config file when it is written and
// hands the new Config to a caller-supplied callback. The depot's callback
// re-evaluates hardware-acceleration flags only; the audit sink is not
// rebuilt on reload. Everything else (listen addresses, the Drop RPC
// transport) is read once at startup, matching spec §6's "hardcoded defaults read
// once" behaviour for the fixed parts of the process.
package configwatch

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/torrential/depot/internal/config"
)

// Watcher reloads a config file on write events and invokes onReload with
// the freshly parsed Config.
type Watcher struct {
	path     string
	logger   *logrus.Entry
	fsw      *fsnotify.Watcher
	onReload func(config.Config)
}

// New builds a Watcher for path. It returns (nil, nil) when path is empty
// since there is nothing to watch.
func New(path string, logger *logrus.Logger, onReload func(config.Config)) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		logger:   logger.WithField("component", "configwatch"),
		fsw:      fsw,
		onReload: onReload,
	}, nil
}

// Run blocks, reloading the config file on every write/create event until
// the watcher is closed. Intended to run in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := config.Load(w.path)
			if err != nil {
				w.logger.WithError(err).Warn("reloading config file failed, keeping previous values")
				continue
			}
			w.logger.Info("reloaded config file")
			w.onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("config watcher error")
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	return w.fsw.Close()
}
