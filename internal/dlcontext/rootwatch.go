package dlcontext

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// RootWatcher invalidates cache entries whose backing filesystem root
// disappears out from under them (a version directory removed or
// unmounted externally), rather than waiting for the TTL sweep to
// eventually notice the backend failing reads (spec §4.4's cache has no
// built-in way to detect this; a filesystem watch closes that gap).
type RootWatcher struct {
	cache  *Cache
	logger *logrus.Entry
	fsw    *fsnotify.Watcher

	mu    sync.Mutex
	roots map[string]cacheKey
}

// NewRootWatcher builds a RootWatcher bound to cache. Call Run in its own
// goroutine to start processing events.
func NewRootWatcher(cache *Cache, logger *logrus.Logger) (*RootWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &RootWatcher{
		cache:  cache,
		logger: logger.WithField("component", "root_watcher"),
		fsw:    fsw,
		roots:  make(map[string]cacheKey),
	}, nil
}

// Watch starts watching root for removal and associates it with key so a
// removal invalidates the right cache entry. Non-local roots (e.g. an
// s3:// backend) are silently skipped; fsnotify only watches real paths.
func (w *RootWatcher) Watch(key cacheKey, root string) {
	if root == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, already := w.roots[root]; already {
		return
	}
	if err := w.fsw.Add(root); err != nil {
		w.logger.WithError(err).WithField("root", root).Debug("could not watch version root")
		return
	}
	w.roots[root] = key
}

// Run blocks, invalidating the owning cache's entry whenever a watched
// root is removed or renamed away, until Close is called.
func (w *RootWatcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			w.mu.Lock()
			key, tracked := w.roots[event.Name]
			if tracked {
				delete(w.roots, event.Name)
			}
			w.mu.Unlock()

			if !tracked {
				continue
			}
			w.logger.WithField("root", event.Name).Info("version root removed, invalidating cache entry")
			w.cache.Invalidate(key.GameID, key.VersionName)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("root watcher error")
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *RootWatcher) Close() error {
	return w.fsw.Close()
}
