package dlcontext

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRootWatcherInvalidatesOnRootRemoval(t *testing.T) {
	root := t.TempDir()

	builder := &fakeBuilder{}
	cache := newCacheForTest(builder, time.Hour)

	watcher, err := NewRootWatcher(cache, discardLogger())
	require.NoError(t, err)
	defer watcher.Close()
	go watcher.Run()

	key := cacheKey{GameID: "g1", VersionName: "v1"}
	cache.mu.Lock()
	cache.entries[key] = &DownloadContext{Root: root, LastAccess: time.Now()}
	cache.mu.Unlock()
	watcher.Watch(key, root)

	require.NoError(t, os.RemoveAll(root))

	require.Eventually(t, func() bool {
		_, ok := cache.touch(key)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
