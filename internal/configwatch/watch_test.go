package configwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/torrential/depot/internal/config"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestWatcherReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hardware:\n  enable_aesni: true\n"), 0o644))

	reloaded := make(chan config.Config, 1)
	w, err := New(path, discardLogger(), func(cfg config.Config) {
		reloaded <- cfg
	})
	require.NoError(t, err)
	require.NotNil(t, w)
	defer w.Close()

	go w.Run()

	require.NoError(t, os.WriteFile(path, []byte("hardware:\n  enable_aesni: false\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.False(t, cfg.Hardware.EnableAESNI)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestNewReturnsNilForEmptyPath(t *testing.T) {
	w, err := New("", discardLogger(), func(config.Config) {})
	require.NoError(t, err)
	require.Nil(t, w)
}
