package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend resolves files directly under a directory root on
// local disk. This is the backend selected for both the FILESYSTEM and
// FLAT_FILESYSTEM library layouts once the context builder has already
// folded library_path/version_path into the root (spec §4.3 step 2).
type FilesystemBackend struct {
	root string
}

// NewFilesystemBackend builds a FilesystemBackend rooted at root. root
// must already exist; callers are expected to have checked this per
// spec §4.3 step 3.
func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat version root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("version root %s is not a directory", root)
	}
	return &FilesystemBackend{root: root}, nil
}

func (b *FilesystemBackend) resolve(filename string) (string, error) {
	full := filepath.Join(b.root, filepath.FromSlash(filename))
	rel, err := filepath.Rel(b.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("filename %q escapes version root", filename)
	}
	return full, nil
}

// Reader implements VersionBackend.
func (b *FilesystemBackend) Reader(ctx context.Context, filename string, start, end uint64) (io.ReadCloser, error) {
	full, err := b.resolve(filename)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}

	if start > 0 {
		if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s to %d: %w", filename, start, err)
		}
	}

	if end < start {
		f.Close()
		return nil, fmt.Errorf("invalid range [%d,%d) for %s", start, end, filename)
	}

	return &limitedReadCloser{r: io.LimitReader(f, int64(end-start)), c: f}, nil
}

// ListFiles implements VersionBackend.
func (b *FilesystemBackend) ListFiles(ctx context.Context) ([]string, error) {
	return listRelativeFiles(b.root)
}

// PeekFile implements VersionBackend.
func (b *FilesystemBackend) PeekFile(ctx context.Context, filename string) (uint64, error) {
	full, err := b.resolve(filename)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", filename, err)
	}
	return uint64(info.Size()), nil
}

// Close implements VersionBackend; the filesystem backend holds no
// persistent handles between reads, so this is a no-op.
func (b *FilesystemBackend) Close() error { return nil }

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }
