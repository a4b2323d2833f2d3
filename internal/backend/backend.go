// Package backend implements the VersionBackend capability described in
// spec §9: a polymorphic file-reader factory over a version's directory
// layout. Selection of which concrete backend serves a given root is
// delegated to a Registry of probes keyed by directory markers.
package backend

import (
	"context"
	"io"
)

// VersionBackend resolves a relative filename and byte range to a
// streaming reader. A single backend instance is bound to one version
// root and owned exclusively by the DownloadContext that built it.
type VersionBackend interface {
	// Reader opens a streaming reader over filename[start:end).
	Reader(ctx context.Context, filename string, start, end uint64) (io.ReadCloser, error)

	// ListFiles returns every relative file path under the backend's root,
	// used to answer LIST_FILES_QUERY (spec §4.2, supplemented features).
	ListFiles(ctx context.Context) ([]string, error)

	// PeekFile returns the size in bytes of a single relative file path,
	// used to answer PEEK_FILE_QUERY.
	PeekFile(ctx context.Context, filename string) (uint64, error)

	// Close releases any resources the backend holds open (file handles,
	// network clients). Called when the owning context is evicted.
	Close() error
}

// Constructor builds a VersionBackend bound to root. root is the
// opaque string the registry matched against (a directory path, or a
// marker like an "s3://" prefix for non-filesystem roots).
type Constructor func(ctx context.Context, root string) (VersionBackend, error)

// Probe reports whether it can construct a backend for the given root,
// without doing the (possibly expensive) construction itself.
type Probe struct {
	// Name identifies the probe for logging/metrics.
	Name string
	// Matches inspects root (a directory path or descriptor string) and
	// reports whether this probe's Constructor should handle it.
	Matches func(root string) bool
	// Construct builds the backend once Matches has returned true.
	Construct Constructor
}
