// Package dlcontext implements the download-context builder and cache
// described in spec §4.3/§4.4: fetching a version's manifest and backend
// over the Drop RPC transport, and memoizing the result keyed by
// (game_id, version_name) with single-flight coalescing and TTL eviction.
package dlcontext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/torrential/depot/internal/backend"
	"github.com/torrential/depot/internal/crypto"
	"github.com/torrential/depot/internal/depoterr"
	"github.com/torrential/depot/internal/manifest"
	"github.com/torrential/depot/internal/rpc"
	"github.com/torrential/depot/internal/wire"
)

const (
	backendFilesystem     = "FILESYSTEM"
	backendFlatFilesystem = "FLAT_FILESYSTEM"
)

// DownloadContext is a built, in-memory handle over a version's manifest
// and backend (spec §3). Immutable except for LastAccess.
//
// When the process has a KeyManager configured, Manifest.Key is wrapped:
// the context cache holds KeyEnvelope instead of the plaintext key, and
// Manifest.Key is zeroed. Cache.Get unwraps a fresh copy on every access
// rather than ever storing the plaintext key for the context's lifetime.
type DownloadContext struct {
	Manifest    manifest.Manifest
	Backend     backend.VersionBackend
	Root        string
	KeyEnvelope *crypto.KeyEnvelope
	LastAccess  time.Time
}

// sourceOptions is the subset of the opaque LibrarySource.Options JSON
// the builder needs.
type sourceOptions struct {
	BaseDir string `json:"baseDir"`
}

// Builder resolves a (game_id, version_name) pair into a DownloadContext
// by querying Drop over srv and constructing a backend via reg.
type Builder struct {
	srv        *rpc.Server
	reg        *backend.Registry
	keyManager crypto.KeyManager
}

// NewBuilder builds a Builder.
func NewBuilder(srv *rpc.Server, reg *backend.Registry) *Builder {
	return &Builder{srv: srv, reg: reg}
}

// SetKeyManager attaches a KeyManager so every manifest key built from now
// on is wrapped before being handed to the cache, rather than sitting in
// the cache as plaintext for the context's lifetime. Optional; a Builder
// with no KeyManager leaves Manifest.Key as Drop sent it.
func (b *Builder) SetKeyManager(km crypto.KeyManager) {
	b.keyManager = km
}

// Build implements spec §4.3 steps 1-5.
func (b *Builder) Build(ctx context.Context, gameID, versionName string) (*DownloadContext, error) {
	messageID, err := b.srv.Send(wire.TypeVersionQuery, wire.VersionQuery{
		GameID:      gameID,
		VersionName: versionName,
	}, "")
	if err != nil {
		return nil, depoterr.Internal("sending VERSION_QUERY", err)
	}

	var resp wire.VersionResponse
	if err := b.srv.AwaitResponse(ctx, messageID, &resp); err != nil {
		var remoteErr *depoterr.RemoteError
		if errors.As(err, &remoteErr) {
			// Drop rejected the query outright (unknown game/version is the
			// only rejection this RPC can produce) - the upstream
			// equivalent of a 4xx, collapsed to 404 (spec §7).
			return nil, depoterr.NotFound(fmt.Sprintf("%s/%s: %s", gameID, versionName, remoteErr.Message))
		}
		return nil, depoterr.Internal(fmt.Sprintf("awaiting VERSION_QUERY response for %s/%s", gameID, versionName), err)
	}

	var opts sourceOptions
	if err := json.Unmarshal([]byte(resp.Source.Options), &opts); err != nil || opts.BaseDir == "" {
		return nil, depoterr.Internal("parsing library source options", fmt.Errorf("missing baseDir"))
	}

	root, err := versionRoot(opts.BaseDir, resp.Source.Backend, resp.LibraryPath, resp.VersionPath)
	if err != nil {
		return nil, err
	}

	be, err := b.reg.Resolve(ctx, root)
	if err != nil {
		return nil, depoterr.Internal(fmt.Sprintf("constructing backend for %s", root), err)
	}

	m := manifest.FromWire(resp.Manifest)

	var envelope *crypto.KeyEnvelope
	if b.keyManager != nil {
		envelope, err = b.keyManager.WrapKey(ctx, m.Key[:], map[string]string{
			"game_id":      gameID,
			"version_name": versionName,
		})
		if err != nil {
			return nil, depoterr.Internal(fmt.Sprintf("wrapping manifest key for %s/%s", gameID, versionName), err)
		}
		for i := range m.Key {
			m.Key[i] = 0
		}
	}

	return &DownloadContext{
		Manifest:    m,
		Backend:     be,
		Root:        root,
		KeyEnvelope: envelope,
		LastAccess:  time.Now(),
	}, nil
}

// versionRoot computes the filesystem root per spec §4.3 step 2.
func versionRoot(baseDir, backendKind, libraryPath, versionPath string) (string, error) {
	switch backendKind {
	case backendFilesystem:
		return filepath.Join(baseDir, libraryPath, versionPath), nil
	case backendFlatFilesystem:
		return filepath.Join(baseDir, libraryPath), nil
	default:
		return "", depoterr.Internal("resolving version root", fmt.Errorf("unknown backend kind %q", backendKind))
	}
}
