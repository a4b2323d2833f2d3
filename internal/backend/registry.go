package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ryanuber/go-glob"
)

// Registry holds an ordered set of probes, tried in registration order.
// The first probe whose Matches reports true wins (spec §9: "a registry
// of probes keyed by directory markers").
type Registry struct {
	probes []Probe
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a probe to the registry.
func (r *Registry) Register(p Probe) {
	r.probes = append(r.probes, p)
}

// Resolve finds the first matching probe for root and constructs its
// backend. Returns an error if no probe matches or construction fails.
func (r *Registry) Resolve(ctx context.Context, root string) (VersionBackend, error) {
	for _, p := range r.probes {
		if p.Matches(root) {
			be, err := p.Construct(ctx, root)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", p.Name, err)
			}
			return be, nil
		}
	}
	return nil, fmt.Errorf("no backend probe matches root %q", root)
}

// HasBackend reports whether any registered probe matches root, without
// constructing anything. Used to answer HAS_BACKEND_QUERY.
func (r *Registry) HasBackend(root string) bool {
	for _, p := range r.probes {
		if p.Matches(root) {
			return true
		}
	}
	return false
}

// NewDefaultRegistry wires the registry used by the production process:
// an s3:// prefix selects the S3-backed backend, everything else is
// probed as a plain filesystem directory tree.
func NewDefaultRegistry(s3Constructor Constructor) *Registry {
	reg := NewRegistry()

	reg.Register(Probe{
		Name: "s3",
		Matches: func(root string) bool {
			return glob.Glob("s3://*", root)
		},
		Construct: s3Constructor,
	})

	reg.Register(Probe{
		Name: "filesystem",
		Matches: func(root string) bool {
			info, err := os.Stat(root)
			return err == nil && info.IsDir()
		},
		Construct: func(ctx context.Context, root string) (VersionBackend, error) {
			return NewFilesystemBackend(root)
		},
	})

	return reg
}

// listRelativeFiles walks root and returns every regular file's path
// relative to root, sorted for deterministic output.
func listRelativeFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
