package rpc

import "context"

// ManifestGenerator is the opaque callout that produces a manifest for a
// local version directory (spec §1: "the manifest-generation... algorithms
// themselves, treated as opaque callouts"). Implementations are expected
// to report incremental progress via the returned channel and close it
// when generation finishes or fails.
type ManifestGenerator interface {
	Generate(ctx context.Context, versionDir string) (<-chan GenerationEvent, error)
}

// GenerationEvent is one update from a ManifestGenerator: exactly one of
// Progress, LogLine, ManifestJSON, or Err is set.
type GenerationEvent struct {
	Progress     *float64
	LogLine      string
	ManifestJSON string
	Err          error
}

// CertificateAuthority is the opaque callout that issues certificates
// (spec §1: "certificate-generation algorithms... treated as opaque
// callouts").
type CertificateAuthority interface {
	GenerateRootCA(ctx context.Context) (cert, key []byte, err error)
	GenerateClientCert(ctx context.Context, clientID, clientName string, rootCert, rootKey []byte) (cert, key []byte, err error)
}
