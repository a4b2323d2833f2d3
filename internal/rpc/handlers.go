package rpc

import (
	"context"
	"fmt"

	"github.com/torrential/depot/internal/backend"
	"github.com/torrential/depot/internal/wire"
)

// ManifestGenerateHandler builds the GENERATE_MANIFEST handler. Unlike
// the other inbound RPCs, generation is long-running and streams
// MANIFEST_PROGRESS/MANIFEST_LOG updates under the same message_id before
// the terminal MANIFEST_COMPLETE/MANIFEST_ERROR; those intermediate sends
// happen directly against srv here, and the handler's own return value
// carries only the terminal message.
func ManifestGenerateHandler(srv *Server, gen ManifestGenerator) Handler {
	return func(ctx context.Context, req wire.Envelope) (wire.MessageType, interface{}, error) {
		var payload wire.GenerateManifest
		if err := wire.DecodePayload(req.Data, &payload); err != nil {
			return 0, nil, fmt.Errorf("decoding GenerateManifest: %w", err)
		}

		events, err := gen.Generate(ctx, payload.VersionDir)
		if err != nil {
			return 0, nil, err
		}

		for ev := range events {
			switch {
			case ev.Err != nil:
				return 0, nil, ev.Err
			case ev.Progress != nil:
				if _, sendErr := srv.Send(wire.TypeManifestProgress, wire.ManifestProgress{Progress: *ev.Progress}, req.MessageID); sendErr != nil {
					return 0, nil, sendErr
				}
			case ev.LogLine != "":
				if _, sendErr := srv.Send(wire.TypeManifestLog, wire.ManifestLog{LogLine: ev.LogLine}, req.MessageID); sendErr != nil {
					return 0, nil, sendErr
				}
			case ev.ManifestJSON != "":
				return wire.TypeManifestComplete, wire.ManifestComplete{ManifestJSON: ev.ManifestJSON}, nil
			}
		}

		return 0, nil, fmt.Errorf("manifest generation for %s ended without a terminal event", payload.VersionDir)
	}
}

// GenerateRootCAHandler builds the GENERATE_ROOT_CA handler.
func GenerateRootCAHandler(ca CertificateAuthority) Handler {
	return func(ctx context.Context, req wire.Envelope) (wire.MessageType, interface{}, error) {
		cert, key, err := ca.GenerateRootCA(ctx)
		if err != nil {
			return 0, nil, err
		}
		return wire.TypeRootCAComplete, wire.RootCertResponse{Cert: cert, Priv: key}, nil
	}
}

// GenerateClientCertHandler builds the GENERATE_CLIENT_CERT handler.
func GenerateClientCertHandler(ca CertificateAuthority) Handler {
	return func(ctx context.Context, req wire.Envelope) (wire.MessageType, interface{}, error) {
		var payload wire.ClientCertQuery
		if err := wire.DecodePayload(req.Data, &payload); err != nil {
			return 0, nil, fmt.Errorf("decoding ClientCertQuery: %w", err)
		}

		cert, key, err := ca.GenerateClientCert(ctx, payload.ClientID, payload.ClientName, payload.RootCert, payload.RootPriv)
		if err != nil {
			return 0, nil, err
		}
		return wire.TypeClientCertComplete, wire.ClientCertResponse{Cert: cert, Priv: key}, nil
	}
}

// ListFilesHandler builds the LIST_FILES_QUERY handler, answered directly
// from the backend registry against the queried path.
func ListFilesHandler(reg *backend.Registry) Handler {
	return func(ctx context.Context, req wire.Envelope) (wire.MessageType, interface{}, error) {
		var payload wire.ListFilesQuery
		if err := wire.DecodePayload(req.Data, &payload); err != nil {
			return 0, nil, fmt.Errorf("decoding ListFilesQuery: %w", err)
		}

		be, err := reg.Resolve(ctx, payload.Path)
		if err != nil {
			return 0, nil, err
		}
		defer be.Close()

		files, err := be.ListFiles(ctx)
		if err != nil {
			return 0, nil, err
		}
		return wire.TypeListFilesComplete, wire.ListFilesResponse{Files: files}, nil
	}
}

// HasBackendHandler builds the HAS_BACKEND_QUERY handler.
func HasBackendHandler(reg *backend.Registry) Handler {
	return func(ctx context.Context, req wire.Envelope) (wire.MessageType, interface{}, error) {
		var payload wire.HasBackendQuery
		if err := wire.DecodePayload(req.Data, &payload); err != nil {
			return 0, nil, fmt.Errorf("decoding HasBackendQuery: %w", err)
		}
		return wire.TypeHasBackendComplete, wire.HasBackendResponse{Result: reg.HasBackend(payload.Path)}, nil
	}
}

// PeekFileHandler builds the PEEK_FILE_QUERY handler.
func PeekFileHandler(reg *backend.Registry) Handler {
	return func(ctx context.Context, req wire.Envelope) (wire.MessageType, interface{}, error) {
		var payload wire.PeekFileQuery
		if err := wire.DecodePayload(req.Data, &payload); err != nil {
			return 0, nil, fmt.Errorf("decoding PeekFileQuery: %w", err)
		}

		be, err := reg.Resolve(ctx, payload.Path)
		if err != nil {
			return 0, nil, err
		}
		defer be.Close()

		size, err := be.PeekFile(ctx, payload.Filename)
		if err != nil {
			return 0, nil, err
		}
		return wire.TypePeekFileComplete, wire.PeekFileResponse{Size: size}, nil
	}
}

// RegisterAll wires every inbound RPC handler onto srv.
func RegisterAll(srv *Server, gen ManifestGenerator, ca CertificateAuthority, reg *backend.Registry) {
	srv.RegisterHandler(wire.TypeGenerateManifest, ManifestGenerateHandler(srv, gen))
	srv.RegisterHandler(wire.TypeGenerateRootCA, GenerateRootCAHandler(ca))
	srv.RegisterHandler(wire.TypeGenerateClientCert, GenerateClientCertHandler(ca))
	srv.RegisterHandler(wire.TypeListFilesQuery, ListFilesHandler(reg))
	srv.RegisterHandler(wire.TypeHasBackendQuery, HasBackendHandler(reg))
	srv.RegisterHandler(wire.TypePeekFileQuery, PeekFileHandler(reg))
}
