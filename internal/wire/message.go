package wire

import (
	"github.com/fxamacker/cbor/v2"
)

// Marshal and Unmarshal centralize the binary encoding used for both the
// envelope itself and the nested payload carried in its Data field.
//
// The original system carries a protobuf-encoded nested message inside
// envelope.data; generating real protobuf stubs requires protoc, which
// is not available in this build environment (see DESIGN.md / SPEC_FULL.md
// §B.1). CBOR (github.com/fxamacker/cbor/v2) fills the same role here: a
// compact, typed, schema-less binary codec that needs no code generation
// step and works directly off these struct definitions.
func Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

// Unmarshal decodes data produced by Marshal into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// Direction distinguishes which side of the channel a MessageType belongs
// to, matching the DropBound*/TorrentialBound* naming split in the spec.
type Direction uint8

const (
	// DirectionToDroplet marks server -> peer messages (DropBound*).
	DirectionToDroplet Direction = iota
	// DirectionToServer marks peer -> server messages (TorrentialBound*).
	DirectionToServer
)

// MessageType enumerates every envelope type on the wire.
type MessageType uint16

const (
	TypeUnknown MessageType = iota

	// Outbound queries (server -> peer), answered by a matching
	// *_RESPONSE/*_COMPLETE or ERROR.
	TypeVersionQuery
	TypeLibrarySourcesQuery
	TypeInstanceGamesQuery

	// Inbound replies (peer -> server), correlated by MessageID.
	TypeVersionResponse
	TypeLibrarySourcesResponse
	TypeInstanceGamesResponse
	TypeError

	// Inbound RPCs dispatched to a handler (peer -> server).
	TypeGenerateManifest
	TypeGenerateRootCA
	TypeGenerateClientCert
	TypeListFilesQuery
	TypeHasBackendQuery
	TypePeekFileQuery

	// Outbound RPC replies (server -> peer), correlated by MessageID.
	TypeManifestProgress
	TypeManifestLog
	TypeManifestComplete
	TypeManifestError
	TypeRootCAComplete
	TypeClientCertComplete
	TypeListFilesComplete
	TypeHasBackendComplete
	TypePeekFileComplete
	TypeRPCError
)

func (t MessageType) String() string {
	switch t {
	case TypeVersionQuery:
		return "VERSION_QUERY"
	case TypeLibrarySourcesQuery:
		return "LIBRARY_SOURCES_QUERY"
	case TypeInstanceGamesQuery:
		return "INSTANCE_GAMES_QUERY"
	case TypeVersionResponse:
		return "VERSION_RESPONSE"
	case TypeLibrarySourcesResponse:
		return "LIBRARY_SOURCES_RESPONSE"
	case TypeInstanceGamesResponse:
		return "INSTANCE_GAMES_RESPONSE"
	case TypeError:
		return "ERROR"
	case TypeGenerateManifest:
		return "GENERATE_MANIFEST"
	case TypeGenerateRootCA:
		return "GENERATE_ROOT_CA"
	case TypeGenerateClientCert:
		return "GENERATE_CLIENT_CERT"
	case TypeListFilesQuery:
		return "LIST_FILES_QUERY"
	case TypeHasBackendQuery:
		return "HAS_BACKEND_QUERY"
	case TypePeekFileQuery:
		return "PEEK_FILE_QUERY"
	case TypeManifestProgress:
		return "MANIFEST_PROGRESS"
	case TypeManifestLog:
		return "MANIFEST_LOG"
	case TypeManifestComplete:
		return "MANIFEST_COMPLETE"
	case TypeManifestError:
		return "MANIFEST_ERROR"
	case TypeRootCAComplete:
		return "ROOT_CA_COMPLETE"
	case TypeClientCertComplete:
		return "CLIENT_CERT_COMPLETE"
	case TypeListFilesComplete:
		return "LIST_FILES_COMPLETE"
	case TypeHasBackendComplete:
		return "HAS_BACKEND_COMPLETE"
	case TypePeekFileComplete:
		return "PEEK_FILE_COMPLETE"
	case TypeRPCError:
		return "RPC_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the wire-level message described by spec §3/§4.1:
// { type, message_id, data }, where data is a nested, type-dependent
// payload (see Marshal's doc comment for how that payload is encoded).
type Envelope struct {
	Type      MessageType `cbor:"1,keyasint"`
	MessageID string      `cbor:"2,keyasint"`
	Data      []byte      `cbor:"3,keyasint"`
}

// EncodePayload encodes a nested message for placement into Envelope.Data.
func EncodePayload(v interface{}) ([]byte, error) {
	return Marshal(v)
}

// DecodePayload decodes Envelope.Data into v.
func DecodePayload(data []byte, v interface{}) error {
	return Unmarshal(data, v)
}

// --- Nested payload schemas ---

// VersionQuery requests the manifest and root-resolution data for one
// version of one game (spec §4.3 step 1).
type VersionQuery struct {
	GameID      string `cbor:"1,keyasint"`
	VersionID   string `cbor:"2,keyasint"`
	VersionName string `cbor:"3,keyasint"`
}

// LibrarySource describes one configured content root as exposed by Drop,
// filtered in the context builder to Filesystem/FlatFilesystem backends
// (spec §4.3 step 2, original_source/src/remote.rs LibrarySource).
type LibrarySource struct {
	ID      string `cbor:"1,keyasint"`
	Name    string `cbor:"2,keyasint"`
	Backend string `cbor:"3,keyasint"` // "FILESYSTEM" | "FLAT_FILESYSTEM"
	Options string `cbor:"4,keyasint"` // opaque JSON, must contain "baseDir"
}

// VersionResponse answers a VersionQuery.
type VersionResponse struct {
	Manifest    WireManifest `cbor:"1,keyasint"`
	Source      LibrarySource `cbor:"2,keyasint"`
	LibraryPath string       `cbor:"3,keyasint"`
	VersionPath string       `cbor:"4,keyasint"`
}

// WireFileEntry mirrors spec §3's FileEntry exactly.
type WireFileEntry struct {
	Filename    string `cbor:"1,keyasint"`
	Start       uint64 `cbor:"2,keyasint"`
	Length      uint64 `cbor:"3,keyasint"`
	Permissions uint32 `cbor:"4,keyasint"`
}

// WireChunkData mirrors spec §3's ChunkData. IV must be exactly 16 bytes;
// the conversion to the in-memory Manifest enforces this (spec §4.3 step 5).
type WireChunkData struct {
	Files    []WireFileEntry `cbor:"1,keyasint"`
	Checksum []byte          `cbor:"2,keyasint"`
	IV       []byte          `cbor:"3,keyasint"`
}

// WireManifest mirrors spec §3's Manifest. Key must be exactly 16 bytes.
type WireManifest struct {
	Key    []byte                   `cbor:"1,keyasint"`
	Size   uint64                   `cbor:"2,keyasint"`
	Chunks map[string]WireChunkData `cbor:"3,keyasint"`
}

// ErrorPayload carries a UTF-8 message for ERROR/RPC_ERROR responses.
type ErrorPayload struct {
	Message string `cbor:"1,keyasint"`
}

// InstanceGamesQuery requests every game/version pair this depot
// instance should advertise, used to answer GET /api/v1/depot/manifest.json
// (spec §6, supplemented from original_source/src/remote.rs's game
// listing).
type InstanceGamesQuery struct{}

// GameVersionSummary is one entry in InstanceGamesResponse: a single
// version of a single game, with the compression scheme applied to its
// chunks (the core here only ever emits "none").
type GameVersionSummary struct {
	VersionID   string `cbor:"1,keyasint"`
	Compression string `cbor:"2,keyasint"`
}

// InstanceGamesResponse answers an InstanceGamesQuery with every known
// game's versions, keyed by game_id.
type InstanceGamesResponse struct {
	Games map[string][]GameVersionSummary `cbor:"1,keyasint"`
}

// GenerateManifest requests manifest generation for a local version
// directory (opaque callout; spec §1 "Out of scope").
type GenerateManifest struct {
	VersionDir string `cbor:"1,keyasint"`
}

// ManifestProgress reports fractional progress during generation.
type ManifestProgress struct {
	Progress float64 `cbor:"1,keyasint"`
}

// ManifestLog carries one log line emitted during generation.
type ManifestLog struct {
	LogLine string `cbor:"1,keyasint"`
}

// ManifestComplete carries the generated manifest, JSON-encoded (matching
// original_source/src/droplet/manifest.rs, which serializes with serde_json
// before sending).
type ManifestComplete struct {
	ManifestJSON string `cbor:"1,keyasint"`
}

// ManifestError carries a manifest-generation failure message.
type ManifestError struct {
	Error string `cbor:"1,keyasint"`
}

// ClientCertQuery requests a leaf certificate signed by the given root
// (opaque callout; spec §1 "Out of scope").
type ClientCertQuery struct {
	ClientID   string `cbor:"1,keyasint"`
	ClientName string `cbor:"2,keyasint"`
	RootCert   []byte `cbor:"3,keyasint"`
	RootPriv   []byte `cbor:"4,keyasint"`
}

// ClientCertResponse carries the generated leaf certificate and key.
type ClientCertResponse struct {
	Cert []byte `cbor:"1,keyasint"`
	Priv []byte `cbor:"2,keyasint"`
}

// RootCertResponse carries a freshly generated root CA certificate and key.
type RootCertResponse struct {
	Cert []byte `cbor:"1,keyasint"`
	Priv []byte `cbor:"2,keyasint"`
}

// HasBackendQuery asks whether a directory can be resolved by a known
// VersionBackend constructor.
type HasBackendQuery struct {
	Path string `cbor:"1,keyasint"`
}

// HasBackendResponse answers HasBackendQuery.
type HasBackendResponse struct {
	Result bool `cbor:"1,keyasint"`
}

// ListFilesQuery asks for the relative file listing under a directory.
type ListFilesQuery struct {
	Path string `cbor:"1,keyasint"`
}

// ListFilesResponse answers ListFilesQuery.
type ListFilesResponse struct {
	Files []string `cbor:"1,keyasint"`
}

// PeekFileQuery asks for a single file's size within a directory.
type PeekFileQuery struct {
	Path     string `cbor:"1,keyasint"`
	Filename string `cbor:"2,keyasint"`
}

// PeekFileResponse answers PeekFileQuery.
type PeekFileResponse struct {
	Size uint64 `cbor:"1,keyasint"`
}
