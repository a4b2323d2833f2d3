package api

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/torrential/depot/internal/admission"
	"github.com/torrential/depot/internal/assembler"
	"github.com/torrential/depot/internal/backend"
	"github.com/torrential/depot/internal/dlcontext"
	"github.com/torrential/depot/internal/rpc"
	"github.com/torrential/depot/internal/state"
	"github.com/torrential/depot/internal/wire"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// buildTestServer wires a full content-serving chain against a real
// rpc.Server/peer and a real filesystem backend, matching spec §8's S1
// scenario, but without a real Drop control plane.
func buildTestServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	type result struct {
		srv *rpc.Server
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		srv, err := rpc.NewServer(context.Background(), addr, discardLogger())
		resultCh <- result{srv, err}
	}()

	var peer net.Conn
	for i := 0; i < 50; i++ {
		peer, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	res := <-resultCh
	require.NoError(t, res.err)

	reg := backend.NewDefaultRegistry(nil)
	builder := dlcontext.NewBuilder(res.srv, reg)
	cache := dlcontext.NewCache(builder, admission.NewSemaphore(1), time.Minute, nil)
	asm := assembler.New(admission.NewSemaphore(64))
	st := state.New(cache, asm, res.srv, admission.NewSemaphore(64))

	apiSrv := NewServer(st, res.srv, discardLogger(), nil, nil)
	return apiSrv, peer
}

func writeVersionResponse(t *testing.T, peer net.Conn, root string) {
	t.Helper()

	key, err := hex.DecodeString("00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	iv, err := hex.DecodeString("0f0e0d0c0b0a09080706050403020100")
	require.NoError(t, err)

	wm := wire.WireManifest{
		Key:  key,
		Size: 16,
		Chunks: map[string]wire.WireChunkData{
			"c1": {
				Files: []wire.WireFileEntry{
					{Filename: "data.bin", Start: 0, Length: 16},
				},
				IV: iv,
			},
		},
	}

	opts, _ := json.Marshal(struct {
		BaseDir string `json:"baseDir"`
	}{BaseDir: root})

	go func() {
		env, err := wire.ReadEnvelope(peer)
		if err != nil {
			return
		}
		resp := wire.VersionResponse{
			Manifest:    wm,
			Source:      wire.LibrarySource{Backend: "FILESYSTEM", Options: string(opts)},
			LibraryPath: "g1",
			VersionPath: "v1",
		}
		data, _ := wire.EncodePayload(resp)
		wire.WriteEnvelope(peer, wire.Envelope{Type: wire.TypeVersionResponse, MessageID: env.MessageID, Data: data})
	}()
}

func TestHandleContentServesS1HappyPath(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	root := t.TempDir()
	versionDir := filepath.Join(root, "g1", "v1")
	require.NoError(t, os.MkdirAll(versionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(versionDir, "data.bin"), []byte("HELLO WORLD!!!!!"), 0o644))

	apiSrv.state.SetToken("tok")
	writeVersionResponse(t, peer, root)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/depot/content/g1/v1/c1", nil)
	req = mux.SetURLVars(req, map[string]string{"game_id": "g1", "version_name": "v1", "chunk_id": "c1"})
	rr := httptest.NewRecorder()

	apiSrv.handleContent(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "16", rr.Header().Get("Content-Length"))

	keyBytes, err := hex.DecodeString("00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	ivBytes, err := hex.DecodeString("0f0e0d0c0b0a09080706050403020100")
	require.NoError(t, err)
	block, err := aes.NewCipher(keyBytes)
	require.NoError(t, err)
	stream := cipher.NewCTR(block, ivBytes)
	want := make([]byte, 16)
	stream.XorKeyStream(want, []byte("HELLO WORLD!!!!!"))

	require.True(t, bytes.Equal(want, rr.Body.Bytes()))
}

func TestHandleContentReturns503BeforeToken(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/depot/content/g1/v1/c1", nil)
	req = mux.SetURLVars(req, map[string]string{"game_id": "g1", "version_name": "v1", "chunk_id": "c1"})
	rr := httptest.NewRecorder()

	apiSrv.handleContent(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleContentReturns404ForUnknownChunk(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	root := t.TempDir()
	versionDir := filepath.Join(root, "g1", "v1")
	require.NoError(t, os.MkdirAll(versionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(versionDir, "data.bin"), []byte("HELLO WORLD!!!!!"), 0o644))

	apiSrv.state.SetToken("tok")
	writeVersionResponse(t, peer, root)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/depot/content/g1/v1/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"game_id": "g1", "version_name": "v1", "chunk_id": "nope"})
	rr := httptest.NewRecorder()

	apiSrv.handleContent(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleHealthcheckGatesOnToken(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rr := httptest.NewRecorder()
	apiSrv.handleHealthcheck(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	apiSrv.state.SetToken("tok")

	rr = httptest.NewRecorder()
	apiSrv.handleHealthcheck(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleSpeedtestReturnsFixedLength(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/depot/speedtest", nil)
	rr := httptest.NewRecorder()
	apiSrv.handleSpeedtest(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "52428800", rr.Header().Get("Content-Length"))
}

func TestHandleSetTokenPanicsOnDifferentValue(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	apiSrv.state.SetToken("tok1")
	require.Panics(t, func() { apiSrv.state.SetToken("tok2") })
}

func TestHandleManifestReturnsGamesFromInstanceGamesResponse(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	apiSrv.state.SetToken("tok")

	go func() {
		env, err := wire.ReadEnvelope(peer)
		if err != nil {
			return
		}
		resp := wire.InstanceGamesResponse{
			Games: map[string][]wire.GameVersionSummary{
				"g1": {{VersionID: "v1", Compression: "none"}},
			},
		}
		data, _ := wire.EncodePayload(resp)
		wire.WriteEnvelope(peer, wire.Envelope{Type: wire.TypeInstanceGamesResponse, MessageID: env.MessageID, Data: data})
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/depot/manifest.json", nil)
	rr := httptest.NewRecorder()

	apiSrv.handleManifest(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body manifestResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Contains(t, body.Content, "g1")
	require.Equal(t, "v1", body.Content["g1"][0].VersionID)
}

func TestHandleManifestReturns503BeforeToken(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/depot/manifest.json", nil)
	rr := httptest.NewRecorder()

	apiSrv.handleManifest(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleInvalidateAcceptsValidJSON(t *testing.T) {
	apiSrv, peer := buildTestServer(t)
	defer peer.Close()

	body := bytes.NewBufferString(`{"game":"g1","version":"v1"}`)
	req := httptest.NewRequest(http.MethodPost, "/invalidate", body)
	rr := httptest.NewRecorder()

	apiSrv.handleInvalidate(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
