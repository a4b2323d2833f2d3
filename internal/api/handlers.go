// Package api wires the HTTP surface described in spec §6/§4.8: thin
// handlers that resolve a cache entry, call the assembler, and stream
// the response, plus the control-plane routes (healthcheck, invalidate,
// token bootstrap, speedtest, manifest listing).
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/torrential/depot/internal/audit"
	"github.com/torrential/depot/internal/depoterr"
	"github.com/torrential/depot/internal/metrics"
	"github.com/torrential/depot/internal/rpc"
	"github.com/torrential/depot/internal/state"
	"github.com/torrential/depot/internal/tracing"
	"github.com/torrential/depot/internal/wire"
)

const speedtestSize = 50 * 1024 * 1024 // 50 MiB, spec §6

// Server owns the shared dependencies every handler needs.
type Server struct {
	state      *state.AppState
	dropServer *rpc.Server
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	audit      audit.Logger
	tracer     *tracing.Tracer
}

// NewServer builds an api.Server. Call SetTracer afterward to enable
// tracing; a Server with no tracer set behaves identically (StartSpan is
// nil-safe).
func NewServer(st *state.AppState, dropServer *rpc.Server, logger *logrus.Logger, m *metrics.Metrics, auditLogger audit.Logger) *Server {
	return &Server{state: st, dropServer: dropServer, logger: logger, metrics: m, audit: auditLogger}
}

// SetTracer attaches a tracer used to span content-serving requests.
func (s *Server) SetTracer(t *tracing.Tracer) {
	s.tracer = t
}

// Router builds the gorilla/mux router exposing every route in spec §6.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/depot/content/{game_id}/{version_name}/{chunk_id}", s.handleContent).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/depot/manifest.json", s.handleManifest).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/depot/speedtest", s.handleSpeedtest).Methods(http.MethodGet)
	r.HandleFunc("/healthcheck", s.handleHealthcheck).Methods(http.MethodGet)
	r.HandleFunc("/invalidate", s.handleInvalidate).Methods(http.MethodPost)
	r.HandleFunc("/key", s.handleSetToken).Methods(http.MethodPost)
	r.HandleFunc("/token", s.handleSetToken).Methods(http.MethodPost)
	return r
}

// handleContent serves GET /api/v1/depot/content/{game_id}/{version_name}/{chunk_id}.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := s.tracer.StartSpan(r.Context(), "depot.handleContent")
	defer span.End()

	if !s.state.Ready() {
		s.writeError(w, r, depoterr.Unavailable("token not set"), start)
		return
	}

	vars := mux.Vars(r)
	gameID, versionName, chunkID := vars["game_id"], vars["version_name"], vars["chunk_id"]

	dc, err := s.state.Cache.Get(ctx, gameID, versionName)
	if err != nil {
		s.writeError(w, r, depoterr.Internal("building download context", err), start)
		return
	}

	stream, contentLength, err := s.state.Assembler.Serve(ctx, dc.Manifest, chunkID, dc.Backend)
	if err != nil {
		s.writeError(w, r, err, start)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", contentLength))
	w.WriteHeader(http.StatusOK)

	written, copyErr := io.Copy(w, stream)
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(ctx, r.Method, r.URL.Path, http.StatusOK, duration, written)
		s.metrics.AddChunkBytesServed(written)
	}
	if s.audit != nil {
		s.audit.LogAccess("chunk_serve", gameID, chunkID, r.RemoteAddr, r.UserAgent(), "", copyErr == nil, copyErr, duration)
	}
}

// handleManifest serves GET /api/v1/depot/manifest.json.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !s.state.Ready() {
		s.writeError(w, r, depoterr.Unavailable("token not set"), start)
		return
	}

	messageID, err := s.dropServer.Send(wire.TypeInstanceGamesQuery, wire.InstanceGamesQuery{}, "")
	if err != nil {
		s.writeError(w, r, depoterr.Internal("sending INSTANCE_GAMES_QUERY", err), start)
		return
	}

	var resp wire.InstanceGamesResponse
	if err := s.dropServer.AwaitResponse(ctx, messageID, &resp); err != nil {
		s.writeError(w, r, depoterr.Internal("awaiting INSTANCE_GAMES_QUERY response", err), start)
		return
	}

	s.writeJSON(w, r, http.StatusOK, manifestResponse{Content: resp.Games}, start)
}

type manifestResponse struct {
	Content map[string][]wire.GameVersionSummary `json:"content"`
}

// handleSpeedtest serves GET /api/v1/depot/speedtest: 50 MiB of zero
// bytes, unconditionally (spec §6 lists no error path for this route).
func (s *Server) handleSpeedtest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	w.Header().Set("Content-Length", fmt.Sprintf("%d", speedtestSize))
	w.WriteHeader(http.StatusOK)

	written, _ := io.Copy(w, io.LimitReader(zeroReader{}, speedtestSize))

	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), written)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// handleHealthcheck serves GET /healthcheck: 200 once the token is set,
// 503 until then (spec §6, §8 invariant 9).
func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if !s.state.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type invalidateRequest struct {
	Game    string `json:"game"`
	Version string `json:"version"`
}

// handleInvalidate serves POST /invalidate.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, depoterr.Internal("decoding invalidate request", err), start)
		return
	}

	s.state.Cache.Invalidate(req.Game, req.Version)
	w.WriteHeader(http.StatusOK)

	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), 0)
	}
}

type tokenRequest struct {
	Key   string `json:"key"`
	Token string `json:"token"`
}

// handleSetToken serves POST /key and POST /token. Both accept either
// {"key": ...} or {"token": ...}; the process treats them as the same
// bearer token (spec §6).
func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, depoterr.Internal("decoding token request", err), start)
		return
	}

	value := req.Token
	if value == "" {
		value = req.Key
	}

	s.state.SetToken(value)
	w.WriteHeader(http.StatusOK)

	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, http.StatusOK, time.Since(start), 0)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	status := depoterr.HTTPStatus(err)
	s.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).Warn("request failed")

	w.WriteHeader(status)

	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, status, time.Since(start), 0)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}, start time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)

	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, status, time.Since(start), 0)
	}
}
