// Package state holds the process-wide AppState described in spec §3:
// the shared context cache, Drop RPC transport, and the single bearer
// token gating the HTTP surface, created once at startup.
package state

import (
	"sync"

	"github.com/torrential/depot/internal/admission"
	"github.com/torrential/depot/internal/assembler"
	"github.com/torrential/depot/internal/dlcontext"
	"github.com/torrential/depot/internal/rpc"
)

// AppState is the process's single shared instance, owning the context
// cache, the Drop RPC server, the chunk assembler, and the admission
// semaphores. No other global mutable state exists besides these.
type AppState struct {
	Cache       *dlcontext.Cache
	Assembler   *assembler.Assembler
	DropServer  *rpc.Server
	FilePermits *admission.Semaphore

	mu    sync.Mutex
	token string
	set   bool
}

// New builds an AppState. Callers construct the cache, assembler, and
// semaphores beforehand (they depend on config the process reads at
// startup) and hand them in fully wired.
func New(cache *dlcontext.Cache, asm *assembler.Assembler, dropServer *rpc.Server, filePermits *admission.Semaphore) *AppState {
	return &AppState{
		Cache:       cache,
		Assembler:   asm,
		DropServer:  dropServer,
		FilePermits: filePermits,
	}
}

// SetToken sets the bearer token exactly once. A second call with the
// same value is a no-op; a second call with a different value panics,
// matching spec §7's "asserts single-valued-token (a second, different
// token is a programmer / operator error and panics the process)".
func (s *AppState) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set {
		s.token = token
		s.set = true
		return
	}
	if s.token != token {
		panic("state: token already initialized with a different value")
	}
}

// Token returns the current token and whether it has been set.
func (s *AppState) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.set
}

// Ready reports whether the token has been initialized (spec §6's
// /healthcheck and content routes both gate on this).
func (s *AppState) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}
