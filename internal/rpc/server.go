// Package rpc implements the Drop RPC transport (spec §4.2): a
// length-prefixed duplex channel over TCP with correlation-ID
// multiplexing, reconnect-by-re-accept, and inbound-RPC dispatch.
package rpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/torrential/depot/internal/depoterr"
	"github.com/torrential/depot/internal/wire"
)

// Handler answers one inbound RPC message. Implementations report success
// by returning a (replyType, payload) pair sent back as *_COMPLETE with
// the same message_id; a returned error is instead sent as RPC_ERROR
// carrying err.Error() (see dispatch).
type Handler func(ctx context.Context, req wire.Envelope) (replyType wire.MessageType, payload interface{}, err error)

// Server is the Drop RPC transport: it accepts exactly one upstream
// connection at a time, serializes outbound writes under a mutex, and
// runs a single long-lived receive loop that either wakes a waiting
// sender (for TorrentialBound* responses to a DropBound* query) or
// dispatches to a registered Handler (for inbound TorrentialBound* RPCs).
type Server struct {
	listener net.Listener
	logger   *logrus.Entry

	mu   sync.Mutex // guards conn (read+write half) across reconnects
	conn net.Conn

	waitmap  *waitMap
	handlers map[wire.MessageType]Handler

	// inboundTypes lists which message types are dispatched to handlers
	// rather than treated as correlated responses.
	inboundTypes map[wire.MessageType]struct{}
}

// NewServer builds a Server listening on addr. It blocks until the first
// peer connects, matching the original depot's startup behaviour (the
// process cannot serve chunk requests before Drop is reachable).
func NewServer(ctx context.Context, addr string, logger *logrus.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	s := &Server{
		listener:     listener,
		logger:       logger.WithField("component", "drop_rpc"),
		waitmap:      newWaitMap(),
		handlers:     make(map[wire.MessageType]Handler),
		inboundTypes: make(map[wire.MessageType]struct{}),
	}

	conn, err := listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting first Drop peer: %w", err)
	}
	s.conn = conn

	go s.receiveLoop()

	s.logger.Info("connected to Drop peer")
	return s, nil
}

// RegisterHandler dispatches inbound messages of the given type to fn.
// Must be called before the receive loop observes that type.
func (s *Server) RegisterHandler(msgType wire.MessageType, fn Handler) {
	s.handlers[msgType] = fn
	s.inboundTypes[msgType] = struct{}{}
}

// Send serializes payload, wraps it in an envelope of type msgType with
// message_id = correlationID (or a fresh UUIDv4 if empty), and writes it
// under the write mutex. Returns the message_id used.
func (s *Server) Send(msgType wire.MessageType, payload interface{}, correlationID string) (string, error) {
	messageID := correlationID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	data, err := wire.EncodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}

	env := wire.Envelope{Type: msgType, MessageID: messageID, Data: data}

	s.mu.Lock()
	conn := s.conn
	err = wire.WriteEnvelope(conn, env)
	s.mu.Unlock()

	if err != nil {
		return "", &depoterr.TransportError{Cause: err}
	}
	return messageID, nil
}

// AwaitResponse blocks until a response bearing messageID arrives (or ctx
// is done), then decodes its data into out. An ERROR-typed response
// yields a *depoterr.RemoteError instead.
func (s *Server) AwaitResponse(ctx context.Context, messageID string, out interface{}) error {
	ch := s.waitmap.Await(messageID)

	select {
	case env := <-ch:
		s.waitmap.Forget(messageID)
		if env.Type == wire.TypeError || env.Type == wire.TypeRPCError {
			var errPayload wire.ErrorPayload
			if decodeErr := wire.DecodePayload(env.Data, &errPayload); decodeErr == nil && errPayload.Message != "" {
				return &depoterr.RemoteError{Message: errPayload.Message}
			}
			return &depoterr.RemoteError{Message: string(env.Data)}
		}
		if out == nil {
			return nil
		}
		return wire.DecodePayload(env.Data, out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop reads envelopes until the connection fails, then reconnects
// by accepting the next peer on the same listener and resumes (spec
// §4.2's Connecting -> Connected -> Disconnected -> Connecting machine).
// Awaiters parked in the waitmap are never woken by a disconnect; they
// resume only when a matching reply arrives on the new connection.
func (s *Server) receiveLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if err := s.readUntilError(conn); err != nil {
			s.logger.WithError(err).Warn("Drop connection lost, awaiting reconnect")

			newConn, acceptErr := s.listener.Accept()
			if acceptErr != nil {
				s.logger.WithError(acceptErr).Error("failed to accept replacement Drop peer, receive loop exiting")
				return
			}

			s.mu.Lock()
			s.conn = newConn
			s.mu.Unlock()

			s.logger.Info("reconnected to Drop peer")
		}
	}
}

// readUntilError reads and dispatches envelopes from conn until an I/O
// error occurs, returning that error.
func (s *Server) readUntilError(conn net.Conn) error {
	for {
		env, err := wire.ReadEnvelope(conn)
		if err != nil {
			if err == io.EOF {
				return err
			}
			return err
		}

		if _, inbound := s.inboundTypes[env.Type]; inbound {
			go s.dispatch(env)
			continue
		}

		s.waitmap.Deliver(env)
	}
}

// dispatch runs the registered handler for an inbound RPC and replies
// with its result, converting handler errors into an RPC_ERROR message
// (ground truth: original_source/src/droplet/mod.rs's call_rpc wrapper).
func (s *Server) dispatch(env wire.Envelope) {
	handler, ok := s.handlers[env.Type]
	if !ok {
		s.logger.WithField("type", env.Type.String()).Warn("no handler registered for inbound RPC type")
		return
	}

	replyType, payload, err := handler(context.Background(), env)
	if err != nil {
		s.logger.WithError(err).WithField("type", env.Type.String()).Warn("inbound RPC handler failed")
		if _, sendErr := s.Send(wire.TypeRPCError, wire.ErrorPayload{Message: err.Error()}, env.MessageID); sendErr != nil {
			s.logger.WithError(sendErr).Warn("failed to send RPC_ERROR reply")
		}
		return
	}

	if _, sendErr := s.Send(replyType, payload, env.MessageID); sendErr != nil {
		s.logger.WithError(sendErr).Warn("failed to send RPC reply")
	}
}

// Close shuts down the listener and the current connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if lErr := s.listener.Close(); lErr != nil && err == nil {
		err = lErr
	}
	return err
}
