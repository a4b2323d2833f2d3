// Package wire implements the length-prefixed framing of the Drop RPC
// channel (spec §4.1): every frame is an 8-byte little-endian length
// followed by exactly that many bytes of a serialized envelope. Reads
// are exact-length; a short read is a hard channel error.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/torrential/depot/internal/depoterr"
)

// MaxFrameSize bounds a single envelope to guard against a corrupt or
// malicious length prefix causing an unbounded allocation.
const MaxFrameSize = 256 * 1024 * 1024

// WriteFrame writes the length-prefixed frame for payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lengthBuf [8]byte
	binary.LittleEndian.PutUint64(lengthBuf[:], uint64(len(payload)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return &depoterr.TransportError{Cause: fmt.Errorf("writing frame length: %w", err)}
	}
	if _, err := w.Write(payload); err != nil {
		return &depoterr.TransportError{Cause: fmt.Errorf("writing frame payload: %w", err)}
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, returning its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [8]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, &depoterr.TransportError{Cause: fmt.Errorf("reading frame length: %w", err)}
	}

	length := binary.LittleEndian.Uint64(lengthBuf[:])
	if length > MaxFrameSize {
		return nil, &depoterr.TransportError{Cause: fmt.Errorf("frame length %d exceeds maximum %d", length, MaxFrameSize)}
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, &depoterr.TransportError{Cause: fmt.Errorf("reading frame payload (%d bytes): %w", length, err)}
	}

	return buf, nil
}

// WriteEnvelope serializes env and writes it as one frame.
func WriteEnvelope(w io.Writer, env Envelope) error {
	payload, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReadEnvelope reads one frame and deserializes it as an Envelope.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshalling envelope: %w", err)
	}
	return env, nil
}
