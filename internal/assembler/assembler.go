// Package assembler implements the chunk assembly pipeline (spec §4.5):
// manifest chunk lookup, per-file permit acquisition, ordered range-read
// concatenation, and the streaming AES-CTR cipher stage wrapped around
// the result.
package assembler

import (
	"context"
	"fmt"
	"io"

	"github.com/torrential/depot/internal/admission"
	"github.com/torrential/depot/internal/backend"
	"github.com/torrential/depot/internal/crypto"
	"github.com/torrential/depot/internal/depoterr"
	"github.com/torrential/depot/internal/manifest"
)

// Assembler builds chunk streams against a shared file-permit semaphore.
type Assembler struct {
	filePermits *admission.Semaphore
}

// New builds an Assembler backed by the given file-permit semaphore
// (spec §4.7, sized to the process open-file limit).
func New(filePermits *admission.Semaphore) *Assembler {
	return &Assembler{filePermits: filePermits}
}

// ChunkStream is the encrypted byte stream for one chunk request. Reading
// it drives the underlying file reads and the streaming cipher; Close
// releases the per-file permits and closes every open reader, regardless
// of how much of the stream was consumed (spec §4.5: "reader lifetime is
// bounded by the response body").
type ChunkStream struct {
	enc    *crypto.StreamingCTREncrypter
	multi  *multiReadCloser
	n      int
	sem    *admission.Semaphore
	closed bool
}

func (c *ChunkStream) Read(p []byte) (int, error) { return c.enc.Read(p) }

func (c *ChunkStream) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.enc.Close()
	c.sem.Release(c.n)
	return err
}

// Serve looks up chunkID in m, acquires one file permit per FileEntry,
// opens an ordered reader per entry against be, and returns the resulting
// ciphertext stream along with its declared Content-Length.
func (a *Assembler) Serve(ctx context.Context, m manifest.Manifest, chunkID string, be backend.VersionBackend) (*ChunkStream, uint64, error) {
	chunk, ok := m.Chunk(chunkID)
	if !ok {
		return nil, 0, depoterr.NotFound(fmt.Sprintf("unknown chunk %q", chunkID))
	}

	n := len(chunk.Files)
	if n >= a.filePermits.Capacity() {
		return nil, 0, depoterr.InsufficientStorage(
			fmt.Sprintf("chunk %q requires %d files, exceeding file-permit capacity %d", chunkID, n, a.filePermits.Capacity()),
		)
	}

	if err := a.filePermits.Acquire(ctx, n); err != nil {
		return nil, 0, fmt.Errorf("acquiring file permits: %w", err)
	}

	readers := make([]io.ReadCloser, 0, n)
	for _, f := range chunk.Files {
		r, err := be.Reader(ctx, f.Filename, f.Start, f.Start+f.Length)
		if err != nil {
			for _, opened := range readers {
				opened.Close()
			}
			a.filePermits.Release(n)
			return nil, 0, depoterr.Internal(fmt.Sprintf("opening reader for %s", f.Filename), err)
		}
		readers = append(readers, r)
	}

	mr := &multiReadCloser{readers: readers}
	enc, err := crypto.NewStreamingCTREncrypter(mr, m.Key, chunk.IV)
	if err != nil {
		mr.Close()
		a.filePermits.Release(n)
		return nil, 0, depoterr.Internal("building cipher stream", err)
	}

	return &ChunkStream{enc: enc, multi: mr, n: n, sem: a.filePermits}, chunk.PlaintextLength(), nil
}

// multiReadCloser concatenates a fixed ordered sequence of readers
// end-to-end, advancing to the next only once the current one returns
// io.EOF, and closes every reader exactly once regardless of how far
// consumption got.
type multiReadCloser struct {
	readers []io.ReadCloser
	idx     int
}

func (m *multiReadCloser) Read(p []byte) (int, error) {
	for m.idx < len(m.readers) {
		n, err := m.readers[m.idx].Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			m.idx++
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, io.EOF
}

func (m *multiReadCloser) Close() error {
	var firstErr error
	for _, r := range m.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
