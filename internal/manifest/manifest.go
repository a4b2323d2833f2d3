// Package manifest holds the in-memory representation of a version's
// chunk catalogue, converted from the wire-level types received over the
// Drop RPC channel (spec §3, §4.3 step 5).
package manifest

import (
	"fmt"

	"github.com/torrential/depot/internal/wire"
)

// keySize and ivSize are the fixed lengths the wire contract guarantees
// for manifest.key and chunk.iv (AES-128-CTR).
const (
	keySize = 16
	ivSize  = 16
)

// FileEntry is one ordered range read that contributes to a chunk's
// plaintext (spec §3).
type FileEntry struct {
	Filename    string
	Start       uint64
	Length      uint64
	Permissions uint32
}

// ChunkData is the ordered file-range recipe for one chunk_id.
type ChunkData struct {
	Files    []FileEntry
	Checksum []byte
	IV       [ivSize]byte
}

// PlaintextLength returns the sum of every file entry's length, which is
// both the chunk's plaintext size and its declared Content-Length.
func (c ChunkData) PlaintextLength() uint64 {
	var total uint64
	for _, f := range c.Files {
		total += f.Length
	}
	return total
}

// Manifest is the per-version catalogue of chunks (spec §3), immutable
// once loaded.
type Manifest struct {
	Key    [keySize]byte
	Size   uint64
	Chunks map[string]ChunkData
}

// Chunk looks up a chunk by id.
func (m Manifest) Chunk(chunkID string) (ChunkData, bool) {
	c, ok := m.Chunks[chunkID]
	return c, ok
}

// FromWire converts a wire.WireManifest received over the Drop channel
// into the in-memory Manifest.
//
// The wire contract guarantees key and every chunk's iv are exactly 16
// bytes; a mismatch is a violation of that contract rather than a
// reachable runtime condition; per spec §4.3 step 5 and the accompanying
// Open Question, this panics rather than returning an error (see
// DESIGN.md for the decision record).
func FromWire(wm wire.WireManifest) Manifest {
	m := Manifest{
		Size:   wm.Size,
		Chunks: make(map[string]ChunkData, len(wm.Chunks)),
	}
	copyFixed(m.Key[:], wm.Key, "manifest.key")

	for id, wc := range wm.Chunks {
		m.Chunks[id] = chunkFromWire(wc)
	}
	return m
}

func chunkFromWire(wc wire.WireChunkData) ChunkData {
	c := ChunkData{
		Checksum: wc.Checksum,
		Files:    make([]FileEntry, len(wc.Files)),
	}
	copyFixed(c.IV[:], wc.IV, "chunk.iv")

	for i, wf := range wc.Files {
		c.Files[i] = FileEntry{
			Filename:    wf.Filename,
			Start:       wf.Start,
			Length:      wf.Length,
			Permissions: wf.Permissions,
		}
	}
	return c
}

func copyFixed(dst []byte, src []byte, field string) {
	if len(src) != len(dst) {
		panic(fmt.Sprintf("manifest: %s must be exactly %d bytes, got %d", field, len(dst), len(src)))
	}
	copy(dst, src)
}
