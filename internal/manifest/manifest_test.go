package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrential/depot/internal/wire"
)

func TestFromWireConvertsSingleChunk(t *testing.T) {
	wm := wire.WireManifest{
		Key:  repeat(0x11, 16),
		Size: 16,
		Chunks: map[string]wire.WireChunkData{
			"c1": {
				Files: []wire.WireFileEntry{
					{Filename: "data.bin", Start: 0, Length: 16, Permissions: 0o644},
				},
				Checksum: []byte{0xAA},
				IV:       repeat(0x22, 16),
			},
		},
	}

	m := FromWire(wm)

	assert.EqualValues(t, repeat(0x11, 16), m.Key[:])
	assert.Equal(t, uint64(16), m.Size)

	chunk, ok := m.Chunk("c1")
	require.True(t, ok)
	assert.EqualValues(t, repeat(0x22, 16), chunk.IV[:])
	assert.Equal(t, uint64(16), chunk.PlaintextLength())
	require.Len(t, chunk.Files, 1)
	assert.Equal(t, "data.bin", chunk.Files[0].Filename)
}

func TestChunkMissingReturnsFalse(t *testing.T) {
	m := Manifest{Chunks: map[string]ChunkData{}}
	_, ok := m.Chunk("nope")
	assert.False(t, ok)
}

func TestMultiFileChunkPlaintextLength(t *testing.T) {
	chunk := ChunkData{
		Files: []FileEntry{
			{Filename: "a.bin", Start: 2, Length: 3},
			{Filename: "b.bin", Start: 0, Length: 5},
		},
	}
	assert.Equal(t, uint64(8), chunk.PlaintextLength())
}

func TestFromWirePanicsOnShortKey(t *testing.T) {
	wm := wire.WireManifest{Key: []byte{1, 2, 3}, Chunks: map[string]wire.WireChunkData{}}
	assert.Panics(t, func() { FromWire(wm) })
}

func TestFromWirePanicsOnShortIV(t *testing.T) {
	wm := wire.WireManifest{
		Key: repeat(0, 16),
		Chunks: map[string]wire.WireChunkData{
			"c1": {IV: []byte{1, 2}},
		},
	}
	assert.Panics(t, func() { FromWire(wm) })
}

func repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
