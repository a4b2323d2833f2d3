package assembler

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrential/depot/internal/admission"
	"github.com/torrential/depot/internal/backend"
	"github.com/torrential/depot/internal/crypto"
	"github.com/torrential/depot/internal/manifest"
)

type fakeBackend struct {
	files map[string][]byte
}

func (f *fakeBackend) Reader(ctx context.Context, filename string, start, end uint64) (io.ReadCloser, error) {
	data, ok := f.files[filename]
	if !ok {
		return nil, assertNotFoundErr(filename)
	}
	return io.NopCloser(bytes.NewReader(data[start:end])), nil
}

func (f *fakeBackend) ListFiles(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeBackend) PeekFile(ctx context.Context, filename string) (uint64, error) {
	return uint64(len(f.files[filename])), nil
}
func (f *fakeBackend) Close() error { return nil }

func assertNotFoundErr(filename string) error {
	return io.ErrUnexpectedEOF
}

var _ backend.VersionBackend = (*fakeBackend)(nil)

func key16(b byte) [16]byte {
	var k [16]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestAssemblerServeSingleFileChunk(t *testing.T) {
	be := &fakeBackend{files: map[string][]byte{"data.bin": []byte("HELLO WORLD!!!!!")}}
	m := manifest.Manifest{
		Key: key16(0x00),
		Chunks: map[string]manifest.ChunkData{
			"c1": {
				Files: []manifest.FileEntry{{Filename: "data.bin", Start: 0, Length: 16}},
				IV:    key16(0x0f),
			},
		},
	}

	a := New(admission.NewSemaphore(10))
	stream, length, err := a.Serve(context.Background(), m, "c1", be)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, uint64(16), length)

	ciphertext, err := io.ReadAll(stream)
	require.NoError(t, err)

	want, err := crypto.EncryptAll([]byte("HELLO WORLD!!!!!"), m.Key, m.Chunks["c1"].IV)
	require.NoError(t, err)
	assert.Equal(t, want, ciphertext)
}

func TestAssemblerServeMultiFileOrderedConcatenation(t *testing.T) {
	be := &fakeBackend{files: map[string][]byte{
		"a.bin": []byte("ABCDEF"),
		"b.bin": []byte("12345"),
	}}
	m := manifest.Manifest{
		Key: key16(0x01),
		Chunks: map[string]manifest.ChunkData{
			"c2": {
				Files: []manifest.FileEntry{
					{Filename: "a.bin", Start: 2, Length: 3},
					{Filename: "b.bin", Start: 0, Length: 5},
				},
				IV: key16(0x02),
			},
		},
	}

	a := New(admission.NewSemaphore(10))
	stream, length, err := a.Serve(context.Background(), m, "c2", be)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, uint64(8), length)

	ciphertext, err := io.ReadAll(stream)
	require.NoError(t, err)

	want, err := crypto.EncryptAll([]byte("CDE12345"), m.Key, m.Chunks["c2"].IV)
	require.NoError(t, err)
	assert.Equal(t, want, ciphertext)
}

func TestAssemblerServeUnknownChunkReturnsNotFound(t *testing.T) {
	be := &fakeBackend{files: map[string][]byte{}}
	m := manifest.Manifest{Chunks: map[string]manifest.ChunkData{}}

	a := New(admission.NewSemaphore(10))
	_, _, err := a.Serve(context.Background(), m, "nope", be)
	require.Error(t, err)
}

func TestAssemblerServeInsufficientStorageWhenFilesExceedCapacity(t *testing.T) {
	be := &fakeBackend{files: map[string][]byte{"a.bin": []byte("x")}}
	m := manifest.Manifest{
		Chunks: map[string]manifest.ChunkData{
			"big": {
				Files: []manifest.FileEntry{
					{Filename: "a.bin", Start: 0, Length: 1},
					{Filename: "a.bin", Start: 0, Length: 1},
				},
			},
		},
	}

	a := New(admission.NewSemaphore(2))
	_, _, err := a.Serve(context.Background(), m, "big", be)
	require.Error(t, err)
}

func TestAssemblerCloseReleasesPermits(t *testing.T) {
	be := &fakeBackend{files: map[string][]byte{"data.bin": []byte("0123456789ABCDEF")}}
	m := manifest.Manifest{
		Chunks: map[string]manifest.ChunkData{
			"c1": {Files: []manifest.FileEntry{{Filename: "data.bin", Start: 0, Length: 16}}},
		},
	}

	sem := admission.NewSemaphore(3)
	a := New(sem)
	stream, _, err := a.Serve(context.Background(), m, "c1", be)
	require.NoError(t, err)

	assert.Equal(t, 1, sem.InUse())
	require.NoError(t, stream.Close())
	assert.Equal(t, 0, sem.InUse())
}
