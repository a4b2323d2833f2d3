package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// ctr64LEStream implements cipher.Stream for AES-CTR with a 64-bit
// little-endian counter occupying the IV's low 8 bytes and a fixed nonce
// in its high 8 bytes (spec §4.6), matching RustCrypto's
// ctr::Ctr64LE<aes::Aes128> rather than Go's crypto/cipher.NewCTR (which
// treats the whole 16-byte IV as a single big-endian counter and would
// diverge from a Drop-compatible client from the second block onward).
type ctr64LEStream struct {
	block   cipher.Block
	nonce   [8]byte
	counter uint64

	keystream [aes.BlockSize]byte
	used      int
}

// newCTR64LEStream builds a ctr64LEStream from a 16-byte IV: iv[0:8] is
// the fixed nonce, iv[8:16] is the little-endian initial counter value.
func newCTR64LEStream(block cipher.Block, iv [16]byte) *ctr64LEStream {
	s := &ctr64LEStream{block: block, used: aes.BlockSize}
	copy(s.nonce[:], iv[:8])
	s.counter = binary.LittleEndian.Uint64(iv[8:])
	return s
}

// XorKeyStream implements cipher.Stream. dst and src may overlap exactly
// (the same backing array at the same offset), matching the interface's
// contract; this implementation only ever reads src[i] before writing
// dst[i], so in-place use is safe.
func (s *ctr64LEStream) XorKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("crypto: XorKeyStream: dst too short")
	}
	for i := range src {
		if s.used == aes.BlockSize {
			s.fillKeystream()
		}
		dst[i] = src[i] ^ s.keystream[s.used]
		s.used++
	}
}

// fillKeystream encrypts nonce||counter (little-endian) as the next
// keystream block and advances the counter.
func (s *ctr64LEStream) fillKeystream() {
	var block [aes.BlockSize]byte
	copy(block[:8], s.nonce[:])
	binary.LittleEndian.PutUint64(block[8:], s.counter)
	s.block.Encrypt(s.keystream[:], block[:])
	s.counter++
	s.used = 0
}
