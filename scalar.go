package cuzk

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ScalarFromBig converts a non-negative scalar of at most bits bits.
func ScalarFromBig(s *big.Int, bits uint) (*uint256.Int, error) {
	if s == nil || s.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative or nil scalar", ErrScalarOutOfRange)
	}
	if uint(s.BitLen()) > bits {
		return nil, fmt.Errorf("%w: %d bits exceeds %d", ErrScalarOutOfRange, s.BitLen(), bits)
	}
	u, overflow := uint256.FromBig(s)
	if overflow {
		return nil, fmt.Errorf("%w: wider than 256 bits", ErrScalarOutOfRange)
	}
	return u, nil
}

// scalarWords splits s into little-endian u32 words.
func scalarWords(s *uint256.Int) (w [ScalarWords]uint32) {
	for i := 0; i < 4; i++ {
		w[2*i] = uint32(s[i])
		w[2*i+1] = uint32(s[i] >> 32)
	}
	return
}

// decomposeWords writes the numSubtasks little-endian chunks of the scalar
// held in words into dst. Bits past the end of words read as zero.
func decomposeWords(dst []uint32, words []uint32, numSubtasks int, chunkSize uint) {
	mask := uint32(1)<<chunkSize - 1
	for i := 0; i < numSubtasks; i++ {
		bit := uint(i) * chunkSize
		w := int(bit / 32)
		off := bit % 32
		if w >= len(words) {
			dst[i] = 0
			continue
		}
		v := words[w] >> off
		if off+chunkSize > 32 && w+1 < len(words) {
			v |= words[w+1] << (32 - off)
		}
		dst[i] = v & mask
	}
}

// Decompose splits s into numSubtasks little-endian chunks of chunkSize
// bits, so that s = sum chunk_i * 2^(i*chunkSize). Bits of s above
// numSubtasks*chunkSize are dropped.
func Decompose(s *uint256.Int, numSubtasks int, chunkSize uint) []uint32 {
	words := scalarWords(s)
	out := make([]uint32, numSubtasks)
	decomposeWords(out, words[:], numSubtasks, chunkSize)
	return out
}

// Reconstruct is the inverse of Decompose.
func Reconstruct(chunks []uint32, chunkSize uint) *uint256.Int {
	acc := new(uint256.Int)
	var c uint256.Int
	for i := len(chunks) - 1; i >= 0; i-- {
		acc.Lsh(acc, chunkSize)
		c.SetUint64(uint64(chunks[i]))
		acc.Or(acc, &c)
	}
	return acc
}
