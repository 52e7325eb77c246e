package cuzk

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecomposeKnown(t *testing.T) {
	s := uint256.NewInt(0x1234_5678_9abc)
	assert.Equal(t, []uint32{0x9abc, 0x5678, 0x1234, 0}, Decompose(s, 4, 16))
	assert.Equal(t, []uint32{0xc, 0xb, 0xa, 0x9}, Decompose(s, 4, 4))
}

func TestDecomposeReconstruct(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chunkSize := uint(rapid.IntRange(1, 20).Draw(t, "chunkSize"))
		numSubtasks := int((256 + chunkSize - 1) / chunkSize)

		b := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "scalar")
		s := new(uint256.Int).SetBytes(b)

		chunks := Decompose(s, numSubtasks, chunkSize)
		require.Len(t, chunks, numSubtasks)
		for i, c := range chunks {
			require.Less(t, c, uint32(1)<<chunkSize, "chunk %d", i)
		}
		require.True(t, Reconstruct(chunks, chunkSize).Eq(s))
	})
}

func TestDecomposeTruncates(t *testing.T) {
	s := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	s.AddUint64(s, 5)
	assert.Equal(t, []uint32{5, 0}, Decompose(s, 2, 16))
}

func TestScalarFromBig(t *testing.T) {
	max256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	testCases := []struct {
		name string
		s    *big.Int
		bits uint
		ok   bool
	}{
		{"zero", big.NewInt(0), 256, true},
		{"max", max256, 256, true},
		{"too wide", new(big.Int).Lsh(big.NewInt(1), 256), 256, false},
		{"wider than config", big.NewInt(1 << 20), 16, false},
		{"negative", big.NewInt(-1), 256, false},
		{"nil", nil, 256, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := ScalarFromBig(tc.s, tc.bits)
			if !tc.ok {
				require.ErrorIs(t, err, ErrScalarOutOfRange)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, u.ToBig().Cmp(tc.s))
		})
	}
}

func TestScalarWords(t *testing.T) {
	s := new(uint256.Int).SetAllOne()
	w := scalarWords(s)
	for i := range w {
		assert.Equal(t, uint32(0xffffffff), w[i])
	}

	s.SetUint64(0x1_0000_0002)
	w = scalarWords(s)
	assert.Equal(t, [ScalarWords]uint32{2, 1}, w)
}
