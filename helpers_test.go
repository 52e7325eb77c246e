package cuzk

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// testConfig uses 8-bit windows so that full MSM runs stay fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkSize = 8
	cfg.NumRowsPerSubtask = 16
	cfg.WorkgroupSize = 16
	return cfg
}

func testInputs(t testing.TB, seed string, n int) ([]AffinePoint, []*big.Int) {
	t.Helper()
	points, err := EdBLS12377().DerivePoints([]byte(seed), n)
	require.NoError(t, err)
	return points, DeriveScalars([]byte(seed), n, 256)
}

// drawElement draws a uniform-looking value in [0, p).
func drawElement(t *rapid.T, f *Field, label string) *big.Int {
	b := rapid.SliceOfN(rapid.Byte(), 40, 40).Draw(t, label)
	v := new(big.Int).SetBytes(b)
	return v.Mod(v, f.P)
}

func modP(f *Field, v *big.Int) *big.Int {
	return new(big.Int).Mod(v, f.P)
}
