package cuzk

import (
	"github.com/holiman/uint256"

	"cuzk.mleku.dev/gpu"
)

// encodeCoords lays out the plain affine limbs of every point as
// x limbs followed by y limbs.
func encodeCoords(f *Field, points []AffinePoint) []byte {
	nw := f.NumWords
	words := make([]uint32, 2*nw*len(points))
	var x, y FieldElement
	for i, p := range points {
		f.SetBig(&x, p.X)
		f.SetBig(&y, p.Y)
		f.StoreWords(words[2*i*nw:], &x)
		f.StoreWords(words[(2*i+1)*nw:], &y)
	}
	return gpu.Bytes(words)
}

// encodeScalars lays out every scalar as ScalarWords little-endian words.
func encodeScalars(scalars []*uint256.Int) []byte {
	words := make([]uint32, ScalarWords*len(scalars))
	for i, s := range scalars {
		w := scalarWords(s)
		copy(words[i*ScalarWords:], w[:])
	}
	return gpu.Bytes(words)
}

// encodeParams encodes a stage parameter block.
func encodeParams(vals ...uint32) []byte {
	return gpu.Bytes(vals)
}

// decodePoints reads count extended points from device bytes.
func decodePoints(c *Curve, data []byte, count int) []Point {
	words := gpu.Words(data)
	pw := c.PointWords()
	out := make([]Point, count)
	for i := range out {
		c.LoadPoint(&out[i], words[i*pw:(i+1)*pw])
	}
	return out
}
