package cuzk

import (
	"encoding/binary"
	"errors"
	"math/big"

	sha256simd "github.com/minio/sha256-simd"
)

// ErrDerivation is returned when no curve point could be derived from a seed
// within the attempt limit.
var ErrDerivation = errors.New("point derivation failed")

const maxDeriveAttempts = 1 << 16

// expand returns SHA-256(tag || seed || counter).
func expand(tag string, seed []byte, counter uint64) [32]byte {
	h := sha256simd.New()
	h.Write([]byte(tag))
	h.Write(seed)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	h.Write(ctr[:])
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// DeriveScalars returns n scalars of at most bits bits derived
// deterministically from seed.
func DeriveScalars(seed []byte, n int, bits uint) []*big.Int {
	out := make([]*big.Int, n)
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bits), big.NewInt(1))
	for i := range out {
		var buf []byte
		for j := uint64(0); uint(len(buf))*8 < bits; j++ {
			d := expand("cuzk/scalar", seed, uint64(i)<<16|j)
			buf = append(buf, d[:]...)
		}
		s := new(big.Int).SetBytes(buf)
		out[i] = s.And(s, mask)
	}
	return out
}

// DerivePoint maps seed to a point of the prime-order subgroup by trying
// y candidates until x^2 = (1 - y^2) / (a - d*y^2) is a square, then clearing
// the cofactor.
func (c *Curve) DerivePoint(seed []byte) (AffinePoint, error) {
	p := c.F.P
	a := c.F.MontBig(&c.A)
	d := c.F.MontBig(&c.D)
	one := big.NewInt(1)

	for ctr := uint64(0); ctr < maxDeriveAttempts; ctr++ {
		h := expand("cuzk/point", seed, ctr)
		y := new(big.Int).SetBytes(h[:])
		y.Mod(y, p)

		y2 := new(big.Int).Mul(y, y)
		y2.Mod(y2, p)
		num := new(big.Int).Sub(one, y2)
		num.Mod(num, p)
		den := new(big.Int).Mul(d, y2)
		den.Sub(a, den)
		den.Mod(den, p)
		if den.Sign() == 0 {
			continue
		}
		den.ModInverse(den, p)
		x2 := num.Mul(num, den)
		x2.Mod(x2, p)

		x := new(big.Int).ModSqrt(x2, p)
		if x == nil {
			continue
		}
		if x.Bit(0) != uint(h[31]&1) {
			x.Sub(p, x)
			x.Mod(x, p)
		}

		var pt Point
		c.FromAffine(&pt, AffinePoint{X: x, Y: y})
		c.ScalarMulUint32(&pt, &pt, c.Cofactor)
		if c.IsIdentity(&pt) {
			continue
		}
		return c.ToAffine(&pt), nil
	}
	return AffinePoint{}, ErrDerivation
}

// DerivePoints returns n subgroup points derived deterministically from
// seed.
func (c *Curve) DerivePoints(seed []byte, n int) ([]AffinePoint, error) {
	out := make([]AffinePoint, n)
	var idx [8]byte
	for i := range out {
		binary.BigEndian.PutUint64(idx[:], uint64(i))
		pt, err := c.DerivePoint(append(append([]byte(nil), seed...), idx[:]...))
		if err != nil {
			return nil, err
		}
		out[i] = pt
	}
	return out, nil
}
