package cuzk

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fromGnark(p *twistededwards.PointAffine) AffinePoint {
	return AffinePoint{X: p.X.BigInt(new(big.Int)), Y: p.Y.BigInt(new(big.Int))}
}

func toGnark(p AffinePoint) twistededwards.PointAffine {
	var q twistededwards.PointAffine
	q.X.SetBigInt(p.X)
	q.Y.SetBigInt(p.Y)
	return q
}

func gnarkBase() AffinePoint {
	params := twistededwards.GetEdwardsCurve()
	return fromGnark(&params.Base)
}

func TestCurveParamsMatchGnark(t *testing.T) {
	c := EdBLS12377()
	params := twistededwards.GetEdwardsCurve()

	assert.Zero(t, c.F.P.Cmp(fr.Modulus()))
	assert.Zero(t, c.F.MontBig(&c.A).Cmp(params.A.BigInt(new(big.Int))))
	assert.Zero(t, c.F.MontBig(&c.D).Cmp(params.D.BigInt(new(big.Int))))
	assert.Equal(t, uint64(c.Cofactor), params.Cofactor.BigInt(new(big.Int)).Uint64())
	assert.True(t, c.IsOnCurveAffine(gnarkBase()))
}

func TestIdentity(t *testing.T) {
	c := EdBLS12377()
	var id, p, r Point
	c.Identity(&id)
	require.True(t, c.IsIdentity(&id))
	require.True(t, c.IsValid(&id))
	assert.True(t, c.ToAffine(&id).Equal(IdentityAffine()))

	c.FromAffine(&p, gnarkBase())
	c.Add(&r, &p, &id)
	assert.True(t, c.Equal(&r, &p))
	c.Add(&r, &id, &p)
	assert.True(t, c.Equal(&r, &p))

	c.Double(&r, &id)
	assert.True(t, c.IsIdentity(&r))

	c.Neg(&r, &p)
	c.Add(&r, &r, &p)
	assert.True(t, c.IsIdentity(&r))
}

func TestAddMatchesGnark(t *testing.T) {
	c := EdBLS12377()
	base := toGnark(gnarkBase())

	rapid.Check(t, func(t *rapid.T) {
		k1 := big.NewInt(rapid.Int64Range(1, 1<<40).Draw(t, "k1"))
		k2 := big.NewInt(rapid.Int64Range(1, 1<<40).Draw(t, "k2"))

		var g1, g2, gsum, gdbl twistededwards.PointAffine
		g1.ScalarMultiplication(&base, k1)
		g2.ScalarMultiplication(&base, k2)
		gsum.Add(&g1, &g2)
		gdbl.Double(&g1)

		var p1, p2, r Point
		c.FromAffine(&p1, fromGnark(&g1))
		c.FromAffine(&p2, fromGnark(&g2))

		c.Add(&r, &p1, &p2)
		require.True(t, c.IsValid(&r))
		require.True(t, c.ToAffine(&r).Equal(fromGnark(&gsum)), "add")

		c.Double(&r, &p1)
		require.True(t, c.IsValid(&r))
		require.True(t, c.ToAffine(&r).Equal(fromGnark(&gdbl)), "double")

		// unified addition handles p + p
		c.Add(&r, &p1, &p1)
		require.True(t, c.ToAffine(&r).Equal(fromGnark(&gdbl)), "add to self")
	})
}

func TestScalarMulMatchesGnark(t *testing.T) {
	c := EdBLS12377()
	base := toGnark(gnarkBase())

	rapid.Check(t, func(t *rapid.T) {
		b := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "k")
		k := new(big.Int).SetBytes(b)

		var want twistededwards.PointAffine
		want.ScalarMultiplication(&base, k)

		var p, r Point
		c.FromAffine(&p, gnarkBase())
		c.ScalarMul(&r, &p, k)
		require.True(t, c.ToAffine(&r).Equal(fromGnark(&want)))

		small := uint32(k.Uint64())
		var ws twistededwards.PointAffine
		ws.ScalarMultiplication(&base, new(big.Int).SetUint64(uint64(small)))
		c.ScalarMulUint32(&r, &p, small)
		require.True(t, c.ToAffine(&r).Equal(fromGnark(&ws)))
	})
}

func TestIsOnCurveAffine(t *testing.T) {
	c := EdBLS12377()
	base := gnarkBase()

	testCases := []struct {
		name string
		p    AffinePoint
		ok   bool
	}{
		{"base", base, true},
		{"identity", IdentityAffine(), true},
		{"nil x", AffinePoint{Y: big.NewInt(1)}, false},
		{"off curve", AffinePoint{X: big.NewInt(1), Y: big.NewInt(1)}, false},
		{"unreduced", AffinePoint{X: new(big.Int).Add(base.X, c.F.P), Y: base.Y}, false},
		{"negative", AffinePoint{X: big.NewInt(-1), Y: big.NewInt(0)}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, c.IsOnCurveAffine(tc.p))
		})
	}
}

func TestPointWords(t *testing.T) {
	c := EdBLS12377()
	var p, q Point
	c.FromAffine(&p, gnarkBase())
	c.Double(&p, &p)

	buf := make([]uint32, c.PointWords())
	c.StorePoint(buf, &p)
	c.LoadPoint(&q, buf)
	assert.Equal(t, p, q)
	assert.Equal(t, 80, c.PointWords())
}

func TestNewCurveRejects(t *testing.T) {
	f := EdBLS12377().F
	_, err := NewCurve("bad", f, big.NewInt(-1), big.NewInt(0), 4)
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = NewCurve("bad", nil, big.NewInt(-1), big.NewInt(3021), 4)
	assert.ErrorIs(t, err, ErrInvalidField)
}
