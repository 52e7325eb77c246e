package cuzk

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrPointNotOnCurve is returned for an affine input that does not satisfy
	// the curve equation.
	ErrPointNotOnCurve = errors.New("point is not on the curve")
)

// AffinePoint is a curve point in true (non-Montgomery) affine coordinates.
// The identity is (0, 1).
type AffinePoint struct {
	X, Y *big.Int
}

// IdentityAffine returns the affine identity (0, 1).
func IdentityAffine() AffinePoint {
	return AffinePoint{X: big.NewInt(0), Y: big.NewInt(1)}
}

// Equal reports whether p and q have the same coordinates.
func (p AffinePoint) Equal(q AffinePoint) bool {
	return p.X.Cmp(q.X) == 0 && p.Y.Cmp(q.Y) == 0
}

// String formats p as (x, y) in decimal.
func (p AffinePoint) String() string {
	return fmt.Sprintf("(%s, %s)", p.X, p.Y)
}

// Point is a twisted Edwards point in extended coordinates (X, Y, T, Z) with
// x = X/Z, y = Y/Z and X*Y = T*Z. All coordinates are in Montgomery form.
type Point struct {
	X, Y, T, Z FieldElement
}

// Curve is a twisted Edwards curve a*x^2 + y^2 = 1 + d*x^2*y^2 over F.
type Curve struct {
	Name     string
	F        *Field
	Cofactor uint32

	// A and D are the curve constants in Montgomery form.
	A, D FieldElement

	aIsMinusOne bool
}

// NewCurve builds a curve over f with the given constants, reduced mod p.
func NewCurve(name string, f *Field, a, d *big.Int, cofactor uint32) (*Curve, error) {
	if f == nil {
		return nil, ErrInvalidField
	}
	if new(big.Int).Mod(d, f.P).Sign() == 0 || new(big.Int).Mod(a, f.P).Sign() == 0 {
		return nil, fmt.Errorf("%w: curve constants must be non-zero", ErrInvalidField)
	}
	c := &Curve{Name: name, F: f, Cofactor: cofactor}
	f.SetMontBig(&c.A, a)
	f.SetMontBig(&c.D, d)

	minusOne := new(big.Int).Sub(f.P, big.NewInt(1))
	c.aIsMinusOne = new(big.Int).Mod(a, f.P).Cmp(minusOne) == 0
	return c, nil
}

// mulA sets r = a*x.
func (c *Curve) mulA(r, x *FieldElement) {
	if c.aIsMinusOne {
		c.F.Neg(r, x)
		return
	}
	c.F.MontMul(r, &c.A, x)
}

// Identity sets r to the neutral element (0, 1, 0, 1).
func (c *Curve) Identity(r *Point) {
	*r = Point{}
	c.F.One(&r.Y)
	c.F.One(&r.Z)
}

// IsIdentity reports whether p is the neutral element.
func (c *Curve) IsIdentity(p *Point) bool {
	return c.F.IsZero(&p.X) && c.F.Equal(&p.Y, &p.Z)
}

// Add sets r = p + q using the unified extended-coordinate formulas
// (add-2008-hwcd). It is correct for p == q and for the identity.
func (c *Curve) Add(r, p, q *Point) {
	f := c.F
	var a, b, cc, d, e, ff, g, h, t0, t1 FieldElement

	f.MontMul(&a, &p.X, &q.X)
	f.MontMul(&b, &p.Y, &q.Y)
	f.MontMul(&t0, &p.T, &q.T)
	f.MontMul(&cc, &c.D, &t0)
	f.MontMul(&d, &p.Z, &q.Z)

	f.Add(&t0, &p.X, &p.Y)
	f.Add(&t1, &q.X, &q.Y)
	f.MontMul(&e, &t0, &t1)
	f.Sub(&e, &e, &a)
	f.Sub(&e, &e, &b)

	f.Sub(&ff, &d, &cc)
	f.Add(&g, &d, &cc)
	c.mulA(&t0, &a)
	f.Sub(&h, &b, &t0)

	f.MontMul(&r.X, &e, &ff)
	f.MontMul(&r.Y, &g, &h)
	f.MontMul(&r.T, &e, &h)
	f.MontMul(&r.Z, &ff, &g)
}

// Double sets r = 2p (dbl-2008-hwcd).
func (c *Curve) Double(r, p *Point) {
	f := c.F
	var a, b, cc, d, e, g, ff, h, t0 FieldElement

	f.Square(&a, &p.X)
	f.Square(&b, &p.Y)
	f.Square(&cc, &p.Z)
	f.Add(&cc, &cc, &cc)
	c.mulA(&d, &a)

	f.Add(&t0, &p.X, &p.Y)
	f.Square(&e, &t0)
	f.Sub(&e, &e, &a)
	f.Sub(&e, &e, &b)

	f.Add(&g, &d, &b)
	f.Sub(&ff, &g, &cc)
	f.Sub(&h, &d, &b)

	f.MontMul(&r.X, &e, &ff)
	f.MontMul(&r.Y, &g, &h)
	f.MontMul(&r.T, &e, &h)
	f.MontMul(&r.Z, &ff, &g)
}

// Neg sets r = -p.
func (c *Curve) Neg(r, p *Point) {
	c.F.Neg(&r.X, &p.X)
	r.Y = p.Y
	c.F.Neg(&r.T, &p.T)
	r.Z = p.Z
}

// Equal reports whether p and q represent the same affine point.
func (c *Curve) Equal(p, q *Point) bool {
	f := c.F
	var l, r FieldElement
	f.MontMul(&l, &p.X, &q.Z)
	f.MontMul(&r, &q.X, &p.Z)
	if !f.Equal(&l, &r) {
		return false
	}
	f.MontMul(&l, &p.Y, &q.Z)
	f.MontMul(&r, &q.Y, &p.Z)
	return f.Equal(&l, &r)
}

// IsValid reports whether p satisfies X*Y = T*Z and
// a*X^2 + Y^2 = Z^2 + d*T^2, with Z non-zero.
func (c *Curve) IsValid(p *Point) bool {
	f := c.F
	if f.IsZero(&p.Z) {
		return false
	}
	var l, r, t0 FieldElement
	f.MontMul(&l, &p.X, &p.Y)
	f.MontMul(&r, &p.T, &p.Z)
	if !f.Equal(&l, &r) {
		return false
	}

	f.Square(&t0, &p.X)
	c.mulA(&l, &t0)
	f.Square(&t0, &p.Y)
	f.Add(&l, &l, &t0)

	f.Square(&t0, &p.T)
	f.MontMul(&r, &c.D, &t0)
	f.Square(&t0, &p.Z)
	f.Add(&r, &r, &t0)
	return f.Equal(&l, &r)
}

// IsOnCurveAffine reports whether ap lies on the curve. Coordinates must be
// reduced mod p.
func (c *Curve) IsOnCurveAffine(ap AffinePoint) bool {
	if ap.X == nil || ap.Y == nil {
		return false
	}
	if ap.X.Sign() < 0 || ap.Y.Sign() < 0 || ap.X.Cmp(c.F.P) >= 0 || ap.Y.Cmp(c.F.P) >= 0 {
		return false
	}
	var p Point
	c.FromAffine(&p, ap)
	return c.IsValid(&p)
}

// FromAffine sets r to the extended form of ap: (x, y, x*y, 1).
func (c *Curve) FromAffine(r *Point, ap AffinePoint) {
	f := c.F
	f.SetMontBig(&r.X, ap.X)
	f.SetMontBig(&r.Y, ap.Y)
	f.MontMul(&r.T, &r.X, &r.Y)
	f.One(&r.Z)
}

// ToAffine returns the true affine coordinates of p.
func (c *Curve) ToAffine(p *Point) AffinePoint {
	f := c.F
	var zinv, x, y FieldElement
	f.Inverse(&zinv, &p.Z)
	f.MontMul(&x, &p.X, &zinv)
	f.MontMul(&y, &p.Y, &zinv)
	return AffinePoint{X: f.MontBig(&x), Y: f.MontBig(&y)}
}

// ScalarMulUint32 sets r = k*p by double-and-add over the bits of k.
func (c *Curve) ScalarMulUint32(r, p *Point, k uint32) {
	var acc Point
	c.Identity(&acc)
	base := *p
	for k != 0 {
		if k&1 == 1 {
			c.Add(&acc, &acc, &base)
		}
		c.Double(&base, &base)
		k >>= 1
	}
	*r = acc
}

// ScalarMul sets r = k*p for a non-negative k.
func (c *Curve) ScalarMul(r, p *Point, k *big.Int) {
	var acc Point
	c.Identity(&acc)
	base := *p
	for i := k.BitLen() - 1; i >= 0; i-- {
		c.Double(&acc, &acc)
		if k.Bit(i) == 1 {
			c.Add(&acc, &acc, &base)
		}
	}
	*r = acc
}

// LoadPoint reads an extended point from four consecutive NumWords limb runs
// of src, in X, Y, T, Z order.
func (c *Curve) LoadPoint(r *Point, src []uint32) {
	n := c.F.NumWords
	c.F.LoadWords(&r.X, src[0:])
	c.F.LoadWords(&r.Y, src[n:])
	c.F.LoadWords(&r.T, src[2*n:])
	c.F.LoadWords(&r.Z, src[3*n:])
}

// StorePoint writes p into dst in the layout read by LoadPoint.
func (c *Curve) StorePoint(dst []uint32, p *Point) {
	n := c.F.NumWords
	c.F.StoreWords(dst[0:], &p.X)
	c.F.StoreWords(dst[n:], &p.Y)
	c.F.StoreWords(dst[2*n:], &p.T)
	c.F.StoreWords(dst[3*n:], &p.Z)
}

// PointWords is the number of u32 words one extended point occupies.
func (c *Curve) PointWords() int {
	return 4 * c.F.NumWords
}
