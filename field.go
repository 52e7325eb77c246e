package cuzk

import (
	"errors"
	"fmt"
	"math/big"
)

// MaxWords is the largest limb count a FieldElement can hold.
const MaxWords = 32

var (
	// ErrInvalidField is returned by NewField for a modulus or limb width that
	// cannot be represented without overflowing the u32 accumulators.
	ErrInvalidField = errors.New("invalid field parameters")
)

// FieldElement is an element of a prime field stored as little-endian limbs
// of Field.WordSize bits. Only the first Field.NumWords limbs are used. Unless
// stated otherwise a FieldElement holds a value in Montgomery form.
type FieldElement struct {
	n [MaxWords]uint32
}

// Field holds the immutable parameters of a prime field in Montgomery
// representation. A Field is built once by NewField and shared by value of its
// pointer across every component; none of its fields change afterwards.
type Field struct {
	P        *big.Int
	WordSize uint
	NumWords int
	Mask     uint32

	// N0 = -p^-1 mod 2^WordSize, the Montgomery reduction constant
	N0 uint32

	// R = 2^(NumWords*WordSize) mod p and its inverse
	R    *big.Int
	RInv *big.Int

	p      FieldElement // modulus limbs
	r2     FieldElement // R^2 mod p, plain form
	one    FieldElement // R mod p, i.e. 1 in Montgomery form
	pMinus *big.Int     // p-2, the Fermat inversion exponent
}

// NewField builds the Montgomery parameters for the odd prime p using limbs
// of wordSize bits. The limb count is chosen so that R > 4p, which keeps every
// intermediate of MontMul below 2p.
//
// The multiplication accumulates digit products lazily in u32 words and only
// propagates carries once at the end, so each word can receive NumWords
// rounds of two wordSize*2-bit products. NewField rejects word sizes for which
// that sum could wrap.
func NewField(p *big.Int, wordSize uint) (*Field, error) {
	if p == nil || p.Sign() <= 0 || p.Cmp(big.NewInt(3)) < 0 || p.Bit(0) == 0 {
		return nil, fmt.Errorf("%w: modulus must be an odd prime > 2", ErrInvalidField)
	}
	if wordSize < 2 || wordSize > 16 {
		return nil, fmt.Errorf("%w: word size %d out of range", ErrInvalidField, wordSize)
	}

	numWords := (p.BitLen() + 2 + int(wordSize) - 1) / int(wordSize)
	if numWords > MaxWords {
		return nil, fmt.Errorf("%w: %d limbs exceed the maximum of %d", ErrInvalidField, numWords, MaxWords)
	}
	if uint64(numWords+1)<<(2*wordSize+1) >= 1<<32 {
		return nil, fmt.Errorf("%w: %d limbs of %d bits overflow a u32 accumulator",
			ErrInvalidField, numWords, wordSize)
	}

	f := &Field{
		P:        new(big.Int).Set(p),
		WordSize: wordSize,
		NumWords: numWords,
		Mask:     uint32(1)<<wordSize - 1,
	}

	base := new(big.Int).Lsh(big.NewInt(1), wordSize)
	// n0 = -p^-1 mod 2^w
	pinv := new(big.Int).ModInverse(new(big.Int).Mod(p, base), base)
	if pinv == nil {
		return nil, fmt.Errorf("%w: modulus not invertible mod 2^%d", ErrInvalidField, wordSize)
	}
	n0 := new(big.Int).Sub(base, pinv)
	n0.Mod(n0, base)
	f.N0 = uint32(n0.Uint64())

	rFull := new(big.Int).Lsh(big.NewInt(1), uint(numWords)*wordSize)
	f.R = new(big.Int).Mod(rFull, p)
	f.RInv = new(big.Int).ModInverse(f.R, p)
	if f.RInv == nil {
		return nil, fmt.Errorf("%w: R not invertible", ErrInvalidField)
	}

	f.setLimbs(&f.p, p)
	f.setLimbs(&f.r2, new(big.Int).Mod(new(big.Int).Mul(f.R, f.R), p))
	f.setLimbs(&f.one, f.R)
	f.pMinus = new(big.Int).Sub(p, big.NewInt(2))

	return f, nil
}

// setLimbs writes the little-endian limbs of x, which must fit in
// NumWords*WordSize bits.
func (f *Field) setLimbs(r *FieldElement, x *big.Int) {
	*r = FieldElement{}
	var buf [MaxWords * 2]byte
	x.FillBytes(buf[:])

	var acc uint64
	var accBits uint
	limb := 0
	for i := len(buf) - 1; i >= 0 && limb < f.NumWords; i-- {
		acc |= uint64(buf[i]) << accBits
		accBits += 8
		for accBits >= f.WordSize && limb < f.NumWords {
			r.n[limb] = uint32(acc) & f.Mask
			acc >>= f.WordSize
			accBits -= f.WordSize
			limb++
		}
	}
}

// limbsToBig assembles the integer held in the limbs of a.
func (f *Field) limbsToBig(a *FieldElement) *big.Int {
	out := new(big.Int)
	for i := f.NumWords - 1; i >= 0; i-- {
		out.Lsh(out, f.WordSize)
		out.Or(out, big.NewInt(int64(a.n[i])))
	}
	return out
}

// SetBig sets r to x mod p in plain (non-Montgomery) form.
func (f *Field) SetBig(r *FieldElement, x *big.Int) {
	f.setLimbs(r, new(big.Int).Mod(x, f.P))
}

// Big returns the integer held in a without any Montgomery conversion.
func (f *Field) Big(a *FieldElement) *big.Int {
	return f.limbsToBig(a)
}

// SetMontBig sets r to the Montgomery form of x.
func (f *Field) SetMontBig(r *FieldElement, x *big.Int) {
	var plain FieldElement
	f.SetBig(&plain, x)
	f.ToMontgomery(r, &plain)
}

// MontBig returns the true value of the Montgomery-form element a.
func (f *Field) MontBig(a *FieldElement) *big.Int {
	var plain FieldElement
	f.FromMontgomery(&plain, a)
	return f.limbsToBig(&plain)
}

// One sets r to 1 in Montgomery form.
func (f *Field) One(r *FieldElement) {
	*r = f.one
}

// SetZero sets r to 0.
func (f *Field) SetZero(r *FieldElement) {
	*r = FieldElement{}
}

// ToMontgomery sets r = a*R mod p.
func (f *Field) ToMontgomery(r, a *FieldElement) {
	f.MontMul(r, a, &f.r2)
}

// FromMontgomery sets r = a*R^-1 mod p.
func (f *Field) FromMontgomery(r, a *FieldElement) {
	var one FieldElement
	one.n[0] = 1
	f.MontMul(r, a, &one)
}

// Gt reports whether a > b as unsigned integers.
func (f *Field) Gt(a, b *FieldElement) bool {
	for i := f.NumWords - 1; i >= 0; i-- {
		if a.n[i] != b.n[i] {
			return a.n[i] > b.n[i]
		}
	}
	return false
}

// Equal reports whether a and b hold the same limbs.
func (f *Field) Equal(a, b *FieldElement) bool {
	for i := 0; i < f.NumWords; i++ {
		if a.n[i] != b.n[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether a is zero.
func (f *Field) IsZero(a *FieldElement) bool {
	for i := 0; i < f.NumWords; i++ {
		if a.n[i] != 0 {
			return false
		}
	}
	return true
}

// Add sets r = a + b mod p.
func (f *Field) Add(r, a, b *FieldElement) {
	var s FieldElement
	var carry uint32
	for i := 0; i < f.NumWords; i++ {
		v := a.n[i] + b.n[i] + carry
		s.n[i] = v & f.Mask
		carry = v >> f.WordSize
	}
	if !f.Gt(&f.p, &s) {
		f.subLimbs(&s, &s, &f.p)
	}
	*r = s
}

// Sub sets r = a - b mod p.
func (f *Field) Sub(r, a, b *FieldElement) {
	if f.Gt(b, a) {
		var t FieldElement
		var carry uint32
		for i := 0; i < f.NumWords; i++ {
			v := a.n[i] + f.p.n[i] + carry
			t.n[i] = v & f.Mask
			carry = v >> f.WordSize
		}
		f.subLimbs(r, &t, b)
		return
	}
	f.subLimbs(r, a, b)
}

// Neg sets r = -a mod p.
func (f *Field) Neg(r, a *FieldElement) {
	if f.IsZero(a) {
		*r = FieldElement{}
		return
	}
	f.subLimbs(r, &f.p, a)
}

// subLimbs sets r = a - b, assuming a >= b.
func (f *Field) subLimbs(r, a, b *FieldElement) {
	var borrow uint32
	for i := 0; i < f.NumWords; i++ {
		v := a.n[i] - b.n[i] - borrow
		if a.n[i] < b.n[i]+borrow {
			v += f.Mask + 1
			borrow = 1
		} else {
			borrow = 0
		}
		r.n[i] = v & f.Mask
	}
}

// Inverse sets r = a^-1 in Montgomery form using Fermat's little theorem.
// The inverse of zero is zero.
func (f *Field) Inverse(r, a *FieldElement) {
	acc := f.one
	base := *a
	e := f.pMinus
	for i := e.BitLen() - 1; i >= 0; i-- {
		f.Square(&acc, &acc)
		if e.Bit(i) == 1 {
			f.MontMul(&acc, &acc, &base)
		}
	}
	*r = acc
}

// LoadWords reads NumWords limbs from src.
func (f *Field) LoadWords(r *FieldElement, src []uint32) {
	copy(r.n[:f.NumWords], src[:f.NumWords])
}

// StoreWords writes the NumWords limbs of a into dst.
func (f *Field) StoreWords(dst []uint32, a *FieldElement) {
	copy(dst[:f.NumWords], a.n[:f.NumWords])
}

// Limbs returns a copy of the active limbs of a.
func (f *Field) Limbs(a *FieldElement) []uint32 {
	out := make([]uint32, f.NumWords)
	copy(out, a.n[:f.NumWords])
	return out
}

// ModulusLimbs returns the limbs of p.
func (f *Field) ModulusLimbs() []uint32 {
	return f.Limbs(&f.p)
}
