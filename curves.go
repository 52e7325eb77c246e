package cuzk

import (
	"math/big"
	"sync"
)

// BLS12-377 scalar field modulus, the base field of the Edwards curve below.
var bls12377ScalarModulus, _ = new(big.Int).SetString(
	"8444461749428370424248824938781546531375899335154063827935233455917409239041", 10)

const (
	edBLS12377WordSize = 13
	edBLS12377D        = 3021
	edBLS12377Cofactor = 4
)

var (
	edBLS12377Once  sync.Once
	edBLS12377Curve *Curve
)

// EdBLS12377 returns the twisted Edwards curve -x^2 + y^2 = 1 + 3021*x^2*y^2
// over the BLS12-377 scalar field, with 13-bit limbs (20 words).
func EdBLS12377() *Curve {
	edBLS12377Once.Do(func() {
		f, err := NewField(bls12377ScalarModulus, edBLS12377WordSize)
		if err != nil {
			panic(err)
		}
		c, err := NewCurve("ed-bls12-377", f, big.NewInt(-1), big.NewInt(edBLS12377D), edBLS12377Cofactor)
		if err != nil {
			panic(err)
		}
		edBLS12377Curve = c
	})
	return edBLS12377Curve
}
