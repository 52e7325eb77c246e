package cuzk

import (
	"fmt"
	"math/big"
)

// NaiveMSM computes sum scalars[i]*points[i] serially with double-and-add.
// It is the CPU reference the pipeline is checked against.
func NaiveMSM(c *Curve, points []AffinePoint, scalars []*big.Int) (AffinePoint, error) {
	if len(points) != len(scalars) {
		return AffinePoint{}, fmt.Errorf("%w: %d points, %d scalars", ErrLengthMismatch, len(points), len(scalars))
	}
	var acc, p, term Point
	c.Identity(&acc)
	for i := range points {
		if scalars[i] == nil || scalars[i].Sign() < 0 {
			return AffinePoint{}, fmt.Errorf("scalar %d: %w", i, ErrScalarOutOfRange)
		}
		if !c.IsOnCurveAffine(points[i]) {
			return AffinePoint{}, fmt.Errorf("%w: point %d", ErrPointNotOnCurve, i)
		}
		c.FromAffine(&p, points[i])
		c.ScalarMul(&term, &p, scalars[i])
		c.Add(&acc, &acc, &term)
	}
	return c.ToAffine(&acc), nil
}
