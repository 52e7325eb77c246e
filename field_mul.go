package cuzk

// MontMul sets r = a*b*R^-1 mod p for Montgomery-form a and b.
//
// This is coarsely integrated operand scanning with lazy carries: digit
// products are summed into u32 words without propagating carries inside the
// outer loop, and a single normalisation pass runs at the end. NewField
// guarantees the accumulators cannot wrap. r may alias a or b.
func (f *Field) MontMul(r, a, b *FieldElement) {
	var s FieldElement
	n := f.NumWords
	w := f.WordSize
	mask := f.Mask
	p := &f.p.n

	for i := 0; i < n; i++ {
		ai := a.n[i]
		t := s.n[0] + ai*b.n[0]
		qi := (f.N0 * (t & mask)) & mask
		c := (t + qi*p[0]) >> w

		for j := 1; j < n; j++ {
			s.n[j-1] = s.n[j] + ai*b.n[j] + qi*p[j]
		}
		s.n[n-1] = 0
		s.n[0] += c
	}

	// propagate the deferred carries
	var c uint32
	for i := 0; i < n; i++ {
		v := s.n[i] + c
		c = v >> w
		s.n[i] = v & mask
	}

	if !f.Gt(&f.p, &s) {
		f.subLimbs(&s, &s, &f.p)
	}
	*r = s
}

// Square sets r = a*a*R^-1 mod p.
func (f *Field) Square(r, a *FieldElement) {
	f.MontMul(r, a, a)
}

// MulSmall sets r = a*k mod p for a small integer k given in plain form.
func (f *Field) MulSmall(r, a *FieldElement, k uint32) {
	var acc, base FieldElement
	base = *a
	for k != 0 {
		if k&1 == 1 {
			f.Add(&acc, &acc, &base)
		}
		f.Add(&base, &base, &base)
		k >>= 1
	}
	*r = acc
}
