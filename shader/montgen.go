package shader

import (
	"fmt"
	"strings"
)

// GenMontProduct returns the WGSL montgomery_product function for the given
// limb parameters with every loop unrolled. Partial products are summed
// without carries and normalised once at the end, matching the host field
// arithmetic limb for limb.
func GenMontProduct(numWords int, wordSize uint, mask, n0 uint32) string {
	var b strings.Builder
	w := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	w("fn montgomery_product(x: ptr<function, BigInt>, y: ptr<function, BigInt>) -> BigInt {")
	w("    var s: BigInt;")
	w("    var p = get_p();")
	w("    var t: u32;")
	w("    var qi: u32;")
	w("    var c: u32;")
	for i := 0; i < numWords; i++ {
		w("    t = s.limbs[0] + (*x).limbs[%d] * (*y).limbs[0];", i)
		w("    qi = (%du * (t & %du)) & %du;", n0, mask, mask)
		w("    c = (t + qi * p.limbs[0]) >> %du;", wordSize)
		if numWords == 1 {
			w("    s.limbs[0] = c;")
			continue
		}
		w("    s.limbs[0] = s.limbs[1] + (*x).limbs[%d] * (*y).limbs[1] + qi * p.limbs[1] + c;", i)
		for j := 2; j < numWords; j++ {
			w("    s.limbs[%d] = s.limbs[%d] + (*x).limbs[%d] * (*y).limbs[%d] + qi * p.limbs[%d];", j-1, j, i, j, j)
		}
		w("    s.limbs[%d] = 0u;", numWords-1)
	}
	w("    c = 0u;")
	w("    var v: u32;")
	for i := 0; i < numWords; i++ {
		w("    v = s.limbs[%d] + c;", i)
		w("    c = v >> %du;", wordSize)
		w("    s.limbs[%d] = v & %du;", i, mask)
	}
	w("    return conditional_reduce(&s, &p);")
	w("}")
	return b.String()
}

// limbAssignments renders one "name.limbs[i] = vu;" line per limb.
func limbAssignments(name string, limbs []uint32) string {
	var b strings.Builder
	for i, l := range limbs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "    %s.limbs[%d] = %du;", name, i, l)
	}
	return b.String()
}
