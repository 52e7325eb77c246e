package cuzk

// addSkip sets r = p + q, skipping the field work when either is the
// identity. Most buckets of a large window are empty.
func (c *Curve) addSkip(r, p, q *Point) {
	switch {
	case c.IsIdentity(q):
		*r = *p
	case c.IsIdentity(p):
		*r = *q
	default:
		c.Add(r, p, q)
	}
}

// scaleBucket sets r = k*p, leaving the identity untouched.
func (c *Curve) scaleBucket(r, p *Point, k uint32) {
	if c.IsIdentity(p) {
		*r = *p
		return
	}
	c.ScalarMulUint32(r, p, k)
}

// ReduceTree returns sum k*buckets[k] by scaling every bucket by its index
// and adding bucket i to bucket i+ceil(s/2) until one point remains.
func ReduceTree(c *Curve, buckets []Point) Point {
	if len(buckets) == 0 {
		var id Point
		c.Identity(&id)
		return id
	}
	cur := make([]Point, len(buckets))
	for k := range buckets {
		c.scaleBucket(&cur[k], &buckets[k], uint32(k))
	}
	for s := len(cur); s > 1; {
		half := (s + 1) / 2
		for i := 0; i < half; i++ {
			if i+half < s {
				c.addSkip(&cur[i], &cur[i], &cur[i+half])
			}
		}
		s = half
	}
	return cur[0]
}

// ReduceRunningSum returns sum k*buckets[k] with one pass from the top
// bucket down: acc accumulates the buckets seen so far and sum adds acc once
// per index.
func ReduceRunningSum(c *Curve, buckets []Point) Point {
	var acc, sum Point
	c.Identity(&acc)
	c.Identity(&sum)
	for k := len(buckets) - 1; k > 0; k-- {
		c.addSkip(&acc, &acc, &buckets[k])
		c.addSkip(&sum, &sum, &acc)
	}
	return sum
}

// Horner combines per-window results, least significant first, as
// sum windows[i] * 2^(i*chunkSize).
func Horner(c *Curve, windows []Point, chunkSize uint) Point {
	var acc Point
	c.Identity(&acc)
	for i := len(windows) - 1; i >= 0; i-- {
		if !c.IsIdentity(&acc) {
			for b := uint(0); b < chunkSize; b++ {
				c.Double(&acc, &acc)
			}
		}
		c.addSkip(&acc, &acc, &windows[i])
	}
	return acc
}
