package cuzk

// sumBucket sets r to the sum of agg[vals[i]] for i in [start, end), or the
// identity for an empty range.
func (c *Curve) sumBucket(r *Point, agg []Point, vals []uint32, start, end uint32) {
	if start == end {
		c.Identity(r)
		return
	}
	acc := agg[vals[start]]
	for i := start + 1; i < end; i++ {
		c.Add(&acc, &acc, &agg[vals[i]])
	}
	*r = acc
}

// SMVP sums, for every column k of m, the aggregated points its entries
// reference. The result has one point per bucket.
func SMVP(c *Curve, agg []Point, m *CSCMatrix) []Point {
	buckets := make([]Point, m.Cols)
	for k := range buckets {
		c.sumBucket(&buckets[k], agg, m.Vals, m.ColPtr[k], m.ColPtr[k+1])
	}
	return buckets
}
