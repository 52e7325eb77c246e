package cuzk

// aggregateCluster sets r to the sum of the points indexed by
// perm[start:end].
func (c *Curve) aggregateCluster(r *Point, points []Point, perm []uint32, start, end uint32) {
	acc := points[perm[start]]
	for k := start + 1; k < end; k++ {
		c.Add(&acc, &acc, &points[perm[k]])
	}
	*r = acc
}

// PreAggregate sums each cluster of l into one point and returns the
// aggregated points with the chunk value shared by each cluster. The result
// satisfies sum chunks[i]*points[i] = sum newChunks[j]*agg[j].
func PreAggregate(c *Curve, points []Point, chunks []uint32, l *ClusterLayout) (agg []Point, newChunks []uint32) {
	nc := l.NumClusters()
	agg = make([]Point, nc)
	newChunks = make([]uint32, nc)
	for j := 0; j < nc; j++ {
		start, end := l.Bounds(j)
		c.aggregateCluster(&agg[j], points, l.Perm, start, end)
		newChunks[j] = chunks[l.Perm[start]]
	}
	return agg, newChunks
}
