package cuzk

import (
	"fmt"
	"sort"
)

// ClusterLayout describes how one window's points are grouped for
// pre-aggregation.
type ClusterLayout struct {
	// Perm maps a compacted position to the original point index.
	Perm []uint32
	// Ends holds the cumulative end offset into Perm of every cluster.
	Ends []uint32
	// NumOverflow counts the entries routed through the overflow path.
	NumOverflow int
}

// NumClusters is the number of clusters in l.
func (l *ClusterLayout) NumClusters() int {
	return len(l.Ends)
}

// Bounds returns the half-open range of Perm covered by cluster j.
func (l *ClusterLayout) Bounds(j int) (start, end uint32) {
	if j > 0 {
		start = l.Ends[j-1]
	}
	return start, l.Ends[j]
}

// clusterScratch is the working memory of the cluster precomputation. On
// the device every slice is a region of a storage buffer.
type clusterScratch struct {
	// slots holds, per chunk value, a count followed by up to
	// maxClusterSize point indices.
	slots    []uint32
	keys     []uint32
	overflow []uint32
	sorted   []uint32
	counts   []uint32
}

func newClusterScratch(n, numBuckets, maxClusterSize int) *clusterScratch {
	return &clusterScratch{
		slots:    make([]uint32, numBuckets*(maxClusterSize+1)),
		keys:     make([]uint32, n),
		overflow: make([]uint32, n),
		sorted:   make([]uint32, n),
		counts:   make([]uint32, numBuckets+1),
	}
}

// precomputeClusters groups the indices of chunks by value. The first
// maxClusterSize indices seen for a value form one cluster, emitted in the
// order values were first seen. Every further index goes to the overflow list,
// which is counting-sorted by value and cut into runs of at most
// maxClusterSize. perm and ends must hold len(chunks) entries; it returns the
// cluster and overflow counts.
func precomputeClusters(
	chunks []uint32, maxClusterSize int, s *clusterScratch, perm, ends []uint32,
) (numClusters, numOverflow int) {
	stride := maxClusterSize + 1
	for i := range s.slots {
		s.slots[i] = 0
	}

	numKeys := 0
	for i, v := range chunks {
		base := int(v) * stride
		cnt := s.slots[base]
		if cnt == 0 {
			s.keys[numKeys] = v
			numKeys++
		}
		if int(cnt) < maxClusterSize {
			s.slots[base+1+int(cnt)] = uint32(i)
			s.slots[base] = cnt + 1
			continue
		}
		s.overflow[numOverflow] = uint32(i)
		numOverflow++
	}

	pos := 0
	for k := 0; k < numKeys; k++ {
		base := int(s.keys[k]) * stride
		cnt := int(s.slots[base])
		for j := 0; j < cnt; j++ {
			perm[pos] = s.slots[base+1+j]
			pos++
		}
		ends[numClusters] = uint32(pos)
		numClusters++
	}

	if numOverflow == 0 {
		return numClusters, 0
	}

	// counting sort of the overflow entries by chunk value
	for i := range s.counts {
		s.counts[i] = 0
	}
	for _, idx := range s.overflow[:numOverflow] {
		s.counts[chunks[idx]+1]++
	}
	for k := 1; k < len(s.counts); k++ {
		s.counts[k] += s.counts[k-1]
	}
	for _, idx := range s.overflow[:numOverflow] {
		v := chunks[idx]
		s.sorted[s.counts[v]] = idx
		s.counts[v]++
	}

	run := 0
	for i, idx := range s.sorted[:numOverflow] {
		if run == maxClusterSize || (run > 0 && chunks[idx] != chunks[s.sorted[i-1]]) {
			ends[numClusters] = uint32(pos)
			numClusters++
			run = 0
		}
		perm[pos] = idx
		pos++
		run++
	}
	ends[numClusters] = uint32(pos)
	numClusters++

	return numClusters, numOverflow
}

// PrecomputeClusters computes the cluster layout of one window's chunks.
// Every chunk must be below numBuckets.
func PrecomputeClusters(chunks []uint32, numBuckets, maxClusterSize int) (*ClusterLayout, error) {
	if maxClusterSize < 1 {
		return nil, fmt.Errorf("%w: max cluster size %d", ErrInvalidConfig, maxClusterSize)
	}
	for i, v := range chunks {
		if int(v) >= numBuckets {
			return nil, fmt.Errorf("%w: chunk %d has value %d >= %d buckets", ErrInvalidConfig, i, v, numBuckets)
		}
	}
	n := len(chunks)
	perm := make([]uint32, n)
	ends := make([]uint32, n)
	nc, no := precomputeClusters(chunks, maxClusterSize, newClusterScratch(n, numBuckets, maxClusterSize), perm, ends)
	return &ClusterLayout{Perm: perm, Ends: ends[:nc], NumOverflow: no}, nil
}

// CheckClusterLayout verifies that l is a valid grouping of chunks: Perm is
// a permutation, every cluster is non-empty, single-valued and no larger than
// maxClusterSize, and the permuted chunks sort to the sorted original chunks.
func CheckClusterLayout(chunks []uint32, l *ClusterLayout, maxClusterSize int) []error {
	var errs []error
	n := len(chunks)
	if len(l.Perm) != n {
		return append(errs, fmt.Errorf("permutation has %d entries, want %d", len(l.Perm), n))
	}

	seen := make([]bool, n)
	for pos, idx := range l.Perm {
		if int(idx) >= n || seen[idx] {
			errs = append(errs, fmt.Errorf("permutation entry %d = %d is out of range or repeated", pos, idx))
			continue
		}
		seen[idx] = true
	}

	if nc := l.NumClusters(); nc == 0 && n > 0 || nc > 0 && int(l.Ends[nc-1]) != n {
		errs = append(errs, fmt.Errorf("clusters do not cover all %d entries", n))
	}
	for j := 0; j < l.NumClusters(); j++ {
		start, end := l.Bounds(j)
		if end <= start || int(end-start) > maxClusterSize || int(end) > n {
			errs = append(errs, fmt.Errorf("cluster %d spans [%d, %d)", j, start, end))
			continue
		}
		for k := start + 1; k < end; k++ {
			if chunks[l.Perm[k]] != chunks[l.Perm[start]] {
				errs = append(errs, fmt.Errorf("cluster %d mixes chunk values", j))
				break
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}

	want := append([]uint32(nil), chunks...)
	got := make([]uint32, n)
	for pos, idx := range l.Perm {
		got[pos] = chunks[idx]
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i := range want {
		if want[i] != got[i] {
			errs = append(errs, fmt.Errorf("sorted chunk multiset differs at %d", i))
			break
		}
	}
	return errs
}
