package cuzk

import (
	"fmt"

	"cuzk.mleku.dev/gpu"
	"cuzk.mleku.dev/shader"
)

const (
	ro = gpu.ReadOnly
	rw = gpu.ReadWrite
)

// kernelLayouts lists the binding access modes of every stage, in binding
// order. The WGSL templates declare the same bindings.
var kernelLayouts = map[shader.Stage][]gpu.Access{
	// coords, scalars, params, points, chunks
	shader.Convert: {ro, ro, ro, rw, rw},
	// chunks, params, cluster map, scratch, perm, cluster ends, cluster info
	shader.CSRPrecompute: {ro, ro, rw, rw, rw, rw, rw},
	// points, perm, cluster ends, cluster info, aggregated
	shader.PreaggStage1: {ro, ro, ro, ro, rw},
	// chunks, params, perm, cluster ends, cluster info, new chunks
	shader.PreaggStage2: {ro, ro, ro, ro, ro, rw},
	// params, cluster info, row ptr
	shader.ComputeRowPtr: {ro, ro, rw},
	// row ptr, new chunks, params, col ptr, row idx, val idxs, curr
	shader.Transpose: {ro, ro, ro, rw, rw, rw, rw},
	// aggregated, col ptr, val idxs, params, buckets
	shader.SMVP: {ro, ro, ro, ro, rw},
	// params, buckets
	shader.BucketScale: {ro, rw},
	// buckets, params, out
	shader.BucketReduction: {ro, ro, rw},
	// buckets, params, out
	shader.RunningSum: {ro, ro, rw},
}

// hostKernels implements every stage for gpu.Host over one curve.
type hostKernels struct {
	c *Curve
}

// NewHostBackend returns a gpu.Host with the implementation of every
// pipeline stage registered for curve c.
func NewHostBackend(c *Curve, opts ...gpu.HostOption) *gpu.Host {
	h := gpu.NewHost(opts...)
	RegisterHostKernels(h, c)
	return h
}

// RegisterHostKernels installs the stage implementations for curve c on h.
func RegisterHostKernels(h *gpu.Host, c *Curve) {
	k := &hostKernels{c: c}
	fns := map[shader.Stage]gpu.KernelFunc{
		shader.Convert:         k.convert,
		shader.CSRPrecompute:   k.csrPrecompute,
		shader.PreaggStage1:    k.preaggStage1,
		shader.PreaggStage2:    k.preaggStage2,
		shader.ComputeRowPtr:   k.computeRowPtr,
		shader.Transpose:       k.transpose,
		shader.SMVP:            k.smvp,
		shader.BucketScale:     k.bucketScale,
		shader.BucketReduction: k.bucketReduction,
		shader.RunningSum:      k.runningSum,
	}
	for stage, fn := range fns {
		h.Register(string(stage), kernelLayouts[stage], fn)
	}
}

func (k *hostKernels) load(r *Point, words []uint32, idx int) {
	pw := k.c.PointWords()
	k.c.LoadPoint(r, words[idx*pw:(idx+1)*pw])
}

func (k *hostKernels) store(words []uint32, idx int, p *Point) {
	pw := k.c.PointWords()
	k.c.StorePoint(words[idx*pw:(idx+1)*pw], p)
}

func clusterStart(ends []uint32, j int) uint32 {
	if j == 0 {
		return 0
	}
	return ends[j-1]
}

// convert: params = [n, num_subtasks, chunk_size]
func (k *hostKernels) convert(l *gpu.Launch, lo, hi int) error {
	coords, scalars, params, points, chunks := l.Buffers[0], l.Buffers[1], l.Buffers[2], l.Buffers[3], l.Buffers[4]
	n, numSubtasks, chunkSize := int(params[0]), int(params[1]), uint(params[2])
	f := k.c.F
	nw := f.NumWords

	decomposed := make([]uint32, numSubtasks)
	for id := lo; id < min(hi, n); id++ {
		var x, y FieldElement
		var p Point
		f.LoadWords(&x, coords[2*id*nw:])
		f.LoadWords(&y, coords[(2*id+1)*nw:])
		f.ToMontgomery(&p.X, &x)
		f.ToMontgomery(&p.Y, &y)
		f.MontMul(&p.T, &p.X, &p.Y)
		f.One(&p.Z)
		k.store(points, id, &p)

		decomposeWords(decomposed, scalars[id*ScalarWords:(id+1)*ScalarWords], numSubtasks, chunkSize)
		for s, v := range decomposed {
			chunks[s*n+id] = v
		}
	}
	return nil
}

// csrPrecompute: params = [n, subtask, max_cluster_size, num_buckets]
func (k *hostKernels) csrPrecompute(l *gpu.Launch, lo, hi int) error {
	if lo != 0 {
		return nil
	}
	chunks, params, clusterMap, scratch := l.Buffers[0], l.Buffers[1], l.Buffers[2], l.Buffers[3]
	perm, ends, info := l.Buffers[4], l.Buffers[5], l.Buffers[6]
	n, subtask, m, numBuckets := int(params[0]), int(params[1]), int(params[2]), int(params[3])

	window := chunks[subtask*n : (subtask+1)*n]
	for i, v := range window {
		if int(v) >= numBuckets {
			return fmt.Errorf("chunk %d of window %d has value %d >= %d", i, subtask, v, numBuckets)
		}
	}
	s := &clusterScratch{
		slots:    clusterMap[:numBuckets*(m+1)],
		keys:     scratch[0:n],
		overflow: scratch[n : 2*n],
		sorted:   scratch[2*n : 3*n],
		counts:   scratch[3*n : 3*n+numBuckets+1],
	}
	nc, no := precomputeClusters(window, m, s, perm[:n], ends[:n])
	info[0] = uint32(nc)
	info[1] = uint32(no)
	return nil
}

func (k *hostKernels) preaggStage1(l *gpu.Launch, lo, hi int) error {
	points, perm, ends, info, agg := l.Buffers[0], l.Buffers[1], l.Buffers[2], l.Buffers[3], l.Buffers[4]
	nc := int(info[0])
	var acc, q Point
	for j := lo; j < min(hi, nc); j++ {
		start, end := clusterStart(ends, j), ends[j]
		k.load(&acc, points, int(perm[start]))
		for i := start + 1; i < end; i++ {
			k.load(&q, points, int(perm[i]))
			k.c.Add(&acc, &acc, &q)
		}
		k.store(agg, j, &acc)
	}
	return nil
}

// preaggStage2: params = [n, subtask]
func (k *hostKernels) preaggStage2(l *gpu.Launch, lo, hi int) error {
	chunks, params, perm, ends, info, newChunks := l.Buffers[0], l.Buffers[1], l.Buffers[2], l.Buffers[3], l.Buffers[4], l.Buffers[5]
	offset := int(params[1]) * int(params[0])
	nc := int(info[0])
	for j := lo; j < min(hi, nc); j++ {
		newChunks[j] = chunks[offset+int(perm[clusterStart(ends, j)])]
	}
	return nil
}

// computeRowPtr: params = [n, num_rows]
func (k *hostKernels) computeRowPtr(l *gpu.Launch, lo, hi int) error {
	if lo != 0 {
		return nil
	}
	params, info, rowPtr := l.Buffers[0], l.Buffers[1], l.Buffers[2]
	n, numRows := int(params[0]), int(params[1])
	computeRowPtr(rowPtr[:numRows+1], n, int(info[0]), numRows)
	return nil
}

// transpose: params = [num_rows, num_cols]
func (k *hostKernels) transpose(l *gpu.Launch, lo, hi int) error {
	if lo != 0 {
		return nil
	}
	rowPtr, newChunks, params := l.Buffers[0], l.Buffers[1], l.Buffers[2]
	colPtr, rowIdx, valIdxs, curr := l.Buffers[3], l.Buffers[4], l.Buffers[5], l.Buffers[6]
	numRows, numCols := int(params[0]), int(params[1])
	transposeCSR(rowPtr[:numRows+1], newChunks, nil, colPtr[:numCols+1], rowIdx, valIdxs, curr[:numCols])
	return nil
}

// smvp: params = [num_buckets]
func (k *hostKernels) smvp(l *gpu.Launch, lo, hi int) error {
	agg, colPtr, valIdxs, params, buckets := l.Buffers[0], l.Buffers[1], l.Buffers[2], l.Buffers[3], l.Buffers[4]
	numBuckets := int(params[0])
	var acc, q Point
	for b := lo; b < min(hi, numBuckets); b++ {
		start, end := colPtr[b], colPtr[b+1]
		if start == end {
			k.c.Identity(&acc)
		} else {
			k.load(&acc, agg, int(valIdxs[start]))
			for i := start + 1; i < end; i++ {
				k.load(&q, agg, int(valIdxs[i]))
				k.c.Add(&acc, &acc, &q)
			}
		}
		k.store(buckets, b, &acc)
	}
	return nil
}

// bucketScale: params = [num_buckets]
func (k *hostKernels) bucketScale(l *gpu.Launch, lo, hi int) error {
	params, buckets := l.Buffers[0], l.Buffers[1]
	numBuckets := int(params[0])
	var p Point
	for b := lo; b < min(hi, numBuckets); b++ {
		k.load(&p, buckets, b)
		if k.c.IsIdentity(&p) {
			continue
		}
		k.c.ScalarMulUint32(&p, &p, uint32(b))
		k.store(buckets, b, &p)
	}
	return nil
}

// bucketReduction: params = [s]
func (k *hostKernels) bucketReduction(l *gpu.Launch, lo, hi int) error {
	buckets, params, out := l.Buffers[0], l.Buffers[1], l.Buffers[2]
	s := int(params[0])
	half := (s + 1) / 2
	var acc, q Point
	for i := lo; i < min(hi, half); i++ {
		k.load(&acc, buckets, i)
		if i+half < s {
			k.load(&q, buckets, i+half)
			k.c.addSkip(&acc, &acc, &q)
		}
		k.store(out, i, &acc)
	}
	return nil
}

// runningSum: params = [num_buckets]
func (k *hostKernels) runningSum(l *gpu.Launch, lo, hi int) error {
	if lo != 0 {
		return nil
	}
	buckets, params, out := l.Buffers[0], l.Buffers[1], l.Buffers[2]
	numBuckets := int(params[0])
	var acc, sum, b Point
	k.c.Identity(&acc)
	k.c.Identity(&sum)
	for i := numBuckets - 1; i > 0; i-- {
		k.load(&b, buckets, i)
		k.c.addSkip(&acc, &acc, &b)
		k.c.addSkip(&sum, &sum, &acc)
	}
	k.store(out, 0, &sum)
	return nil
}
