package cuzk

import (
	"context"
	"fmt"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/holiman/uint256"

	"cuzk.mleku.dev/gpu"
	"cuzk.mleku.dev/shader"
)

// naiveCheckLimit bounds the input size for which the debug verifier
// recomputes the whole MSM serially.
const naiveCheckLimit = 1 << 12

// stageHook observes the pipeline after each stage. Production runs use
// noopHook; Config.Debug installs a cpuVerifier.
type stageHook interface {
	afterStage(ctx context.Context, s shader.Stage, window int) error
	afterReduction(window int, result *Point) error
	afterHorner(windows []Point, result *Point) error
}

type noopHook struct{}

func (noopHook) afterStage(context.Context, shader.Stage, int) error { return nil }
func (noopHook) afterReduction(int, *Point) error                    { return nil }
func (noopHook) afterHorner([]Point, *Point) error                   { return nil }

// cpuVerifier recomputes every stage on the host from the device outputs
// of the previous stage and reports each difference.
type cpuVerifier struct {
	r       *run
	c       *Curve
	cfg     Config
	affine  []AffinePoint
	scalars []*uint256.Int

	points    []Point
	chunks    [][]uint32
	layout    *ClusterLayout
	agg       []Point
	newChunks []uint32
	csc       *CSCMatrix
	buckets   []Point
}

func newCPUVerifier(r *run, points []AffinePoint, scalars []*uint256.Int) *cpuVerifier {
	return &cpuVerifier{r: r, c: r.p.curve, cfg: r.p.cfg, affine: points, scalars: scalars}
}

func (v *cpuVerifier) download(buf gpu.Buffer, words int) ([]uint32, error) {
	data, err := v.r.p.backend.Download(buf)
	if err != nil {
		return nil, fmt.Errorf("verifier: download %s: %w", buf.Label, err)
	}
	w := gpu.Words(data)
	if len(w) < words {
		return nil, fmt.Errorf("verifier: %s holds %d words, want %d", buf.Label, len(w), words)
	}
	return w[:words], nil
}

func (v *cpuVerifier) downloadPoints(buf gpu.Buffer, count int) ([]Point, error) {
	w, err := v.download(buf, count*v.c.PointWords())
	if err != nil {
		return nil, err
	}
	return decodePoints(v.c, gpu.Bytes(w), count), nil
}

func mismatch(stage string, window int, errs *multierror.Error) error {
	if errs.ErrorOrNil() == nil {
		return nil
	}
	return &StageMismatchError{Stage: stage, Window: window, Errs: errs}
}

func (v *cpuVerifier) afterStage(_ context.Context, s shader.Stage, window int) error {
	var (
		errs *multierror.Error
		err  error
	)
	switch s {
	case shader.Convert:
		errs, err = v.checkConvert()
	case shader.CSRPrecompute:
		errs, err = v.checkClusters(window)
	case shader.PreaggStage1:
		errs, err = v.checkPreaggStage1(window)
	case shader.PreaggStage2:
		errs, err = v.checkPreaggStage2(window)
	case shader.ComputeRowPtr:
		errs, err = v.checkRowPtr()
	case shader.Transpose:
		errs, err = v.checkTranspose()
	case shader.SMVP:
		errs, err = v.checkSMVP()
	case shader.BucketScale:
		errs, err = v.checkBucketScale()
	default:
		// reduction rounds are checked as a whole by afterReduction
		return nil
	}
	if err != nil {
		return err
	}
	return mismatch(string(s), window, errs)
}

func (v *cpuVerifier) checkConvert() (*multierror.Error, error) {
	n := v.r.n
	numSubtasks := v.cfg.NumSubtasks()
	dev, err := v.downloadPoints(v.r.points, n)
	if err != nil {
		return nil, err
	}
	devChunks, err := v.download(v.r.chunks, numSubtasks*n)
	if err != nil {
		return nil, err
	}

	var errs *multierror.Error
	f := v.c.F
	v.points = make([]Point, n)
	for i, ap := range v.affine {
		v.c.FromAffine(&v.points[i], ap)
		p, q := &v.points[i], &dev[i]
		if !f.Equal(&p.X, &q.X) || !f.Equal(&p.Y, &q.Y) || !f.Equal(&p.T, &q.T) || !f.Equal(&p.Z, &q.Z) {
			errs = multierror.Append(errs, fmt.Errorf("point %d converted incorrectly", i))
		}
	}

	v.chunks = make([][]uint32, numSubtasks)
	for s := range v.chunks {
		v.chunks[s] = make([]uint32, n)
	}
	for i, sc := range v.scalars {
		for s, c := range Decompose(sc, numSubtasks, v.cfg.ChunkSize) {
			v.chunks[s][i] = c
			if devChunks[s*n+i] != c {
				errs = multierror.Append(errs, fmt.Errorf("chunk %d of scalar %d is %d, want %d", s, i, devChunks[s*n+i], c))
			}
		}
	}
	return errs, nil
}

func (v *cpuVerifier) checkClusters(window int) (*multierror.Error, error) {
	n := v.r.n
	info, err := v.download(v.r.info, 2)
	if err != nil {
		return nil, err
	}
	nc := int(info[0])
	if nc > n {
		return multierror.Append(nil, fmt.Errorf("%d clusters for %d points", nc, n)), nil
	}
	perm, err := v.download(v.r.perm, n)
	if err != nil {
		return nil, err
	}
	ends, err := v.download(v.r.ends, n)
	if err != nil {
		return nil, err
	}
	v.layout = &ClusterLayout{Perm: perm, Ends: ends[:nc], NumOverflow: int(info[1])}

	metrics.SetGauge([]string{"cuzk", "clusters"}, float32(nc))
	metrics.SetGauge([]string{"cuzk", "overflow"}, float32(info[1]))

	var errs *multierror.Error
	for _, e := range CheckClusterLayout(v.chunks[window], v.layout, v.r.maxClusterSize) {
		errs = multierror.Append(errs, e)
	}
	return errs, nil
}

func (v *cpuVerifier) checkPreaggStage1(window int) (*multierror.Error, error) {
	nc := v.layout.NumClusters()
	dev, err := v.downloadPoints(v.r.agg, nc)
	if err != nil {
		return nil, err
	}
	ref, newChunks := PreAggregate(v.c, v.points, v.chunks[window], v.layout)
	v.agg = ref
	v.newChunks = newChunks

	var errs *multierror.Error
	for j := range ref {
		if !v.c.Equal(&ref[j], &dev[j]) || !v.c.IsValid(&dev[j]) {
			errs = multierror.Append(errs, fmt.Errorf("aggregated point %d differs", j))
		}
	}
	return errs, nil
}

func (v *cpuVerifier) checkPreaggStage2(int) (*multierror.Error, error) {
	dev, err := v.download(v.r.newChunks, len(v.newChunks))
	if err != nil {
		return nil, err
	}
	var errs *multierror.Error
	for j, want := range v.newChunks {
		if dev[j] != want {
			errs = multierror.Append(errs, fmt.Errorf("new chunk %d is %d, want %d", j, dev[j], want))
		}
	}
	return errs, nil
}

func (v *cpuVerifier) checkRowPtr() (*multierror.Error, error) {
	numRows := v.cfg.NumRowsPerSubtask
	dev, err := v.download(v.r.rowPtr, numRows+1)
	if err != nil {
		return nil, err
	}
	want := make([]uint32, numRows+1)
	computeRowPtr(want, v.r.n, len(v.newChunks), numRows)

	var errs *multierror.Error
	for r := range want {
		if dev[r] != want[r] {
			errs = multierror.Append(errs, fmt.Errorf("row_ptr[%d] is %d, want %d", r, dev[r], want[r]))
		}
	}
	return errs, nil
}

func (v *cpuVerifier) checkTranspose() (*multierror.Error, error) {
	nb := v.cfg.NumBuckets()
	nc := len(v.newChunks)
	csr := WindowCSR(v.newChunks, v.r.n, v.cfg.NumRowsPerSubtask, nb)
	v.csc = csr.ToCSC()

	colPtr, err := v.download(v.r.colPtr, nb+1)
	if err != nil {
		return nil, err
	}
	rowIdx, err := v.download(v.r.rowIdx, nc)
	if err != nil {
		return nil, err
	}
	vals, err := v.download(v.r.valIdxs, nc)
	if err != nil {
		return nil, err
	}
	dev := &CSCMatrix{Rows: csr.Rows, Cols: nb, ColPtr: colPtr, RowIdx: rowIdx, Vals: vals}

	var errs *multierror.Error
	if dev.NNZ() != nc {
		return multierror.Append(errs, fmt.Errorf("transpose holds %d entries, want %d", dev.NNZ(), nc)), nil
	}
	for k := 0; k < nb; k++ {
		if colPtr[k] > colPtr[k+1] {
			errs = multierror.Append(errs, fmt.Errorf("col_ptr decreases at bucket %d", k))
			continue
		}
		if !sameMultiset(dev.Column(k), v.csc.Column(k)) {
			errs = multierror.Append(errs, fmt.Errorf("bucket %d membership differs", k))
		}
	}
	for e := 0; e < nc; e++ {
		r, val := rowIdx[e], vals[e]
		if int(r) >= csr.Rows || val < csr.RowPtr[r] || val >= csr.RowPtr[r+1] {
			errs = multierror.Append(errs, fmt.Errorf("entry %d has row %d outside its block", e, r))
		}
	}
	return errs, nil
}

func (v *cpuVerifier) checkSMVP() (*multierror.Error, error) {
	nb := v.cfg.NumBuckets()
	dev, err := v.downloadPoints(v.r.buckets, nb)
	if err != nil {
		return nil, err
	}
	v.buckets = SMVP(v.c, v.agg, v.csc)

	var errs *multierror.Error
	for k := range v.buckets {
		if !v.c.Equal(&v.buckets[k], &dev[k]) {
			errs = multierror.Append(errs, fmt.Errorf("bucket %d differs", k))
		}
	}
	return errs, nil
}

func (v *cpuVerifier) checkBucketScale() (*multierror.Error, error) {
	nb := v.cfg.NumBuckets()
	dev, err := v.downloadPoints(v.r.buckets, nb)
	if err != nil {
		return nil, err
	}
	var errs *multierror.Error
	var want Point
	for k := range v.buckets {
		v.c.scaleBucket(&want, &v.buckets[k], uint32(k))
		if !v.c.Equal(&want, &dev[k]) {
			errs = multierror.Append(errs, fmt.Errorf("scaled bucket %d differs", k))
		}
	}
	return errs, nil
}

func (v *cpuVerifier) afterReduction(window int, result *Point) error {
	want := ReduceRunningSum(v.c, v.buckets)
	var errs *multierror.Error
	if !v.c.Equal(&want, result) {
		errs = multierror.Append(errs, fmt.Errorf("window sum differs"))
	}
	return mismatch("reduction", window, errs)
}

func (v *cpuVerifier) afterHorner(_ []Point, result *Point) error {
	if v.r.n > naiveCheckLimit {
		return nil
	}
	var want, term Point
	v.c.Identity(&want)
	for i := range v.points {
		v.c.ScalarMul(&term, &v.points[i], v.scalars[i].ToBig())
		v.c.Add(&want, &want, &term)
	}
	var errs *multierror.Error
	if !v.c.Equal(&want, result) {
		errs = multierror.Append(errs, fmt.Errorf("msm result differs from the serial sum"))
	}
	return mismatch("horner", -1, errs)
}
