package cuzk

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/holiman/uint256"

	"cuzk.mleku.dev/gpu"
	"cuzk.mleku.dev/shader"
)

// Pipeline runs multi-scalar multiplications over one curve on a compute
// backend. A Pipeline is safe for sequential use; concurrent MSM calls on one
// Pipeline share the backend and are serialised.
type Pipeline struct {
	curve   *Curve
	cfg     Config
	backend gpu.Backend
	shaders *shader.Manager
	logger  hclog.Logger

	mu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBackend runs the pipeline on b instead of a host backend.
func WithBackend(b gpu.Backend) Option {
	return func(p *Pipeline) {
		p.backend = b
	}
}

// WithLogger sets the logger; the default discards output.
func WithLogger(l hclog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline validates cfg and prepares the kernel sources for curve c.
// Without WithBackend the stages run on a gpu.Host.
func NewPipeline(c *Curve, cfg Config, opts ...Option) (*Pipeline, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil curve", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		curve:  c,
		cfg:    cfg,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("cuzk")
	if p.backend == nil {
		p.backend = NewHostBackend(c, gpu.WithHostLogger(p.logger))
	}

	m, err := shader.NewManager(shaderParams(c, cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	p.shaders = m
	return p, nil
}

func shaderParams(c *Curve, cfg Config) shader.Params {
	f := c.F
	var one FieldElement
	f.One(&one)
	return shader.Params{
		NumWords:      f.NumWords,
		WordSize:      f.WordSize,
		Mask:          f.Mask,
		N0:            f.N0,
		PLimbs:        f.ModulusLimbs(),
		R2Limbs:       f.Limbs(&f.r2),
		OneLimbs:      f.Limbs(&one),
		DLimbs:        f.Limbs(&c.D),
		ALimbs:        f.Limbs(&c.A),
		AIsMinusOne:   c.aIsMinusOne,
		ChunkSize:     cfg.ChunkSize,
		NumSubtasks:   cfg.NumSubtasks(),
		WorkgroupSize: cfg.WorkgroupSize,
	}
}

// Curve returns the curve p computes over.
func (p *Pipeline) Curve() *Curve {
	return p.curve
}

// Config returns the configuration of p.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// kernel returns the rendered kernel of stage s.
func (p *Pipeline) kernel(s shader.Stage, serial bool) (gpu.Kernel, error) {
	src, err := p.shaders.Source(s)
	if err != nil {
		return gpu.Kernel{}, err
	}
	wg := p.cfg.WorkgroupSize
	if serial {
		wg = 1
	}
	return gpu.Kernel{Name: string(s), Entrypoint: p.shaders.Entrypoint(), Source: src, WorkgroupSize: wg}, nil
}

var serialStages = map[shader.Stage]bool{
	shader.CSRPrecompute: true,
	shader.ComputeRowPtr: true,
	shader.Transpose:     true,
	shader.RunningSum:    true,
}

// Precompile compiles every kernel ahead of the first MSM when the backend
// supports it.
func (p *Pipeline) Precompile() error {
	pc, ok := p.backend.(gpu.Precompiler)
	if !ok {
		return nil
	}
	for _, s := range shader.Stages() {
		k, err := p.kernel(s, serialStages[s])
		if err != nil {
			return err
		}
		if err := pc.Precompile(k); err != nil {
			return fmt.Errorf("precompile %s: %w", s, err)
		}
	}
	return nil
}

// validateInputs checks the MSM preconditions and converts the scalars.
func (p *Pipeline) validateInputs(points []AffinePoint, scalars []*big.Int) ([]*uint256.Int, error) {
	switch {
	case len(points) == 0:
		return nil, ErrEmptyInput
	case len(points) != len(scalars):
		return nil, fmt.Errorf("%w: %d points, %d scalars", ErrLengthMismatch, len(points), len(scalars))
	case len(points) > p.cfg.MaxInputSize:
		return nil, fmt.Errorf("%w: %d points, limit %d", ErrInputTooLarge, len(points), p.cfg.MaxInputSize)
	}
	out := make([]*uint256.Int, len(scalars))
	for i, s := range scalars {
		u, err := ScalarFromBig(s, p.cfg.ScalarBits)
		if err != nil {
			return nil, fmt.Errorf("scalar %d: %w", i, err)
		}
		out[i] = u
	}
	for i, pt := range points {
		if !p.curve.IsOnCurveAffine(pt) {
			return nil, fmt.Errorf("%w: point %d", ErrPointNotOnCurve, i)
		}
	}
	return out, nil
}

// MSM computes sum scalars[i]*points[i]. Points must be on the curve and
// scalars must fit in the configured scalar bits.
func (p *Pipeline) MSM(ctx context.Context, points []AffinePoint, scalars []*big.Int) (AffinePoint, error) {
	us, err := p.validateInputs(points, scalars)
	if err != nil {
		return AffinePoint{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	defer metrics.MeasureSince([]string{"cuzk", "msm"}, time.Now())
	metrics.IncrCounter([]string{"cuzk", "msm", "calls"}, 1)

	r := &run{p: p, n: len(points), maxClusterSize: MaxClusterSize(len(points))}
	defer r.release()

	if p.cfg.Debug {
		r.hook = newCPUVerifier(r, points, us)
	} else {
		r.hook = noopHook{}
	}

	res, err := r.execute(ctx, points, us)
	if err != nil {
		return AffinePoint{}, err
	}
	return p.curve.ToAffine(&res), nil
}

var (
	defaultPipelineOnce sync.Once
	defaultPipeline     *Pipeline
	defaultPipelineErr  error
)

// MSM computes sum scalars[i]*points[i] on EdBLS12377 with DefaultConfig.
func MSM(ctx context.Context, points []AffinePoint, scalars []*big.Int) (AffinePoint, error) {
	defaultPipelineOnce.Do(func() {
		defaultPipeline, defaultPipelineErr = NewPipeline(EdBLS12377(), DefaultConfig())
	})
	if defaultPipelineErr != nil {
		return AffinePoint{}, defaultPipelineErr
	}
	return defaultPipeline.MSM(ctx, points, scalars)
}

// run is the state of one MSM invocation: its device buffers and the stage
// hook.
type run struct {
	p              *Pipeline
	n              int
	maxClusterSize int
	hook           stageHook

	// inputs and converted points
	coords, scalars, points, chunks gpu.Buffer

	// per-window structures, reused across windows
	clusterMap, scratch, perm, ends, info                 gpu.Buffer
	agg, newChunks, rowPtr, colPtr, rowIdx, valIdxs, curr gpu.Buffer
	buckets, reduceOut, staging                           gpu.Buffer

	// one parameter block per stage
	convertParams, precomputeParams, preagg2Params, rowPtrParams gpu.Buffer
	transposeParams, bucketParams, reductionParams               gpu.Buffer

	allocated []gpu.Buffer
}

func (r *run) alloc(dst *gpu.Buffer, words int, label string) error {
	b, err := r.p.backend.Allocate(4*max(words, 1), label)
	if err != nil {
		return fmt.Errorf("allocate %s: %w", label, err)
	}
	*dst = b
	r.allocated = append(r.allocated, b)
	return nil
}

func (r *run) release() {
	for _, b := range r.allocated {
		if err := r.p.backend.Release(b); err != nil {
			r.p.logger.Warn("failed to release buffer", "label", b.Label, "error", err)
		}
	}
	r.allocated = nil
}

// allocate creates every buffer once, sized for the largest window.
func (r *run) allocate() error {
	cfg := r.p.cfg
	n := r.n
	nw := r.p.curve.F.NumWords
	pw := r.p.curve.PointWords()
	nb := cfg.NumBuckets()
	m := r.maxClusterSize

	for _, a := range []struct {
		dst   *gpu.Buffer
		words int
		label string
	}{
		{&r.coords, 2 * nw * n, "coords"},
		{&r.scalars, ScalarWords * n, "scalars"},
		{&r.points, pw * n, "points"},
		{&r.chunks, cfg.NumSubtasks() * n, "chunks"},
		{&r.clusterMap, nb * (m + 1), "cluster_map"},
		{&r.scratch, 3*n + nb + 1, "cluster_scratch"},
		{&r.perm, n, "perm"},
		{&r.ends, n, "cluster_ends"},
		{&r.info, 2, "cluster_info"},
		{&r.agg, pw * n, "aggregated"},
		{&r.newChunks, n, "new_chunks"},
		{&r.rowPtr, cfg.NumRowsPerSubtask + 1, "row_ptr"},
		{&r.colPtr, nb + 1, "csc_col_ptr"},
		{&r.rowIdx, n, "csc_row_idx"},
		{&r.valIdxs, n, "csc_val_idxs"},
		{&r.curr, nb, "transpose_curr"},
		{&r.buckets, pw * nb, "buckets"},
		{&r.reduceOut, pw * ((nb + 1) / 2), "reduce_out"},
		{&r.staging, pw, "staging"},
		{&r.convertParams, 3, "convert_params"},
		{&r.precomputeParams, 4, "precompute_params"},
		{&r.preagg2Params, 2, "preagg2_params"},
		{&r.rowPtrParams, 2, "row_ptr_params"},
		{&r.transposeParams, 2, "transpose_params"},
		{&r.bucketParams, 1, "bucket_params"},
		{&r.reductionParams, 1, "reduction_params"},
	} {
		if err := r.alloc(a.dst, a.words, a.label); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) upload(buf gpu.Buffer, data []byte) error {
	if err := r.p.backend.Upload(buf, data); err != nil {
		return fmt.Errorf("upload %s: %w", buf.Label, err)
	}
	return nil
}

// dispatch runs stage s over count invocations and then the stage hook.
func (r *run) dispatch(ctx context.Context, s shader.Stage, window, count int, bindings ...gpu.Binding) error {
	serial := serialStages[s]
	k, err := r.p.kernel(s, serial)
	if err != nil {
		return err
	}
	grid := gpu.Grid{X: 1, Y: 1, Z: 1}
	if !serial {
		grid.X = max((count+k.WorkgroupSize-1)/k.WorkgroupSize, 1)
	}

	start := time.Now()
	if err := r.p.backend.Dispatch(ctx, k, bindings, grid); err != nil {
		return fmt.Errorf("stage %s window %d: %w", s, window, err)
	}
	metrics.MeasureSince([]string{"cuzk", "stage", string(s)}, start)
	r.p.logger.Trace("stage complete", "stage", s, "window", window, "workgroups", grid.Workgroups(), "elapsed", time.Since(start))

	return r.hook.afterStage(ctx, s, window)
}

func bind(b gpu.Buffer, a gpu.Access) gpu.Binding {
	return gpu.Binding{Buffer: b, Access: a}
}

func (r *run) execute(ctx context.Context, points []AffinePoint, scalars []*uint256.Int) (Point, error) {
	var zero Point
	cfg := r.p.cfg
	c := r.p.curve
	n := uint32(r.n)
	nb := cfg.NumBuckets()
	numSubtasks := cfg.NumSubtasks()

	if err := r.allocate(); err != nil {
		return zero, err
	}
	uploads := []struct {
		buf  gpu.Buffer
		data []byte
	}{
		{r.coords, encodeCoords(c.F, points)},
		{r.scalars, encodeScalars(scalars)},
		{r.convertParams, encodeParams(n, uint32(numSubtasks), uint32(cfg.ChunkSize))},
		{r.rowPtrParams, encodeParams(n, uint32(cfg.NumRowsPerSubtask))},
		{r.transposeParams, encodeParams(uint32(cfg.NumRowsPerSubtask), uint32(nb))},
		{r.bucketParams, encodeParams(uint32(nb))},
	}
	for _, u := range uploads {
		if err := r.upload(u.buf, u.data); err != nil {
			return zero, err
		}
	}

	r.p.logger.Debug("starting msm", "n", r.n, "windows", numSubtasks, "buckets", nb,
		"max_cluster_size", r.maxClusterSize, "running_sum", cfg.UseRunningSum())

	if err := r.dispatch(ctx, shader.Convert, -1, r.n,
		bind(r.coords, ro), bind(r.scalars, ro), bind(r.convertParams, ro),
		bind(r.points, rw), bind(r.chunks, rw)); err != nil {
		return zero, err
	}

	windows := make([]Point, numSubtasks)
	for s := 0; s < numSubtasks; s++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		res, err := r.window(ctx, s)
		if err != nil {
			return zero, err
		}
		windows[s] = res
	}

	result := Horner(c, windows, cfg.ChunkSize)
	if err := r.hook.afterHorner(windows, &result); err != nil {
		return zero, err
	}
	return result, nil
}

// window runs every stage of one window and returns its reduced point.
func (r *run) window(ctx context.Context, s int) (Point, error) {
	var zero Point
	cfg := r.p.cfg
	n := uint32(r.n)
	nb := cfg.NumBuckets()

	if err := r.upload(r.precomputeParams, encodeParams(n, uint32(s), uint32(r.maxClusterSize), uint32(nb))); err != nil {
		return zero, err
	}
	if err := r.upload(r.preagg2Params, encodeParams(n, uint32(s))); err != nil {
		return zero, err
	}

	steps := []struct {
		stage    shader.Stage
		count    int
		bindings []gpu.Binding
	}{
		{shader.CSRPrecompute, 1, []gpu.Binding{
			bind(r.chunks, ro), bind(r.precomputeParams, ro), bind(r.clusterMap, rw),
			bind(r.scratch, rw), bind(r.perm, rw), bind(r.ends, rw), bind(r.info, rw)}},
		{shader.PreaggStage1, r.n, []gpu.Binding{
			bind(r.points, ro), bind(r.perm, ro), bind(r.ends, ro), bind(r.info, ro), bind(r.agg, rw)}},
		{shader.PreaggStage2, r.n, []gpu.Binding{
			bind(r.chunks, ro), bind(r.preagg2Params, ro), bind(r.perm, ro), bind(r.ends, ro),
			bind(r.info, ro), bind(r.newChunks, rw)}},
		{shader.ComputeRowPtr, 1, []gpu.Binding{
			bind(r.rowPtrParams, ro), bind(r.info, ro), bind(r.rowPtr, rw)}},
		{shader.Transpose, 1, []gpu.Binding{
			bind(r.rowPtr, ro), bind(r.newChunks, ro), bind(r.transposeParams, ro),
			bind(r.colPtr, rw), bind(r.rowIdx, rw), bind(r.valIdxs, rw), bind(r.curr, rw)}},
		{shader.SMVP, nb, []gpu.Binding{
			bind(r.agg, ro), bind(r.colPtr, ro), bind(r.valIdxs, ro), bind(r.bucketParams, ro), bind(r.buckets, rw)}},
	}
	for _, st := range steps {
		if err := r.dispatch(ctx, st.stage, s, st.count, st.bindings...); err != nil {
			return zero, err
		}
	}

	result, err := r.reduce(ctx, s)
	if err != nil {
		return zero, err
	}

	pointBytes := 4 * r.p.curve.PointWords()
	if err := r.p.backend.Copy(result, r.staging, pointBytes); err != nil {
		return zero, fmt.Errorf("copy window %d result: %w", s, err)
	}
	data, err := r.p.backend.Download(r.staging)
	if err != nil {
		return zero, fmt.Errorf("download window %d result: %w", s, err)
	}
	pt := decodePoints(r.p.curve, data, 1)[0]
	if err := r.hook.afterReduction(s, &pt); err != nil {
		return zero, err
	}
	return pt, nil
}

// reduce collapses the buckets of window s and returns the buffer holding
// the result in its first point.
func (r *run) reduce(ctx context.Context, s int) (gpu.Buffer, error) {
	nb := r.p.cfg.NumBuckets()
	if r.p.cfg.UseRunningSum() {
		err := r.dispatch(ctx, shader.RunningSum, s, 1,
			bind(r.buckets, ro), bind(r.bucketParams, ro), bind(r.reduceOut, rw))
		return r.reduceOut, err
	}

	if err := r.dispatch(ctx, shader.BucketScale, s, nb, bind(r.bucketParams, ro), bind(r.buckets, rw)); err != nil {
		return gpu.Buffer{}, err
	}
	pointBytes := 4 * r.p.curve.PointWords()
	for size := nb; size > 1; {
		half := (size + 1) / 2
		if err := r.upload(r.reductionParams, encodeParams(uint32(size))); err != nil {
			return gpu.Buffer{}, err
		}
		if err := r.dispatch(ctx, shader.BucketReduction, s, half,
			bind(r.buckets, ro), bind(r.reductionParams, ro), bind(r.reduceOut, rw)); err != nil {
			return gpu.Buffer{}, err
		}
		if err := r.p.backend.Copy(r.reduceOut, r.buckets, half*pointBytes); err != nil {
			return gpu.Buffer{}, fmt.Errorf("copy reduction round: %w", err)
		}
		size = half
	}
	return r.buckets, nil
}
