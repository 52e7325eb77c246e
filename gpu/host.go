package gpu

import (
	"bufio"
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	sha256simd "github.com/minio/sha256-simd"
	"golang.org/x/sync/errgroup"
)

const (
	// KernelHeader prefixes the first line of every kernel source and names
	// the host implementation of that kernel.
	KernelHeader = "// kernel: "

	defaultCacheSize = 64
)

// Launch is what a host kernel sees of one dispatch.
type Launch struct {
	// Buffers holds the words of every bound buffer in binding order.
	Buffers [][]uint32
	// Invocations is the total number of invocations in the grid.
	Invocations int
}

// KernelFunc runs the invocations [lo, hi) of a launch. Invocations of one
// launch may run concurrently and must write disjoint words.
type KernelFunc func(l *Launch, lo, hi int) error

type hostKernel struct {
	name   string
	layout []Access
	fn     KernelFunc
}

type hostPipeline struct {
	kernel     *hostKernel
	entrypoint string
}

type hostBuffer struct {
	label string
	words []uint32
}

// HostStats counts pipeline compilations.
type HostStats struct {
	Compiles  uint64
	CacheHits uint64
}

// Host is a Backend that executes registered Go implementations of kernels.
// A kernel source is resolved to its implementation through its header line,
// so the same sources a device backend compiles drive the host.
type Host struct {
	logger  hclog.Logger
	workers int

	mu      sync.Mutex
	nextID  uint64
	buffers map[uint64]*hostBuffer
	kernels map[string]*hostKernel

	cache     *lru.Cache
	compiles  atomic.Uint64
	cacheHits atomic.Uint64
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the logger; the default discards output.
func WithHostLogger(l hclog.Logger) HostOption {
	return func(h *Host) {
		h.logger = l.Named("gpu.host")
	}
}

// WithWorkers bounds the goroutines one dispatch uses. The default is
// GOMAXPROCS.
func WithWorkers(n int) HostOption {
	return func(h *Host) {
		if n > 0 {
			h.workers = n
		}
	}
}

// NewHost returns an empty host backend. Kernels must be registered before
// they are dispatched.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		logger:  hclog.NewNullLogger(),
		workers: runtime.GOMAXPROCS(0),
		buffers: make(map[uint64]*hostBuffer),
		kernels: make(map[string]*hostKernel),
	}
	for _, opt := range opts {
		opt(h)
	}
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		panic(err)
	}
	h.cache = cache
	return h
}

// Register installs the implementation of the kernel called name. layout
// lists the access mode expected for each binding slot.
func (h *Host) Register(name string, layout []Access, fn KernelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kernels[name] = &hostKernel{
		name:   name,
		layout: append([]Access(nil), layout...),
		fn:     fn,
	}
}

// Stats returns the compile and cache hit counters.
func (h *Host) Stats() HostStats {
	return HostStats{Compiles: h.compiles.Load(), CacheHits: h.cacheHits.Load()}
}

// kernelName reads the name from the header line of src.
func kernelName(src string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, ok := strings.CutPrefix(line, KernelHeader)
		return strings.TrimSpace(name), ok && name != ""
	}
	return "", false
}

func entrypointOf(k Kernel) string {
	if k.Entrypoint == "" {
		return "main"
	}
	return k.Entrypoint
}

// compile resolves k to a registered implementation, caching the result by
// the hash of its source and entrypoint.
func (h *Host) compile(k Kernel) (*hostPipeline, error) {
	entry := entrypointOf(k)
	key := sha256simd.Sum256([]byte(entry + "\x00" + k.Source))
	if v, ok := h.cache.Get(key); ok {
		h.cacheHits.Add(1)
		return v.(*hostPipeline), nil
	}

	name, ok := kernelName(k.Source)
	if !ok {
		return nil, &Error{Code: CodeCompile, Op: "compile", Kernel: k.Name,
			Err: fmt.Errorf("source has no %q header", strings.TrimSpace(KernelHeader))}
	}
	if k.Name != "" && k.Name != name {
		return nil, &Error{Code: CodeCompile, Op: "compile", Kernel: k.Name,
			Err: fmt.Errorf("source declares kernel %q", name)}
	}
	if !strings.Contains(k.Source, "fn "+entry+"(") {
		return nil, &Error{Code: CodeCompile, Op: "compile", Kernel: name,
			Err: fmt.Errorf("entrypoint %q not found", entry)}
	}

	h.mu.Lock()
	kern, ok := h.kernels[name]
	h.mu.Unlock()
	if !ok {
		return nil, &Error{Code: CodeCompile, Op: "compile", Kernel: name, Err: ErrUnknownKernel}
	}

	p := &hostPipeline{kernel: kern, entrypoint: entry}
	h.cache.Add(key, p)
	h.compiles.Add(1)
	h.logger.Debug("compiled kernel", "kernel", name, "entrypoint", entry, "hash", fmt.Sprintf("%x", key[:8]))
	return p, nil
}

// Precompile implements Precompiler.
func (h *Host) Precompile(k Kernel) error {
	_, err := h.compile(k)
	return err
}

// Allocate implements Backend. size must be a positive multiple of 4.
func (h *Host) Allocate(size int, label string) (Buffer, error) {
	if size <= 0 || size%4 != 0 {
		return Buffer{}, &Error{Code: CodeBuffer, Op: "allocate",
			Err: fmt.Errorf("%w: %d bytes for %s", ErrBufferSize, size, label)}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.buffers[h.nextID] = &hostBuffer{label: label, words: make([]uint32, size/4)}
	return Buffer{ID: h.nextID, Size: size, Label: label}, nil
}

func (h *Host) lookup(op string, buf Buffer) (*hostBuffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hb, ok := h.buffers[buf.ID]
	if !ok {
		return nil, &Error{Code: CodeBuffer, Op: op, Err: fmt.Errorf("%w: %d (%s)", ErrUnknownBuffer, buf.ID, buf.Label)}
	}
	return hb, nil
}

// Upload implements Backend. data is written at the start of buf.
func (h *Host) Upload(buf Buffer, data []byte) error {
	hb, err := h.lookup("upload", buf)
	if err != nil {
		return err
	}
	if len(data)%4 != 0 || len(data) > 4*len(hb.words) {
		return &Error{Code: CodeBuffer, Op: "upload",
			Err: fmt.Errorf("%w: %d bytes into %s of %d", ErrBufferSize, len(data), hb.label, 4*len(hb.words))}
	}
	copy(hb.words, Words(data))
	return nil
}

// Copy implements Backend. It copies the first size bytes of src to dst.
func (h *Host) Copy(src, dst Buffer, size int) error {
	s, err := h.lookup("copy", src)
	if err != nil {
		return err
	}
	d, err := h.lookup("copy", dst)
	if err != nil {
		return err
	}
	if size < 0 || size%4 != 0 || size > 4*len(s.words) || size > 4*len(d.words) {
		return &Error{Code: CodeBuffer, Op: "copy",
			Err: fmt.Errorf("%w: %d bytes from %s to %s", ErrBufferSize, size, s.label, d.label)}
	}
	copy(d.words[:size/4], s.words[:size/4])
	return nil
}

// Download implements Backend.
func (h *Host) Download(buf Buffer) ([]byte, error) {
	hb, err := h.lookup("download", buf)
	if err != nil {
		return nil, err
	}
	return Bytes(hb.words), nil
}

// Release implements Backend.
func (h *Host) Release(buf Buffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.buffers[buf.ID]; !ok {
		return &Error{Code: CodeBuffer, Op: "release", Err: fmt.Errorf("%w: %d (%s)", ErrUnknownBuffer, buf.ID, buf.Label)}
	}
	delete(h.buffers, buf.ID)
	return nil
}

// bind validates bindings against the kernel layout and resolves them.
func (h *Host) bind(kern *hostKernel, bindings []Binding) ([][]uint32, error) {
	if len(bindings) != len(kern.layout) {
		return nil, &Error{Code: CodeBinding, Op: "dispatch", Kernel: kern.name,
			Err: fmt.Errorf("%w: %d bindings, want %d", ErrBindingLayout, len(bindings), len(kern.layout))}
	}
	writable := make(map[uint64]bool, len(bindings))
	bound := make(map[uint64]bool, len(bindings))
	out := make([][]uint32, len(bindings))
	for i, b := range bindings {
		if b.Access != kern.layout[i] {
			return nil, &Error{Code: CodeBinding, Op: "dispatch", Kernel: kern.name,
				Err: fmt.Errorf("%w: slot %d (%s) bound %s, want %s", ErrBindingLayout, i, b.Buffer.Label, b.Access, kern.layout[i])}
		}
		id := b.Buffer.ID
		if writable[id] || (bound[id] && b.Access == ReadWrite) {
			return nil, &Error{Code: CodeBinding, Op: "dispatch", Kernel: kern.name,
				Err: fmt.Errorf("%w: slot %d (%s)", ErrBindingAliased, i, b.Buffer.Label)}
		}
		bound[id] = true
		writable[id] = b.Access == ReadWrite

		hb, err := h.lookup("dispatch", b.Buffer)
		if err != nil {
			return nil, err
		}
		out[i] = hb.words
	}
	return out, nil
}

// run executes [lo, hi) and turns a kernel panic into an error.
func run(kern *hostKernel, l *Launch, lo, hi int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrKernelPanic, r)
		}
	}()
	return kern.fn(l, lo, hi)
}

// Dispatch implements Backend. The grid is split into contiguous ranges of
// whole workgroups run on at most the configured number of goroutines.
func (h *Host) Dispatch(ctx context.Context, k Kernel, bindings []Binding, grid Grid) error {
	if err := ctx.Err(); err != nil {
		return &Error{Code: CodeDispatch, Op: "dispatch", Kernel: k.Name, Err: err}
	}
	p, err := h.compile(k)
	if err != nil {
		return err
	}
	kern := p.kernel
	bufs, err := h.bind(kern, bindings)
	if err != nil {
		return err
	}

	wgSize := max(k.WorkgroupSize, 1)
	workgroups := grid.Workgroups()
	l := &Launch{Buffers: bufs, Invocations: workgroups * wgSize}
	defer metrics.MeasureSinceWithLabels([]string{"gpu", "host", "dispatch"}, time.Now(),
		[]metrics.Label{{Name: "kernel", Value: kern.name}})

	workers := min(h.workers, workgroups)
	if workers <= 1 {
		if err := run(kern, l, 0, l.Invocations); err != nil {
			return &Error{Code: CodeDispatch, Op: "dispatch", Kernel: kern.name, Err: err}
		}
		return nil
	}

	per := (workgroups + workers - 1) / workers * wgSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < l.Invocations; lo += per {
		lo, hi := lo, min(lo+per, l.Invocations)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return run(kern, l, lo, hi)
		})
	}
	if err := g.Wait(); err != nil {
		return &Error{Code: CodeDispatch, Op: "dispatch", Kernel: kern.name, Err: err}
	}
	h.logger.Trace("dispatched", "kernel", kern.name, "workgroups", workgroups, "invocations", l.Invocations)
	return nil
}
