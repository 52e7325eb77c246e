// Package shader renders the WGSL source of every MSM pipeline stage from
// embedded mustache templates. Rendering is pure: the same Params always
// produce the same text.
package shader

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/cbroglie/mustache"
)

//go:embed wgsl/*.wgsl wgsl/partials/*.wgsl
var templates embed.FS

// Stage names one kernel of the pipeline. The name is also the kernel header
// of the rendered source.
type Stage string

const (
	Convert         Stage = "convert_point_coords_and_decompose_scalars"
	CSRPrecompute   Stage = "csr_precompute"
	PreaggStage1    Stage = "preaggregation_stage_1"
	PreaggStage2    Stage = "preaggregation_stage_2"
	ComputeRowPtr   Stage = "compute_row_ptr"
	Transpose       Stage = "transpose"
	SMVP            Stage = "smvp"
	BucketScale     Stage = "bucket_scale"
	BucketReduction Stage = "bucket_reduction"
	RunningSum      Stage = "running_sum"
)

const defaultEntryName = "main"

var templateFiles = map[Stage]string{
	Convert:         "convert.template.wgsl",
	CSRPrecompute:   "csr_precompute.template.wgsl",
	PreaggStage1:    "preaggregation_stage_1.template.wgsl",
	PreaggStage2:    "preaggregation_stage_2.template.wgsl",
	ComputeRowPtr:   "compute_row_ptr.template.wgsl",
	Transpose:       "transpose.template.wgsl",
	SMVP:            "smvp.template.wgsl",
	BucketScale:     "bucket_scale.template.wgsl",
	BucketReduction: "bucket_reduction.template.wgsl",
	RunningSum:      "running_sum.template.wgsl",
}

var partialNames = []string{"structs", "bigint", "field", "curve"}

// Stages lists every stage in pipeline order.
func Stages() []Stage {
	return []Stage{
		Convert, CSRPrecompute, PreaggStage1, PreaggStage2, ComputeRowPtr,
		Transpose, SMVP, BucketScale, BucketReduction, RunningSum,
	}
}

// ErrUnknownStage is returned for a stage without a template.
var ErrUnknownStage = errors.New("shader: unknown stage")

// Params are the constants baked into the kernel sources. Limb slices hold
// NumWords little-endian limbs.
type Params struct {
	NumWords int
	WordSize uint
	Mask     uint32
	N0       uint32

	PLimbs   []uint32
	R2Limbs  []uint32 // R^2 mod p, plain
	OneLimbs []uint32 // 1 in Montgomery form
	DLimbs   []uint32 // Montgomery form
	ALimbs   []uint32 // Montgomery form

	AIsMinusOne bool

	ChunkSize     uint
	NumSubtasks   int
	WorkgroupSize int
}

func (p Params) validate() error {
	if p.NumWords <= 0 {
		return fmt.Errorf("shader: %d limbs", p.NumWords)
	}
	for name, l := range map[string][]uint32{"p": p.PLimbs, "r2": p.R2Limbs, "one": p.OneLimbs, "d": p.DLimbs} {
		if len(l) != p.NumWords {
			return fmt.Errorf("shader: %s has %d limbs, want %d", name, len(l), p.NumWords)
		}
	}
	if !p.AIsMinusOne && len(p.ALimbs) != p.NumWords {
		return fmt.Errorf("shader: a has %d limbs, want %d", len(p.ALimbs), p.NumWords)
	}
	if p.ChunkSize == 0 || p.NumSubtasks <= 0 || p.WorkgroupSize <= 0 {
		return errors.New("shader: chunk size, subtasks and workgroup size must be positive")
	}
	return nil
}

func (p Params) context() map[string]any {
	return map[string]any{
		"num_words":         p.NumWords,
		"point_words":       4 * p.NumWords,
		"word_size":         p.WordSize,
		"mask":              p.Mask,
		"two_pow_word_size": uint64(1) << p.WordSize,
		"n0":                p.N0,
		"p_limbs":           limbAssignments("p", p.PLimbs),
		"r2_limbs":          limbAssignments("r", p.R2Limbs),
		"one_limbs":         limbAssignments("r", p.OneLimbs),
		"d_limbs":           limbAssignments("d", p.DLimbs),
		"a_limbs":           limbAssignments("a", p.ALimbs),
		"a_is_minus_one":    p.AIsMinusOne,
		"mont_product":      GenMontProduct(p.NumWords, p.WordSize, p.Mask, p.N0),
		"chunk_size":        p.ChunkSize,
		"num_buckets":       uint64(1) << p.ChunkSize,
		"num_subtasks":      p.NumSubtasks,
		"workgroup_size":    p.WorkgroupSize,
	}
}

// Manager renders and memoises kernel sources for one set of Params.
type Manager struct {
	params   Params
	ctx      map[string]any
	partials *mustache.StaticProvider

	mu      sync.Mutex
	sources map[Stage]string
}

// NewManager loads the embedded templates for p.
func NewManager(p Params) (*Manager, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	partials := make(map[string]string, len(partialNames))
	for _, name := range partialNames {
		b, err := templates.ReadFile(path.Join("wgsl", "partials", name+".wgsl"))
		if err != nil {
			return nil, err
		}
		partials[name] = string(b)
	}
	return &Manager{
		params:   p,
		ctx:      p.context(),
		partials: &mustache.StaticProvider{Partials: partials},
		sources:  make(map[Stage]string),
	}, nil
}

// Params returns the parameters m renders with.
func (m *Manager) Params() Params {
	return m.params
}

// Entrypoint is the function every kernel source launches.
func (m *Manager) Entrypoint() string {
	return defaultEntryName
}

// Source returns the rendered WGSL of stage s.
func (m *Manager) Source(s Stage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src, ok := m.sources[s]; ok {
		return src, nil
	}
	file, ok := templateFiles[s]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, string(s))
	}
	raw, err := templates.ReadFile(path.Join("wgsl", file))
	if err != nil {
		return "", err
	}
	src, err := mustache.RenderPartials(string(raw), m.partials, m.ctx)
	if err != nil {
		return "", fmt.Errorf("shader: render %s: %w", s, err)
	}
	if !strings.HasPrefix(src, "// kernel: "+string(s)+"\n") {
		return "", fmt.Errorf("shader: %s template has a wrong kernel header", s)
	}
	m.sources[s] = src
	return src, nil
}
