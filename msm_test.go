package cuzk

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"cuzk.mleku.dev/gpu"
	"cuzk.mleku.dev/shader"
)

func newTestPipeline(t testing.TB, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(EdBLS12377(), cfg, opts...)
	require.NoError(t, err)
	return p
}

func gnarkMSM(points []AffinePoint, scalars []*big.Int) AffinePoint {
	var acc twistededwards.PointAffine
	acc.X.SetZero()
	acc.Y.SetOne()
	for i := range points {
		var term twistededwards.PointAffine
		g := toGnark(points[i])
		term.ScalarMultiplication(&g, scalars[i])
		acc.Add(&acc, &term)
	}
	return fromGnark(&acc)
}

func TestMSMMatchesReference(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	for _, n := range []int{1, 2, 5, 64} {
		points, scalars := testInputs(t, "msm", n)

		got, err := p.MSM(context.Background(), points, scalars)
		require.NoError(t, err, "n=%d", n)

		want, err := NaiveMSM(EdBLS12377(), points, scalars)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "n=%d: got %s want %s", n, got, want)
		assert.True(t, gnarkMSM(points, scalars).Equal(got), "n=%d: differs from gnark", n)
	}
}

func TestMSMSingleTerm(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	points, _ := testInputs(t, "single", 1)

	got, err := p.MSM(context.Background(), points, []*big.Int{big.NewInt(1)})
	require.NoError(t, err)
	assert.True(t, points[0].Equal(got))

	got, err = p.MSM(context.Background(), points, []*big.Int{big.NewInt(2)})
	require.NoError(t, err)
	assert.True(t, gnarkMSM(points, []*big.Int{big.NewInt(2)}).Equal(got))
}

func TestMSMTwoTerms(t *testing.T) {
	c := EdBLS12377()
	points, _ := testInputs(t, "two", 2)

	got, err := newTestPipeline(t, testConfig()).MSM(context.Background(), points, []*big.Int{big.NewInt(1), big.NewInt(1)})
	require.NoError(t, err)

	var p, q, sum Point
	c.FromAffine(&p, points[0])
	c.FromAffine(&q, points[1])
	c.Add(&sum, &p, &q)
	assert.True(t, c.ToAffine(&sum).Equal(got))
}

func TestMSMDuplicatePointsDistinctScalars(t *testing.T) {
	base, _ := testInputs(t, "dup-distinct", 2)
	points := []AffinePoint{base[0], base[1], base[0], base[0], base[1], base[0]}
	scalars := DeriveScalars([]byte("dup-distinct"), len(points), 256)

	total0 := new(big.Int)
	total1 := new(big.Int)
	for i, p := range points {
		if p.Equal(base[0]) {
			total0.Add(total0, scalars[i])
		} else {
			total1.Add(total1, scalars[i])
		}
	}

	got, err := newTestPipeline(t, testConfig()).MSM(context.Background(), points, scalars)
	require.NoError(t, err)
	assert.True(t, gnarkMSM(base, []*big.Int{total0, total1}).Equal(got))
}

func TestMSMZeroScalars(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	points, _ := testInputs(t, "zero", 8)
	scalars := make([]*big.Int, len(points))
	for i := range scalars {
		scalars[i] = new(big.Int)
	}

	got, err := p.MSM(context.Background(), points, scalars)
	require.NoError(t, err)
	assert.True(t, IdentityAffine().Equal(got))
}

func TestMSMIdentityPoints(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	points, scalars := testInputs(t, "identity", 4)
	points[1] = IdentityAffine()
	points[3] = IdentityAffine()

	got, err := p.MSM(context.Background(), points, scalars)
	require.NoError(t, err)
	assert.True(t, gnarkMSM(points, scalars).Equal(got))
}

// Equal points with equal scalars fill one bucket per window far past the
// cluster size, exercising the overflow path.
func TestMSMDuplicates(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	base, _ := testInputs(t, "dup", 1)

	n := 21
	points := make([]AffinePoint, n)
	scalars := make([]*big.Int, n)
	for i := range points {
		points[i] = base[0]
		scalars[i] = big.NewInt(0x0305)
	}

	got, err := p.MSM(context.Background(), points, scalars)
	require.NoError(t, err)
	assert.True(t, gnarkMSM(base, []*big.Int{big.NewInt(21 * 0x0305)}).Equal(got))
}

// Past 2^16 points the cluster size drops to 3.
func TestMSMLargeInput(t *testing.T) {
	if testing.Short() {
		t.Skip("large input")
	}
	base, baseScalars := testInputs(t, "large", 8)

	n := 1<<16 + 37
	require.Equal(t, 3, MaxClusterSize(n))
	points := make([]AffinePoint, n)
	scalars := make([]*big.Int, n)
	for i := range points {
		points[i] = base[i%len(base)]
		scalars[i] = baseScalars[i%len(baseScalars)]
	}

	p := newTestPipeline(t, testConfig())
	got, err := p.MSM(context.Background(), points, scalars)
	require.NoError(t, err)

	want, err := NaiveMSM(EdBLS12377(), points, scalars)
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %s want %s", got, want)
}

func TestMSMReductionStrategies(t *testing.T) {
	points, scalars := testInputs(t, "strategies", 24)
	want := gnarkMSM(points, scalars)

	for _, r := range []ReductionStrategy{ReductionAuto, ReductionTree, ReductionRunningSum} {
		t.Run(r.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.Reduction = r
			got, err := newTestPipeline(t, cfg).MSM(context.Background(), points, scalars)
			require.NoError(t, err)
			assert.True(t, want.Equal(got))
		})
	}
}

func TestMSMChunkSizes(t *testing.T) {
	points, scalars := testInputs(t, "chunks", 12)
	want := gnarkMSM(points, scalars)

	for _, c := range []uint{4, 8, 16} {
		cfg := testConfig()
		cfg.ChunkSize = c
		if c == 16 {
			if testing.Short() {
				continue
			}
			cfg.NumRowsPerSubtask = DefaultConfig().NumRowsPerSubtask
		}
		got, err := newTestPipeline(t, cfg).MSM(context.Background(), points, scalars)
		require.NoError(t, err, "chunk size %d", c)
		assert.True(t, want.Equal(got), "chunk size %d", c)
	}
}

func TestMSMNarrowScalars(t *testing.T) {
	cfg := testConfig()
	cfg.ScalarBits = 16
	points, _ := testInputs(t, "narrow", 10)
	scalars := DeriveScalars([]byte("narrow"), 10, 16)

	got, err := newTestPipeline(t, cfg).MSM(context.Background(), points, scalars)
	require.NoError(t, err)
	assert.True(t, gnarkMSM(points, scalars).Equal(got))
}

func TestMSMErrors(t *testing.T) {
	points, scalars := testInputs(t, "errors", 3)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	offCurve := append([]AffinePoint(nil), points...)
	offCurve[1] = AffinePoint{X: big.NewInt(1), Y: big.NewInt(2)}

	testCases := []struct {
		name    string
		cfg     func(*Config)
		ctx     context.Context
		points  []AffinePoint
		scalars []*big.Int
		err     error
	}{
		{"empty", nil, context.Background(), nil, nil, ErrEmptyInput},
		{"length mismatch", nil, context.Background(), points, scalars[:2], ErrLengthMismatch},
		{"too large", func(c *Config) { c.MaxInputSize = 2 }, context.Background(), points, scalars, ErrInputTooLarge},
		{"scalar too wide", func(c *Config) { c.ScalarBits = 16 }, context.Background(), points, scalars, ErrScalarOutOfRange},
		{"negative scalar", nil, context.Background(), points[:1], []*big.Int{big.NewInt(-3)}, ErrScalarOutOfRange},
		{"point off curve", nil, context.Background(), offCurve, scalars, ErrPointNotOnCurve},
		{"canceled", nil, canceled, points, scalars, context.Canceled},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			_, err := newTestPipeline(t, cfg).MSM(tc.ctx, tc.points, tc.scalars)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestNewPipelineRejects(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = 0
	_, err := NewPipeline(EdBLS12377(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPipeline(nil, testConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPipelinePrecompile(t *testing.T) {
	h := NewHostBackend(EdBLS12377())
	p := newTestPipeline(t, testConfig(), WithBackend(h))
	require.NoError(t, p.Precompile())
	assert.Equal(t, uint64(len(shader.Stages())), h.Stats().Compiles)

	points, scalars := testInputs(t, "precompile", 4)
	_, err := p.MSM(context.Background(), points, scalars)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(shader.Stages())), h.Stats().Compiles)
	assert.NotZero(t, h.Stats().CacheHits)
}

func TestPipelineConcurrentUse(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	points, scalars := testInputs(t, "concurrent", 16)
	want := gnarkMSM(points, scalars)

	var g errgroup.Group
	results := make([]AffinePoint, 4)
	for i := range results {
		i := i
		g.Go(func() error {
			r, err := p.MSM(context.Background(), points, scalars)
			results[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, r := range results {
		assert.True(t, want.Equal(r))
	}
}

func TestPipelineLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Trace, Output: &buf})

	p := newTestPipeline(t, testConfig(), WithLogger(logger))
	points, scalars := testInputs(t, "logging", 2)
	_, err := p.MSM(context.Background(), points, scalars)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "test.cuzk: starting msm")
	assert.Contains(t, out, "stage complete")
}

func TestMSMBackendFailures(t *testing.T) {
	points, scalars := testInputs(t, "failures", 4)

	testCases := []struct {
		name string
		fn   gpu.KernelFunc
		err  error
	}{
		{"kernel error", func(*gpu.Launch, int, int) error { return errors.New("device lost") }, nil},
		{"kernel panic", func(*gpu.Launch, int, int) error { panic("out of bounds") }, gpu.ErrKernelPanic},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHostBackend(EdBLS12377())
			h.Register(string(shader.SMVP), kernelLayouts[shader.SMVP], tc.fn)

			_, err := newTestPipeline(t, testConfig(), WithBackend(h)).MSM(context.Background(), points, scalars)
			require.Error(t, err)
			assert.True(t, gpu.IsCode(err, gpu.CodeDispatch))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestPackageMSM(t *testing.T) {
	if testing.Short() {
		t.Skip("default 16-bit windows")
	}
	points, scalars := testInputs(t, "package", 3)
	got, err := MSM(context.Background(), points, scalars)
	require.NoError(t, err)
	assert.True(t, gnarkMSM(points, scalars).Equal(got))
}
