package cuzk

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuzk.mleku.dev/gpu"
	"cuzk.mleku.dev/shader"
)

func debugConfig() Config {
	cfg := testConfig()
	cfg.Debug = true
	return cfg
}

func TestDebugPipelinePasses(t *testing.T) {
	points, scalars := testInputs(t, "debug", 32)
	for _, r := range []ReductionStrategy{ReductionTree, ReductionRunningSum} {
		t.Run(r.String(), func(t *testing.T) {
			cfg := debugConfig()
			cfg.Reduction = r
			got, err := newTestPipeline(t, cfg).MSM(context.Background(), points, scalars)
			require.NoError(t, err)
			assert.True(t, gnarkMSM(points, scalars).Equal(got))
		})
	}
}

// identityKernel stores the identity into every point slot of the buffer
// bound last, whatever the stage computes.
func identityKernel(c *Curve) gpu.KernelFunc {
	return func(l *gpu.Launch, lo, hi int) error {
		out := l.Buffers[len(l.Buffers)-1]
		var id Point
		c.Identity(&id)
		pw := c.PointWords()
		for i := lo; i < min(hi, len(out)/pw); i++ {
			c.StorePoint(out[i*pw:(i+1)*pw], &id)
		}
		return nil
	}
}

func TestDebugPipelineDetectsFaults(t *testing.T) {
	c := EdBLS12377()
	points, scalars := testInputs(t, "faults", 16)

	testCases := []struct {
		stage  shader.Stage
		fn     gpu.KernelFunc
		config func(*Config)
	}{
		{shader.PreaggStage1, identityKernel(c), nil},
		{shader.SMVP, identityKernel(c), nil},
		{shader.PreaggStage2, func(l *gpu.Launch, lo, hi int) error {
			out := l.Buffers[len(l.Buffers)-1]
			for i := lo; i < min(hi, len(out)); i++ {
				out[i] = 1
			}
			return nil
		}, nil},
		{shader.RunningSum, identityKernel(c), func(cfg *Config) { cfg.Reduction = ReductionRunningSum }},
		{shader.BucketScale, func(*gpu.Launch, int, int) error { return nil }, func(cfg *Config) { cfg.Reduction = ReductionTree }},
	}
	for _, tc := range testCases {
		t.Run(string(tc.stage), func(t *testing.T) {
			cfg := debugConfig()
			if tc.config != nil {
				tc.config(&cfg)
			}
			h := NewHostBackend(c)
			h.Register(string(tc.stage), kernelLayouts[tc.stage], tc.fn)

			_, err := newTestPipeline(t, cfg, WithBackend(h)).MSM(context.Background(), points, scalars)
			require.ErrorIs(t, err, ErrStageMismatch)

			var sm *StageMismatchError
			require.True(t, errors.As(err, &sm))
			assert.NotEmpty(t, sm.Errs.Errors)
			if tc.stage != shader.RunningSum {
				assert.Equal(t, string(tc.stage), sm.Stage)
				assert.Equal(t, 0, sm.Window)
			}
		})
	}
}

func TestStageMismatchError(t *testing.T) {
	inner := errors.New("bucket 3 differs")
	err := error(&StageMismatchError{Stage: "smvp", Window: 2, Errs: multierror.Append(nil, inner)})

	assert.ErrorIs(t, err, ErrStageMismatch)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "stage smvp window 2")
	assert.NoError(t, mismatch("smvp", 0, nil))
}
