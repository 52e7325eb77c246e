package shader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limbs(n int, v uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v + uint32(i)
	}
	return out
}

func testParams() Params {
	return Params{
		NumWords:      20,
		WordSize:      13,
		Mask:          1<<13 - 1,
		N0:            8191,
		PLimbs:        limbs(20, 1),
		R2Limbs:       limbs(20, 100),
		OneLimbs:      limbs(20, 200),
		DLimbs:        limbs(20, 300),
		AIsMinusOne:   true,
		ChunkSize:     16,
		NumSubtasks:   16,
		WorkgroupSize: 64,
	}
}

// fieldStages are the kernels that include the field arithmetic partials.
var fieldStages = map[Stage]bool{
	Convert:         true,
	PreaggStage1:    true,
	SMVP:            true,
	BucketScale:     true,
	BucketReduction: true,
	RunningSum:      true,
}

func TestManagerRendersEveryStage(t *testing.T) {
	m, err := NewManager(testParams())
	require.NoError(t, err)
	assert.Equal(t, "main", m.Entrypoint())

	for _, s := range Stages() {
		t.Run(string(s), func(t *testing.T) {
			src, err := m.Source(s)
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(src, "// kernel: "+string(s)+"\n"))
			assert.Contains(t, src, "fn main(")
			assert.NotContains(t, src, "{{")
			assert.NotContains(t, src, "}}")
			assert.NotContains(t, src, "&amp;")
			if fieldStages[s] {
				assert.Contains(t, src, "const NUM_WORDS = 20u;")
				assert.Contains(t, src, "fn montgomery_product(")
			} else {
				assert.NotContains(t, src, "fn montgomery_product(")
			}
		})
	}
}

func TestManagerDeterministic(t *testing.T) {
	m1, err := NewManager(testParams())
	require.NoError(t, err)
	m2, err := NewManager(testParams())
	require.NoError(t, err)

	for _, s := range Stages() {
		a, err := m1.Source(s)
		require.NoError(t, err)
		b, err := m2.Source(s)
		require.NoError(t, err)
		assert.Equal(t, a, b, "stage %s", s)

		again, err := m1.Source(s)
		require.NoError(t, err)
		assert.Equal(t, a, again)
	}
}

func TestManagerParamsChangeSource(t *testing.T) {
	p := testParams()
	m1, err := NewManager(p)
	require.NoError(t, err)

	p.ChunkSize = 8
	m2, err := NewManager(p)
	require.NoError(t, err)

	a, err := m1.Source(CSRPrecompute)
	require.NoError(t, err)
	b, err := m2.Source(CSRPrecompute)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Contains(t, b, "const NUM_BUCKETS = 256u;")
}

func TestManagerGenericA(t *testing.T) {
	p := testParams()
	p.AIsMinusOne = false
	p.ALimbs = limbs(20, 400)

	m, err := NewManager(p)
	require.NoError(t, err)
	src, err := m.Source(SMVP)
	require.NoError(t, err)
	assert.Contains(t, src, "a.limbs[0] = 400u;")
	assert.NotContains(t, src, "return field_neg(x);")
}

func TestManagerRejects(t *testing.T) {
	p := testParams()
	p.DLimbs = limbs(19, 0)
	_, err := NewManager(p)
	assert.Error(t, err)

	p = testParams()
	p.AIsMinusOne = false
	_, err = NewManager(p)
	assert.Error(t, err)

	p = testParams()
	p.WorkgroupSize = 0
	_, err = NewManager(p)
	assert.Error(t, err)

	m, err := NewManager(testParams())
	require.NoError(t, err)
	_, err = m.Source(Stage("fft"))
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestGenMontProduct(t *testing.T) {
	src := GenMontProduct(3, 13, 1<<13-1, 7)
	assert.True(t, strings.HasPrefix(src, "fn montgomery_product("))
	assert.Equal(t, 3, strings.Count(src, "qi = (7u * (t & 8191u)) & 8191u;"))
	assert.Equal(t, 3, strings.Count(src, "s.limbs[2] = 0u;"))
	assert.Contains(t, src, "s.limbs[1] = s.limbs[2] + (*x).limbs[2] * (*y).limbs[2] + qi * p.limbs[2];")
	assert.Contains(t, src, "return conditional_reduce(&s, &p);")

	single := GenMontProduct(1, 13, 1<<13-1, 7)
	assert.Contains(t, single, "s.limbs[0] = c;")
	assert.NotContains(t, single, "s.limbs[1]")
}

func TestLimbAssignments(t *testing.T) {
	assert.Equal(t, "    p.limbs[0] = 5u;\n    p.limbs[1] = 6u;", limbAssignments("p", []uint32{5, 6}))
}
