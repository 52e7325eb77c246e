package cuzk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is returned by NewPipeline for parameters that cannot
// describe a complete scalar decomposition.
var ErrInvalidConfig = errors.New("invalid pipeline configuration")

const (
	// MaxInputSize is the largest supported number of points.
	MaxInputSize = 1 << 20

	// ScalarWords is the number of u32 words a scalar occupies on the device.
	ScalarWords = 8

	maxChunkSize = 20
)

// ReductionStrategy selects how the buckets of one window collapse to a
// single point.
type ReductionStrategy int

const (
	// ReductionAuto uses the running sum for small bucket arrays and the
	// tree otherwise.
	ReductionAuto ReductionStrategy = iota
	// ReductionTree scales every bucket by its index and sums the buckets by
	// pairwise halving.
	ReductionTree
	// ReductionRunningSum walks the buckets from the top keeping a running
	// and a total sum in a single invocation.
	ReductionRunningSum
)

var reductionNames = map[ReductionStrategy]string{
	ReductionAuto:       "auto",
	ReductionTree:       "tree",
	ReductionRunningSum: "running-sum",
}

// String returns the configuration name of r.
func (r ReductionStrategy) String() string {
	if s, ok := reductionNames[r]; ok {
		return s
	}
	return fmt.Sprintf("ReductionStrategy(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r ReductionStrategy) MarshalText() ([]byte, error) {
	if _, ok := reductionNames[r]; !ok {
		return nil, fmt.Errorf("%w: unknown reduction strategy %d", ErrInvalidConfig, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ReductionStrategy) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for k, v := range reductionNames {
		if v == s {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("%w: unknown reduction strategy %q", ErrInvalidConfig, s)
}

// Config holds the tunable parameters of a Pipeline. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// ChunkSize is the window width in bits. There are 2^ChunkSize buckets.
	ChunkSize uint `yaml:"chunk_size"`

	// ScalarBits is the scalar width covered by the decomposition. It must be
	// a multiple of ChunkSize and at most 256.
	ScalarBits uint `yaml:"scalar_bits"`

	// NumRowsPerSubtask is the number of CSR row blocks per window.
	NumRowsPerSubtask int `yaml:"num_rows_per_subtask"`

	Reduction           ReductionStrategy `yaml:"reduction"`
	RunningSumThreshold int               `yaml:"running_sum_threshold"`

	// MaxInputSize caps the number of points accepted by MSM.
	MaxInputSize int `yaml:"max_input_size"`

	// WorkgroupSize is the invocation count of one workgroup in parallel
	// stages.
	WorkgroupSize int `yaml:"workgroup_size"`

	// Debug runs a CPU cross-check after every stage.
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the parameters used by the package-level MSM.
func DefaultConfig() Config {
	return Config{
		ChunkSize:           16,
		ScalarBits:          256,
		NumRowsPerSubtask:   256,
		Reduction:           ReductionAuto,
		RunningSumThreshold: 256,
		MaxInputSize:        MaxInputSize,
		WorkgroupSize:       64,
	}
}

// Validate checks c for internal consistency.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize == 0 || c.ChunkSize > maxChunkSize:
		return fmt.Errorf("%w: chunk size %d not in [1, %d]", ErrInvalidConfig, c.ChunkSize, maxChunkSize)
	case c.ScalarBits == 0 || c.ScalarBits > 32*ScalarWords:
		return fmt.Errorf("%w: scalar bits %d not in [1, %d]", ErrInvalidConfig, c.ScalarBits, 32*ScalarWords)
	case c.ScalarBits%c.ChunkSize != 0:
		return fmt.Errorf("%w: %d subtasks of %d bits do not cover %d scalar bits",
			ErrInvalidConfig, c.ScalarBits/c.ChunkSize, c.ChunkSize, c.ScalarBits)
	case c.NumRowsPerSubtask <= 0 || c.NumRowsPerSubtask > MaxInputSize:
		return fmt.Errorf("%w: rows per subtask %d not in [1, %d]", ErrInvalidConfig, c.NumRowsPerSubtask, MaxInputSize)
	case c.MaxInputSize <= 0 || c.MaxInputSize > MaxInputSize:
		return fmt.Errorf("%w: max input size %d not in [1, %d]", ErrInvalidConfig, c.MaxInputSize, MaxInputSize)
	case c.WorkgroupSize <= 0 || c.WorkgroupSize&(c.WorkgroupSize-1) != 0:
		return fmt.Errorf("%w: workgroup size %d is not a power of two", ErrInvalidConfig, c.WorkgroupSize)
	case c.RunningSumThreshold < 0:
		return fmt.Errorf("%w: negative running sum threshold", ErrInvalidConfig)
	}
	if _, ok := reductionNames[c.Reduction]; !ok {
		return fmt.Errorf("%w: unknown reduction strategy %d", ErrInvalidConfig, int(c.Reduction))
	}
	return nil
}

// NumSubtasks is the number of windows each scalar is split into.
func (c Config) NumSubtasks() int {
	return int(c.ScalarBits / c.ChunkSize)
}

// NumBuckets is 2^ChunkSize.
func (c Config) NumBuckets() int {
	return 1 << c.ChunkSize
}

// UseRunningSum reports whether bucket reduction runs the serial running sum.
func (c Config) UseRunningSum() bool {
	switch c.Reduction {
	case ReductionRunningSum:
		return true
	case ReductionTree:
		return false
	default:
		return c.NumBuckets() <= c.RunningSumThreshold
	}
}

// MaxClusterSize returns the cluster size bound used for n input points.
func MaxClusterSize(n int) int {
	switch {
	case n < 1<<16:
		return 4
	case n < 1<<20:
		return 3
	default:
		return 2
	}
}
