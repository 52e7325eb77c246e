// Package gpu defines the compute backend the MSM pipeline dispatches its
// kernels to, and a host implementation that runs them on CPU goroutines.
package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// Access is the mode a buffer is bound with.
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read"
	case ReadWrite:
		return "read_write"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// Buffer is a handle to device memory. Size is in bytes.
type Buffer struct {
	ID    uint64
	Size  int
	Label string
}

// Binding attaches a buffer to the next binding slot of a kernel.
type Binding struct {
	Buffer Buffer
	Access Access
}

// Kernel is the source of one compute stage. Source is complete kernel text;
// Entrypoint names the function to launch.
type Kernel struct {
	Name          string
	Entrypoint    string
	Source        string
	WorkgroupSize int
}

// Grid is a dispatch size in workgroups.
type Grid struct {
	X, Y, Z int
}

// Workgroups is the total workgroup count of g.
func (g Grid) Workgroups() int {
	return max(g.X, 1) * max(g.Y, 1) * max(g.Z, 1)
}

// Backend executes kernels over device buffers. Dispatch is synchronous:
// when it returns every write of the kernel is visible to later calls.
type Backend interface {
	Allocate(size int, label string) (Buffer, error)
	Upload(buf Buffer, data []byte) error
	Dispatch(ctx context.Context, k Kernel, bindings []Binding, grid Grid) error
	Copy(src, dst Buffer, size int) error
	Download(buf Buffer) ([]byte, error)
	Release(buf Buffer) error
}

// Precompiler is implemented by backends that can compile a kernel ahead of
// its first dispatch.
type Precompiler interface {
	Precompile(k Kernel) error
}

// Code classifies backend failures.
type Code int

const (
	CodeCompile Code = iota + 1
	CodeBinding
	CodeDispatch
	CodeBuffer
)

func (c Code) String() string {
	switch c {
	case CodeCompile:
		return "compile"
	case CodeBinding:
		return "binding"
	case CodeDispatch:
		return "dispatch"
	case CodeBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

var (
	ErrUnknownKernel  = errors.New("unknown kernel")
	ErrUnknownBuffer  = errors.New("unknown or released buffer")
	ErrBufferSize     = errors.New("buffer size mismatch")
	ErrBindingLayout  = errors.New("bindings do not match kernel layout")
	ErrBindingAliased = errors.New("buffer bound read-write more than once")
	ErrKernelPanic    = errors.New("kernel panicked")
)

// Error is a backend failure. Every error returned by a Backend should be an
// *Error so callers can tell compile, binding, dispatch and buffer failures
// apart.
type Error struct {
	Code   Code
	Op     string
	Kernel string
	Err    error
}

func (e *Error) Error() string {
	if e.Kernel != "" {
		return fmt.Sprintf("gpu %s error in %s (kernel %s): %v", e.Code, e.Op, e.Kernel, e.Err)
	}
	return fmt.Sprintf("gpu %s error in %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err wraps an *Error with the given code.
func IsCode(err error, code Code) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Code == code
}

// Bytes encodes words as little-endian bytes.
func Bytes(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// Words decodes little-endian bytes into words. A trailing partial word is
// ignored.
func Words(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return out
}
