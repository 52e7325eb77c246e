package cuzk

import (
	"fmt"
	"sort"
)

// SparseMatrix is one window's assignment of aggregated points to buckets.
// Columns are buckets and entry values index the aggregated point array.
// The implementations are *DenseMatrix, *CSRMatrix and *CSCMatrix.
type SparseMatrix interface {
	Dims() (rows, cols int)
	NNZ() int
	ToDense() *DenseMatrix
	ToCSR() *CSRMatrix
	ToCSC() *CSCMatrix

	sparseMatrix()
}

// DenseMatrix stores the list of entry values of every cell, row-major.
// A cell may hold several values.
type DenseMatrix struct {
	Rows, Cols int
	Cells      [][]uint32
}

// CSRMatrix is the row-compressed form. Row r holds the entries
// [RowPtr[r], RowPtr[r+1]).
type CSRMatrix struct {
	Rows, Cols int
	RowPtr     []uint32
	ColIdx     []uint32
	Vals       []uint32
}

// CSCMatrix is the column-compressed form. Column k holds the entries
// [ColPtr[k], ColPtr[k+1]).
type CSCMatrix struct {
	Rows, Cols int
	ColPtr     []uint32
	RowIdx     []uint32
	Vals       []uint32
}

func (*DenseMatrix) sparseMatrix() {}
func (*CSRMatrix) sparseMatrix()   {}
func (*CSCMatrix) sparseMatrix()   {}

// NewDenseMatrix returns an empty rows x cols matrix.
func NewDenseMatrix(rows, cols int) *DenseMatrix {
	return &DenseMatrix{Rows: rows, Cols: cols, Cells: make([][]uint32, rows*cols)}
}

// Set appends val to cell (r, c).
func (m *DenseMatrix) Set(r, c int, val uint32) {
	i := r*m.Cols + c
	m.Cells[i] = append(m.Cells[i], val)
}

// At returns the values held by cell (r, c).
func (m *DenseMatrix) At(r, c int) []uint32 {
	return m.Cells[r*m.Cols+c]
}

func (m *DenseMatrix) Dims() (int, int) { return m.Rows, m.Cols }

func (m *DenseMatrix) NNZ() int {
	n := 0
	for _, cell := range m.Cells {
		n += len(cell)
	}
	return n
}

func (m *DenseMatrix) ToDense() *DenseMatrix { return m }

func (m *DenseMatrix) ToCSR() *CSRMatrix {
	out := &CSRMatrix{Rows: m.Rows, Cols: m.Cols, RowPtr: make([]uint32, m.Rows+1)}
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			for _, v := range m.At(r, c) {
				out.ColIdx = append(out.ColIdx, uint32(c))
				out.Vals = append(out.Vals, v)
			}
		}
		out.RowPtr[r+1] = uint32(len(out.Vals))
	}
	return out
}

func (m *DenseMatrix) ToCSC() *CSCMatrix {
	out := &CSCMatrix{Rows: m.Rows, Cols: m.Cols, ColPtr: make([]uint32, m.Cols+1)}
	for c := 0; c < m.Cols; c++ {
		for r := 0; r < m.Rows; r++ {
			for _, v := range m.At(r, c) {
				out.RowIdx = append(out.RowIdx, uint32(r))
				out.Vals = append(out.Vals, v)
			}
		}
		out.ColPtr[c+1] = uint32(len(out.Vals))
	}
	return out
}

// Equal reports whether m and o hold the same values in every cell,
// ignoring order within a cell.
func (m *DenseMatrix) Equal(o *DenseMatrix) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols {
		return false
	}
	for i := range m.Cells {
		if !sameMultiset(m.Cells[i], o.Cells[i]) {
			return false
		}
	}
	return true
}

func sameMultiset(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]uint32(nil), a...)
	y := append([]uint32(nil), b...)
	sort.Slice(x, func(i, j int) bool { return x[i] < x[j] })
	sort.Slice(y, func(i, j int) bool { return y[i] < y[j] })
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func (m *CSRMatrix) Dims() (int, int) { return m.Rows, m.Cols }
func (m *CSRMatrix) NNZ() int         { return int(m.RowPtr[m.Rows]) }

func (m *CSRMatrix) ToDense() *DenseMatrix {
	out := NewDenseMatrix(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		for e := m.RowPtr[r]; e < m.RowPtr[r+1]; e++ {
			out.Set(r, int(m.ColIdx[e]), m.Vals[e])
		}
	}
	return out
}

func (m *CSRMatrix) ToCSR() *CSRMatrix { return m }

// ToCSC transposes m with a counting sort over columns.
func (m *CSRMatrix) ToCSC() *CSCMatrix {
	nnz := m.NNZ()
	out := &CSCMatrix{
		Rows:   m.Rows,
		Cols:   m.Cols,
		ColPtr: make([]uint32, m.Cols+1),
		RowIdx: make([]uint32, nnz),
		Vals:   make([]uint32, nnz),
	}
	transposeCSR(m.RowPtr, m.ColIdx, m.Vals, out.ColPtr, out.RowIdx, out.Vals, make([]uint32, m.Cols))
	return out
}

// Validate checks the structural invariants of m.
func (m *CSRMatrix) Validate() error {
	if len(m.RowPtr) != m.Rows+1 || m.RowPtr[0] != 0 {
		return fmt.Errorf("row pointer has %d entries, want %d starting at 0", len(m.RowPtr), m.Rows+1)
	}
	for r := 0; r < m.Rows; r++ {
		if m.RowPtr[r] > m.RowPtr[r+1] {
			return fmt.Errorf("row pointer decreases at row %d", r)
		}
	}
	if int(m.RowPtr[m.Rows]) > len(m.ColIdx) || len(m.ColIdx) != len(m.Vals) {
		return fmt.Errorf("row pointer exceeds %d entries", len(m.ColIdx))
	}
	for i, c := range m.ColIdx[:m.RowPtr[m.Rows]] {
		if int(c) >= m.Cols {
			return fmt.Errorf("entry %d has column %d >= %d", i, c, m.Cols)
		}
	}
	return nil
}

func (m *CSCMatrix) Dims() (int, int) { return m.Rows, m.Cols }
func (m *CSCMatrix) NNZ() int         { return int(m.ColPtr[m.Cols]) }

func (m *CSCMatrix) ToDense() *DenseMatrix {
	out := NewDenseMatrix(m.Rows, m.Cols)
	for c := 0; c < m.Cols; c++ {
		for e := m.ColPtr[c]; e < m.ColPtr[c+1]; e++ {
			out.Set(int(m.RowIdx[e]), c, m.Vals[e])
		}
	}
	return out
}

// ToCSR transposes m back to row order with a counting sort over rows.
func (m *CSCMatrix) ToCSR() *CSRMatrix {
	nnz := m.NNZ()
	out := &CSRMatrix{
		Rows:   m.Rows,
		Cols:   m.Cols,
		RowPtr: make([]uint32, m.Rows+1),
		ColIdx: make([]uint32, nnz),
		Vals:   make([]uint32, nnz),
	}
	// a CSC matrix is the CSR form of the transpose
	transposeCSR(m.ColPtr, m.RowIdx, m.Vals, out.RowPtr, out.ColIdx, out.Vals, make([]uint32, m.Rows))
	return out
}

func (m *CSCMatrix) ToCSC() *CSCMatrix { return m }

// Column returns the values assigned to column c.
func (m *CSCMatrix) Column(c int) []uint32 {
	return m.Vals[m.ColPtr[c]:m.ColPtr[c+1]]
}
