package cuzk

// computeRowPtr splits the numClusters compacted entries of a window into
// numRows blocks of ceil(n/numRows) entries. rowPtr must hold numRows+1
// entries.
func computeRowPtr(rowPtr []uint32, n, numClusters, numRows int) {
	rowSize := (n + numRows - 1) / numRows
	for r := 0; r <= numRows; r++ {
		v := r * rowSize
		if v > numClusters {
			v = numClusters
		}
		rowPtr[r] = uint32(v)
	}
}

// transposeCSR converts the CSR structure (rowPtr, colIdx, vals) into CSC
// with a counting sort over columns. A nil vals uses the entry position as the
// value. colPtr must hold one more entry than curr, which is scratch space of
// one word per column.
func transposeCSR(rowPtr, colIdx, vals, colPtr, rowIdx, outVals, curr []uint32) {
	for i := range colPtr {
		colPtr[i] = 0
	}
	numRows := len(rowPtr) - 1
	nnz := rowPtr[numRows]

	for e := uint32(0); e < nnz; e++ {
		colPtr[colIdx[e]+1]++
	}
	for k := 1; k < len(colPtr); k++ {
		colPtr[k] += colPtr[k-1]
	}
	copy(curr, colPtr[:len(colPtr)-1])

	for r := 0; r < numRows; r++ {
		for e := rowPtr[r]; e < rowPtr[r+1]; e++ {
			c := colIdx[e]
			loc := curr[c]
			curr[c]++
			rowIdx[loc] = uint32(r)
			if vals == nil {
				outVals[loc] = e
			} else {
				outVals[loc] = vals[e]
			}
		}
	}
}

// WindowCSR builds the CSR matrix of one window from its compacted chunk
// values: entry j sits in the row block covering j, in column newChunks[j],
// with value j.
func WindowCSR(newChunks []uint32, n, numRows, numBuckets int) *CSRMatrix {
	nc := len(newChunks)
	m := &CSRMatrix{
		Rows:   numRows,
		Cols:   numBuckets,
		RowPtr: make([]uint32, numRows+1),
		ColIdx: append([]uint32(nil), newChunks...),
		Vals:   make([]uint32, nc),
	}
	computeRowPtr(m.RowPtr, n, nc, numRows)
	for j := range m.Vals {
		m.Vals[j] = uint32(j)
	}
	return m
}
