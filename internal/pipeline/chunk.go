package pipeline

// Chunk is one rectangular spatial slab of the grid. Chunks partition the
// grid exactly: every cell belongs to one chunk.
type Chunk struct {
	Row0, Col0 int
	Rows, Cols int
}

// SplitGrid partitions rows x cols into chunks of at most chunkRows x
// chunkCols. Edge chunks shrink to fit.
func SplitGrid(rows, cols, chunkRows, chunkCols int) []Chunk {
	if chunkRows <= 0 {
		chunkRows = rows
	}
	if chunkCols <= 0 {
		chunkCols = cols
	}
	var chunks []Chunk
	for r0 := 0; r0 < rows; r0 += chunkRows {
		nr := chunkRows
		if r0+nr > rows {
			nr = rows - r0
		}
		for c0 := 0; c0 < cols; c0 += chunkCols {
			nc := chunkCols
			if c0+nc > cols {
				nc = cols - c0
			}
			chunks = append(chunks, Chunk{Row0: r0, Col0: c0, Rows: nr, Cols: nc})
		}
	}
	return chunks
}
