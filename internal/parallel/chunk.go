package parallel

// MinChunkSize is the smallest number of output points handed to one worker.
// Below this the per-chunk scheduling cost outweighs the weighted sums.
const MinChunkSize = 256

// Chunk is a half-open range [Start, End) of output points.
type Chunk struct {
	Start, End int
}

// Len returns the number of points in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// SplitRange divides [start, end) into at most workers*4 contiguous chunks of
// at least MinChunkSize points. The chunks cover the range exactly once and
// are returned in ascending order. An empty range yields no chunks.
func SplitRange(start, end, workers int) []Chunk {
	n := end - start
	if n <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}

	count := workers * 4
	if maxCount := (n + MinChunkSize - 1) / MinChunkSize; count > maxCount {
		count = maxCount
	}

	size := (n + count - 1) / count
	chunks := make([]Chunk, 0, count)
	for s := start; s < end; s += size {
		e := s + size
		if e > end {
			e = end
		}
		chunks = append(chunks, Chunk{Start: s, End: e})
	}
	return chunks
}
