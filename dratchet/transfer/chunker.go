package transfer

import (
	"sort"
)

// DefaultChunkSize keeps a shard plus envelope overhead well inside one
// protocol frame.
const DefaultChunkSize = 256 * 1024

// Chunker splits data into fixed-size chunks.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a new chunker with the specified chunk size.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Count is the number of chunks Split produces for size bytes. Empty input
// still yields one (empty) chunk.
func (c *Chunker) Count(size int) int {
	if size == 0 {
		return 1
	}
	return (size + c.chunkSize - 1) / c.chunkSize
}

// Chunk represents a single data chunk.
type Chunk struct {
	Index int
	Data  []byte
	Hash  []byte
}

// Split splits data into chunks and computes hashes. Chunks alias data.
func (c *Chunker) Split(data []byte) []Chunk {
	chunks := make([]Chunk, 0, c.Count(len(data)))
	for i := 0; i < len(data) || len(chunks) == 0; i += c.chunkSize {
		end := i + c.chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Data:  chunk,
			Hash:  HashChunk(chunk),
		})
	}
	return chunks
}

// Reassemble combines chunks back into the original data.
func Reassemble(chunks []Chunk) []byte {
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	size := 0
	for _, c := range sorted {
		size += len(c.Data)
	}
	out := make([]byte, 0, size)
	for _, c := range sorted {
		out = append(out, c.Data...)
	}
	return out
}
