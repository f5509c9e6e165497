package transfer

import (
	"errors"
	"fmt"
)

// ErrInvalidChunkSize is returned for a non-positive chunk size or a
// negative alignment.
var ErrInvalidChunkSize = errors.New("transfer: invalid chunk size")

// Chunk is one bounded slice of a payload.
//
// Data is a view into the source blob, not a copy. The blob must not be
// modified while the chunk sequence is in use.
type Chunk struct {
	Index   int
	Address uint64
	Data    []byte
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int { return len(c.Data) }

// End returns the address one past the last byte of the chunk.
func (c Chunk) End() uint64 { return c.Address + uint64(len(c.Data)) }

// String implements fmt.Stringer.
func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d @0x%x len=%d", c.Index, c.Address, len(c.Data))
}

// Split cuts blob into chunks of at most maxChunk bytes, addressed from
// start. When alignment is positive no chunk crosses a multiple of
// alignment, measured from start; an alignment that is a multiple of
// maxChunk therefore yields exactly ceil(len(blob)/maxChunk) chunks.
//
// The result is contiguous, non-overlapping and covers blob exactly. An
// empty blob yields no chunks.
func Split(blob []byte, start uint64, alignment, maxChunk int) ([]Chunk, error) {
	if maxChunk <= 0 {
		return nil, fmt.Errorf("%w: max chunk %d", ErrInvalidChunkSize, maxChunk)
	}
	if alignment < 0 {
		return nil, fmt.Errorf("%w: alignment %d", ErrInvalidChunkSize, alignment)
	}

	chunks := make([]Chunk, 0, (len(blob)+maxChunk-1)/maxChunk)
	for offset := 0; offset < len(blob); {
		size := min(maxChunk, len(blob)-offset)
		if alignment > 0 {
			if toBoundary := alignment - offset%alignment; toBoundary < size {
				size = toBoundary
			}
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Address: start + uint64(offset),
			Data:    blob[offset : offset+size : offset+size],
		})
		offset += size
	}
	return chunks, nil
}
