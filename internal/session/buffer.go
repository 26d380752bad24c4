package session

import (
	"sort"

	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// SequenceRange is a closed interval of chunk sequences.
type SequenceRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// ChunkBuffer holds a session's not-yet-finalized chunks keyed by sequence.
// Re-delivery of a sequence replaces the stored chunk, so client retries and
// async transcription updates are both idempotent. The buffer is not safe for
// concurrent use; the coordinator serializes all access through the owning
// session's lock.
type ChunkBuffer struct {
	limit  int
	chunks map[int64]transcribe.Chunk
}

// NewChunkBuffer creates a buffer holding at most limit chunks. A limit of
// zero or less means unbounded.
func NewChunkBuffer(limit int) *ChunkBuffer {
	return &ChunkBuffer{
		limit:  limit,
		chunks: make(map[int64]transcribe.Chunk),
	}
}

// Put stores a chunk, replacing any existing chunk with the same sequence.
// Returns ErrBufferFull only for a chunk that would grow the buffer past its
// ceiling; replacements always succeed.
func (b *ChunkBuffer) Put(c transcribe.Chunk) error {
	if _, exists := b.chunks[c.Sequence]; !exists && b.limit > 0 && len(b.chunks) >= b.limit {
		return ErrBufferFull
	}
	b.chunks[c.Sequence] = c
	return nil
}

// Get returns the chunk stored at sequence, if any.
func (b *ChunkBuffer) Get(sequence int64) (transcribe.Chunk, bool) {
	c, ok := b.chunks[sequence]
	return c, ok
}

// ApplyResult fills in the transcription result for a buffered chunk. The
// chunk may have been replaced by a re-delivery while transcription was in
// flight; the result is applied to whatever is stored now, which is the
// latest delivery. Returns false if the sequence is no longer buffered.
func (b *ChunkBuffer) ApplyResult(sequence int64, res transcribe.Result) bool {
	c, ok := b.chunks[sequence]
	if !ok {
		return false
	}
	c.Text = res.Text
	c.Confidence = res.Confidence
	if res.Speaker != "" {
		c.Speaker = res.Speaker
	}
	b.chunks[sequence] = c
	return true
}

// Ordered returns a sequence-sorted snapshot of the buffered chunks.
// Sequence order, not arrival order, is the finalization order.
func (b *ChunkBuffer) Ordered() []transcribe.Chunk {
	out := make([]transcribe.Chunk, 0, len(b.chunks))
	for _, c := range b.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Len returns the number of buffered chunks.
func (b *ChunkBuffer) Len() int {
	return len(b.chunks)
}

// ContiguousThrough returns the highest sequence S such that every sequence
// from zero through S is present, or -1 when sequence zero has not arrived.
// Sessions number chunks from zero, so anchoring at zero surfaces a lost
// prefix that anchoring at the lowest delivered sequence would hide. Chunks
// beyond a gap are held but not acknowledged as contiguous.
func (b *ChunkBuffer) ContiguousThrough() int64 {
	high := int64(-1)
	for {
		if _, ok := b.chunks[high+1]; !ok {
			return high
		}
		high++
	}
}

// MissingRanges reports the sequence gaps between zero and the highest
// delivered chunk, so a client can re-send only what was lost. A missing
// prefix is reported like any other gap.
func (b *ChunkBuffer) MissingRanges() []SequenceRange {
	if len(b.chunks) == 0 {
		return nil
	}

	var gaps []SequenceRange
	next := int64(0)
	for _, c := range b.Ordered() {
		if c.Sequence > next {
			gaps = append(gaps, SequenceRange{From: next, To: c.Sequence - 1})
		}
		next = c.Sequence + 1
	}
	return gaps
}
