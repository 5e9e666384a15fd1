package tracking

import "github.com/BearBump/LoadTrack/internal/models"

type entry struct {
	seq    uint64
	sample models.LocationSample
}

// buffer is a FIFO of unsent samples capped at capacity; the oldest entry goes first.
// Not safe for concurrent use.
type buffer struct {
	capacity int
	nextSeq  uint64
	entries  []entry
}

func newBuffer(capacity int) *buffer {
	return &buffer{capacity: capacity}
}

// push appends s and reports how many entries were evicted to make room.
func (b *buffer) push(s models.LocationSample) int {
	b.nextSeq++
	b.entries = append(b.entries, entry{seq: b.nextSeq, sample: s})

	evicted := 0
	if over := len(b.entries) - b.capacity; over > 0 {
		b.entries = append(b.entries[:0:0], b.entries[over:]...)
		evicted = over
	}
	return evicted
}

func (b *buffer) snapshot() []entry {
	out := make([]entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// ack drops every entry up to and including seq.
func (b *buffer) ack(seq uint64) {
	i := 0
	for i < len(b.entries) && b.entries[i].seq <= seq {
		i++
	}
	b.entries = b.entries[i:]
}

func (b *buffer) len() int { return len(b.entries) }
