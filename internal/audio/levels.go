package audio

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// LevelHistoryCapacity is the number of levels kept for the meter.
const LevelHistoryCapacity = 30

const levelSize = 4 // float32

// LevelHistory is a fixed-capacity FIFO of display levels. When full, the
// oldest level is evicted to make room for the newest.
type LevelHistory struct {
	mu       sync.Mutex
	rb       *ringbuffer.RingBuffer
	capacity int
}

// NewLevelHistory creates a history holding up to capacity levels.
// A non-positive capacity uses LevelHistoryCapacity.
func NewLevelHistory(capacity int) *LevelHistory {
	if capacity <= 0 {
		capacity = LevelHistoryCapacity
	}
	return &LevelHistory{
		rb:       ringbuffer.New(capacity * levelSize).SetBlocking(false),
		capacity: capacity,
	}
}

// Push appends a level, clamped to [0,1].
func (h *LevelHistory) Push(level float32) {
	if level != level || level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	var buf [levelSize]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(level))

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rb.Free() < levelSize {
		var drop [levelSize]byte
		if n, err := h.rb.Read(drop[:]); err != nil || n != levelSize {
			h.rb.Reset()
		}
	}
	_, _ = h.rb.Write(buf[:])
}

// Len returns the number of stored levels.
func (h *LevelHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rb.Length() / levelSize
}

// Capacity returns the maximum number of stored levels.
func (h *LevelHistory) Capacity() int { return h.capacity }

// Snapshot returns the stored levels oldest first.
func (h *LevelHistory) Snapshot() []float32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	raw := make([]byte, h.rb.Length())
	if len(raw) == 0 {
		return []float32{}
	}
	n, _ := h.rb.Read(raw)
	raw = raw[:n]
	// Reading drains the ring; put the bytes back unchanged.
	_, _ = h.rb.Write(raw)

	out := make([]float32, 0, len(raw)/levelSize)
	for i := 0; i+levelSize <= len(raw); i += levelSize {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(raw[i:])))
	}
	return out
}

// Reset drops all stored levels.
func (h *LevelHistory) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rb.Reset()
}
