package heartbeat

// RollingBuffer is a fixed-capacity FIFO of ticks for one symbol. It is
// owned by a single Watcher goroutine and needs no locking.
type RollingBuffer struct {
	capacity int
	ticks    []PositionTick
}

func NewRollingBuffer(capacity int) *RollingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingBuffer{capacity: capacity}
}

func (b *RollingBuffer) Push(t PositionTick) {
	b.ticks = append(b.ticks, t)
	if len(b.ticks) > b.capacity {
		// shift instead of reslice so the backing array doesn't pin evicted ticks
		copy(b.ticks, b.ticks[1:])
		b.ticks = b.ticks[:b.capacity]
	}
}

func (b *RollingBuffer) Size() int {
	return len(b.ticks)
}

func (b *RollingBuffer) Capacity() int {
	return b.capacity
}

// At returns the tick offsetFromEnd positions back; 0 is the newest.
func (b *RollingBuffer) At(offsetFromEnd int) (PositionTick, bool) {
	idx := len(b.ticks) - 1 - offsetFromEnd
	if offsetFromEnd < 0 || idx < 0 {
		return PositionTick{}, false
	}
	return b.ticks[idx], true
}

// Window returns a copy of the last n ticks, oldest first.
func (b *RollingBuffer) Window(n int) []PositionTick {
	if n <= 0 {
		return nil
	}
	if n > len(b.ticks) {
		n = len(b.ticks)
	}
	out := make([]PositionTick, n)
	copy(out, b.ticks[len(b.ticks)-n:])
	return out
}
