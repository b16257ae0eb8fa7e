package heartbeat

import "testing"

func TestRollingBufferEviction(t *testing.T) {
	buf := NewRollingBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Push(quietTick(t0Ms + int64(i)))
	}

	if buf.Size() != 3 {
		t.Fatalf("size = %d, want 3", buf.Size())
	}
	newest, ok := buf.At(0)
	if !ok || newest.Timestamp != t0Ms+4 {
		t.Fatalf("At(0) = %d ok=%v, want newest %d", newest.Timestamp, ok, t0Ms+4)
	}
	oldest, ok := buf.At(2)
	if !ok || oldest.Timestamp != t0Ms+2 {
		t.Fatalf("At(2) = %d ok=%v, want oldest survivor %d", oldest.Timestamp, ok, t0Ms+2)
	}
	if _, ok := buf.At(3); ok {
		t.Fatal("At past the oldest entry should not be ok")
	}
	if _, ok := buf.At(-1); ok {
		t.Fatal("negative offset should not be ok")
	}
}

func TestRollingBufferWindow(t *testing.T) {
	buf := NewRollingBuffer(10)
	for i := 0; i < 4; i++ {
		buf.Push(quietTick(t0Ms + int64(i)))
	}

	win := buf.Window(2)
	if len(win) != 2 || win[0].Timestamp != t0Ms+2 || win[1].Timestamp != t0Ms+3 {
		t.Fatalf("Window(2) timestamps = %v", tickStamps(win))
	}
	if got := buf.Window(99); len(got) != 4 {
		t.Fatalf("oversized window returned %d ticks, want all 4", len(got))
	}
	if buf.Window(0) != nil {
		t.Fatal("Window(0) should be nil")
	}

	// the window is a copy, not a view into the buffer
	win[0].MarkPrice = -1
	kept, _ := buf.At(1)
	if kept.MarkPrice == -1 {
		t.Fatal("mutating a window leaked into the buffer")
	}
}

func TestRollingBufferMinimumCapacity(t *testing.T) {
	buf := NewRollingBuffer(0)
	if buf.Capacity() != 1 {
		t.Fatalf("capacity = %d, want 1", buf.Capacity())
	}
	buf.Push(quietTick(t0Ms))
	buf.Push(quietTick(t0Ms + 1))
	if buf.Size() != 1 {
		t.Fatalf("size = %d, want 1", buf.Size())
	}
	only, ok := buf.At(0)
	if !ok || only.Timestamp != t0Ms+1 {
		t.Fatalf("At(0) = %d, want the latest push", only.Timestamp)
	}
}

func tickStamps(ticks []PositionTick) []int64 {
	out := make([]int64, len(ticks))
	for i, tk := range ticks {
		out[i] = tk.Timestamp
	}
	return out
}
