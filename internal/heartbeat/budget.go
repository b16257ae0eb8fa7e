package heartbeat

import (
	"sync"
	"time"
)

// AdvisorBudget caps advisor invocations over a sliding window. Grants are
// tracked individually so the cap holds over any window-sized span, not just
// bucket refill boundaries. It is the only state shared across Watchers.
type AdvisorBudget struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	grants []time.Time
	nowFn  func() time.Time
}

func NewAdvisorBudget(maxPerHour int) *AdvisorBudget {
	if maxPerHour < 1 {
		maxPerHour = 1
	}
	return &AdvisorBudget{
		max:    maxPerHour,
		window: time.Hour,
		nowFn:  time.Now,
	}
}

// TryAcquire consumes one advisor call if the window has room.
func (b *AdvisorBudget) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.nowFn()
	b.pruneLocked(now)
	if len(b.grants) >= b.max {
		return false
	}
	b.grants = append(b.grants, now)
	return true
}

// Remaining reports how many calls the current window still allows.
func (b *AdvisorBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.nowFn())
	return b.max - len(b.grants)
}

func (b *AdvisorBudget) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for ; i < len(b.grants); i++ {
		if b.grants[i].After(cutoff) {
			break
		}
	}
	b.grants = b.grants[i:]
}
