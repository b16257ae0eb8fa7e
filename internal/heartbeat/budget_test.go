package heartbeat

import (
	"testing"
	"time"
)

func TestAdvisorBudgetCapsHourlyWindow(t *testing.T) {
	b := NewAdvisorBudget(3)
	now := time.Unix(1700000000, 0)
	b.nowFn = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !b.TryAcquire() {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if b.TryAcquire() {
		t.Fatal("fourth acquire should be refused")
	}
	if got := b.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}

	// half an hour on, the window is still full
	now = now.Add(30 * time.Minute)
	if b.TryAcquire() {
		t.Fatal("acquire inside the window should be refused")
	}

	// once the grants age out, the budget frees up
	now = now.Add(31 * time.Minute)
	if got := b.Remaining(); got != 3 {
		t.Fatalf("remaining = %d, want 3 after expiry", got)
	}
	if !b.TryAcquire() {
		t.Fatal("acquire after expiry should succeed")
	}
}

func TestAdvisorBudgetSlidesPerGrant(t *testing.T) {
	b := NewAdvisorBudget(3)
	now := time.Unix(1700000000, 0)
	b.nowFn = func() time.Time { return now }

	b.TryAcquire()
	now = now.Add(10 * time.Minute)
	b.TryAcquire()
	now = now.Add(10 * time.Minute)
	b.TryAcquire()

	// 65 minutes after the first grant only that one has expired
	now = now.Add(45 * time.Minute)
	if got := b.Remaining(); got != 1 {
		t.Fatalf("remaining = %d, want 1", got)
	}
	if !b.TryAcquire() {
		t.Fatal("freed slot should be grantable")
	}
	if b.TryAcquire() {
		t.Fatal("window should be full again")
	}
}

func TestAdvisorBudgetMinimumOfOne(t *testing.T) {
	b := NewAdvisorBudget(0)
	if !b.TryAcquire() {
		t.Fatal("a zero budget still allows one call an hour")
	}
	if b.TryAcquire() {
		t.Fatal("second call should be refused")
	}
}
