package heartbeat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/YoByron/Bijaz/internal/adapters"
	"github.com/YoByron/Bijaz/internal/journal"
)

type watcherFixture struct {
	provider *adapters.MockProvider
	exec     *adapters.MockExecutor
	llm      *adapters.MockLLM
	journal  *recordingJournal
	notifier *recordingNotifier
	budget   *AdvisorBudget
	cfg      Config
}

func newWatcherFixture() *watcherFixture {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour // tests drive ticks by hand
	cfg.SupervisorInterval = time.Hour
	cfg.Advisor.RetryPause = 5 * time.Millisecond

	fx := &watcherFixture{
		provider: adapters.NewMockProvider(),
		llm:      adapters.NewMockLLM(),
		journal:  &recordingJournal{},
		notifier: &recordingNotifier{},
		budget:   NewAdvisorBudget(cfg.Advisor.MaxCallsPerHour),
		cfg:      cfg,
	}
	fx.exec = adapters.NewMockExecutor(fx.provider)
	return fx
}

func (fx *watcherFixture) watcher(symbol string) *Watcher {
	advisor := NewAdvisor(fx.llm, fx.exec, fx.budget, fx.journal, fx.notifier, fx.cfg.Advisor, fx.cfg.Breakers)
	return NewWatcher(symbol, fx.cfg, WatcherDeps{
		Provider: fx.provider,
		Orders:   fx.exec,
		Advisor:  advisor,
		Context:  adapters.StaticContext{},
		Journal:  fx.journal,
		Notifier: fx.notifier,
	})
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcherFirstTickReviewsNewPosition(t *testing.T) {
	fx := newWatcherFixture()
	w := fx.watcher("ETHUSDT")

	if done := w.tick(context.Background()); done {
		t.Fatal("a healthy tick should keep the watcher alive")
	}
	if fx.llm.Calls() != 1 {
		t.Fatalf("llm calls = %d, want 1", fx.llm.Calls())
	}
	if w.state.LastAdvisorCheckMs == 0 {
		t.Fatal("a completed review must move the baseline")
	}

	recs := fx.journal.records()
	if len(recs) != 1 || recs[0].Outcome != journal.OutcomeOK {
		t.Fatalf("journal = %+v", recs)
	}
	if !containsString(recs[0].Triggers, TriggerPositionOpened) {
		t.Fatalf("triggers = %v, want position_opened", recs[0].Triggers)
	}

	msgs := fx.llm.LastMessages()
	if len(msgs) != 2 || msgs[0].Role != "system" {
		t.Fatalf("llm conversation = %+v, want system preamble plus user turn", msgs)
	}
	if !strings.Contains(msgs[1].Content, TriggerPositionOpened) {
		t.Fatal("the user turn should name the fired triggers")
	}
}

func TestWatcherQuietTickSkipsAdvisor(t *testing.T) {
	fx := newWatcherFixture()
	w := fx.watcher("ETHUSDT")
	w.tick(context.Background())
	calls := fx.llm.Calls()

	if done := w.tick(context.Background()); done {
		t.Fatal("a quiet tick should keep the watcher alive")
	}
	if fx.llm.Calls() != calls {
		t.Fatalf("a quiet tick consulted the advisor (%d -> %d calls)", calls, fx.llm.Calls())
	}
}

func TestWatcherLiquidationBreakerClosesWithoutAdvisor(t *testing.T) {
	fx := newWatcherFixture()
	// mark has crashed to within 1% of the liquidation price
	fx.provider.SetPosition(adapters.PositionInfo{
		Symbol:           "ETHUSDT",
		Side:             "long",
		Size:             5,
		EntryPrice:       2080,
		UnrealizedPnl:    -3050,
		LiquidationPrice: 1456,
		MarginUsed:       1040,
		Leverage:         10,
	})
	fx.provider.SetMark("ETHUSDT", 1470, 0.00003)
	w := fx.watcher("ETHUSDT")

	if done := w.tick(context.Background()); !done {
		t.Fatal("a breaker tick must stop the watcher")
	}
	if w.State() != StateClosing {
		t.Fatalf("state = %s, want closing", w.State())
	}
	if fx.llm.Calls() != 0 {
		t.Fatalf("breaker path consulted the llm %d times", fx.llm.Calls())
	}

	execd := fx.exec.Executed()
	if len(execd) != 1 || execd[0].Method != "close" {
		t.Fatalf("executed = %+v, want one close", execd)
	}
	if !strings.Contains(execd[0].Reason, "circuit breaker") {
		t.Fatalf("close reason = %q", execd[0].Reason)
	}

	recs := fx.journal.records()
	if len(recs) != 1 || recs[0].Kind != journal.KindCircuitBreaker || recs[0].Outcome != journal.OutcomeOK {
		t.Fatalf("journal = %+v", recs)
	}
	if recs[0].Decision == nil || !strings.Contains(recs[0].Decision.Reason, "liquidation_proximity") {
		t.Fatalf("journaled reason = %+v", recs[0].Decision)
	}

	positions, err := fx.provider.ListOpenPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range positions {
		if p.Symbol == "ETHUSDT" {
			t.Fatal("position still open after the breaker close")
		}
	}
	msgs := fx.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "CIRCUIT BREAKER") {
		t.Fatalf("notifications = %v", msgs)
	}
}

func TestWatcherLossBreaker(t *testing.T) {
	fx := newWatcherFixture()
	fx.provider.SetPosition(adapters.PositionInfo{
		Symbol:           "ETHUSDT",
		Side:             "long",
		Size:             5,
		EntryPrice:       2080,
		UnrealizedPnl:    -520, // -5.2% of the 10k account
		LiquidationPrice: 1456,
		MarginUsed:       1040,
		Leverage:         10,
	})
	w := fx.watcher("ETHUSDT")

	if done := w.tick(context.Background()); !done {
		t.Fatal("loss breaker must stop the watcher")
	}
	recs := fx.journal.records()
	if len(recs) != 1 || recs[0].Kind != journal.KindCircuitBreaker {
		t.Fatalf("journal = %+v", recs)
	}
	if !strings.Contains(recs[0].Decision.Reason, "pnl_pct_of_equity") {
		t.Fatalf("reason = %q", recs[0].Decision.Reason)
	}
}

func TestWatcherBreakerCloseFailureStillJournals(t *testing.T) {
	fx := newWatcherFixture()
	fx.provider.SetPosition(adapters.PositionInfo{
		Symbol:           "ETHUSDT",
		Side:             "long",
		Size:             5,
		EntryPrice:       2080,
		UnrealizedPnl:    -3050,
		LiquidationPrice: 1456,
	})
	fx.provider.SetMark("ETHUSDT", 1470, 0.00003)
	fx.exec.FailNextOrder("close", 2, nil) // first attempt and its retry both fail
	w := fx.watcher("ETHUSDT")

	if done := w.tick(context.Background()); !done {
		t.Fatal("breaker tick must stop the watcher even when the close fails")
	}
	if n := len(fx.exec.Executed()); n != 2 {
		t.Fatalf("close attempts = %d, want retry once", n)
	}
	recs := fx.journal.records()
	if len(recs) != 1 || recs[0].Outcome != journal.OutcomeFailed {
		t.Fatalf("journal = %+v", recs)
	}
	msgs := fx.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "FAILED") {
		t.Fatalf("notifications = %v", msgs)
	}
}

func TestWatcherPositionClosedRaisesInfo(t *testing.T) {
	fx := newWatcherFixture()
	w := fx.watcher("ETHUSDT")
	w.tick(context.Background())
	fx.provider.RemovePosition("ETHUSDT")

	if done := w.tick(context.Background()); !done {
		t.Fatal("a closed position must stop the watcher")
	}
	if w.State() != StateIdle {
		t.Fatalf("state = %s, want idle", w.State())
	}

	recs := fx.journal.records()
	last := recs[len(recs)-1]
	if last.Outcome != journal.OutcomeInfo || !containsString(last.Triggers, TriggerPositionClosed) {
		t.Fatalf("last record = %+v", last)
	}
	if last.Snapshot == nil {
		t.Fatal("the closed record should carry the last observed snapshot")
	}
	msgs := fx.notifier.messages()
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1], "position closed") {
		t.Fatalf("notifications = %v", msgs)
	}
}

func TestWatcherSnapshotFailureStreak(t *testing.T) {
	fx := newWatcherFixture()
	w := fx.watcher("ETHUSDT")
	fx.provider.FailNext("list", 20)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		if done := w.tick(ctx); done {
			t.Fatalf("tick %d stopped the watcher below the fatal threshold", i)
		}
	}

	// one warning at the threshold, not one per failure
	warnings := 0
	for _, m := range fx.notifier.messages() {
		if strings.Contains(m, "snapshot_failing") {
			warnings++
		}
	}
	if warnings != 1 {
		t.Fatalf("warnings = %d, want 1", warnings)
	}

	if done := w.tick(ctx); !done {
		t.Fatal("the 11th consecutive failure should stop the watcher")
	}
	if w.State() != StateIdle {
		t.Fatalf("state = %s, want idle so the supervisor can respawn", w.State())
	}
	msgs := fx.notifier.messages()
	if !strings.Contains(msgs[len(msgs)-1], "gave up") {
		t.Fatalf("notifications = %v", msgs)
	}
}

func TestWatcherSnapshotRecoveryResetsStreak(t *testing.T) {
	fx := newWatcherFixture()
	w := fx.watcher("ETHUSDT")
	fx.provider.FailNext("list", 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if done := w.tick(ctx); done {
			t.Fatal("transient failures should not stop the watcher")
		}
	}
	if w.consecFails != 3 {
		t.Fatalf("consecFails = %d, want 3", w.consecFails)
	}

	if done := w.tick(ctx); done {
		t.Fatal("the recovered tick should keep the watcher alive")
	}
	if w.consecFails != 0 {
		t.Fatalf("consecFails = %d, want 0 after recovery", w.consecFails)
	}
}

func TestWatcherSkippedReviewLeavesBaseline(t *testing.T) {
	fx := newWatcherFixture()
	fx.budget = NewAdvisorBudget(1)
	fx.budget.TryAcquire() // exhaust before the first tick
	w := fx.watcher("ETHUSDT")

	if done := w.tick(context.Background()); done {
		t.Fatal("a skipped review should not stop the watcher")
	}
	if w.state.LastAdvisorCheckMs != 0 {
		t.Fatal("a skipped review must not move the baseline")
	}
	recs := fx.journal.records()
	if len(recs) != 1 || recs[0].Outcome != journal.OutcomeSkipped {
		t.Fatalf("journal = %+v", recs)
	}
}

func TestWatcherRetire(t *testing.T) {
	fx := newWatcherFixture()
	w := fx.watcher("ETHUSDT")

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	waitFor(t, func() bool { return fx.llm.Calls() > 0 }, "the first tick")
	w.Retire()
	w.Retire() // idempotent
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not exit on retire")
	}

	recs := fx.journal.records()
	last := recs[len(recs)-1]
	if !containsString(last.Triggers, TriggerPositionClosed) {
		t.Fatalf("last record = %+v, want a position_closed info entry", last)
	}
	if w.State() != StateIdle {
		t.Fatalf("state = %s, want idle", w.State())
	}
}

func TestWatcherContextCancel(t *testing.T) {
	fx := newWatcherFixture()
	w := fx.watcher("ETHUSDT")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return fx.llm.Calls() > 0 }, "the first tick")
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not exit on cancel")
	}
	if w.State() != StateTerminated {
		t.Fatalf("state = %s, want terminated", w.State())
	}
}
