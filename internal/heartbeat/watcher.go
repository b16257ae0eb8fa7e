package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YoByron/Bijaz/internal/adapters"
	"github.com/YoByron/Bijaz/internal/journal"
	"github.com/YoByron/Bijaz/internal/observ"
)

// WatcherState is the lifecycle of one per-symbol Watcher.
type WatcherState string

const (
	StateIdle       WatcherState = "idle"
	StateActive     WatcherState = "active"
	StateClosing    WatcherState = "closing"
	StateTerminated WatcherState = "terminated"
)

// Config drives the whole heartbeat: tick cadence, buffer depth, trigger
// thresholds, breaker limits and advisor bounds.
type Config struct {
	TickInterval       time.Duration
	SupervisorInterval time.Duration
	BufferSize         int
	SnapshotTimeout    time.Duration
	FailWarnThreshold  int // consecutive snapshot failures before the warning notification
	FailFatalThreshold int // consecutive snapshot failures the watcher survives

	Triggers TriggerConfig
	Breakers BreakerConfig
	Advisor  AdvisorConfig
}

func DefaultConfig() Config {
	return Config{
		TickInterval:       30 * time.Second,
		SupervisorInterval: 60 * time.Second,
		BufferSize:         60,
		SnapshotTimeout:    10 * time.Second,
		FailWarnThreshold:  5,
		FailFatalThreshold: 10,
		Triggers:           DefaultTriggerConfig(),
		Breakers:           DefaultBreakerConfig(),
		Advisor:            DefaultAdvisorConfig(),
	}
}

// WatcherDeps are the collaborators a Watcher needs. The Advisor is shared
// across watchers; everything else is safe for concurrent use.
type WatcherDeps struct {
	Provider adapters.PositionProvider
	Orders   adapters.OrderExecutor
	Advisor  *Advisor
	Context  adapters.ContextProvider
	Journal  Recorder
	Notifier Notifier
}

// Watcher polls one symbol's position and runs the trigger/advisor path.
// All fields are owned by the Run goroutine; Retire is the only method
// other goroutines may call.
type Watcher struct {
	symbol string
	cfg    Config
	deps   WatcherDeps
	snap   *Snapshotter

	buf          *RollingBuffer
	state        TriggerState
	wstate       WatcherState
	firstTick    bool
	consecFails  int
	warned       bool
	minSize      float64
	minSizeKnown bool
	lastTick     *PositionTick

	retire     chan struct{}
	retireOnce sync.Once
}

func NewWatcher(symbol string, cfg Config, deps WatcherDeps) *Watcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 60
	}
	if cfg.FailWarnThreshold <= 0 {
		cfg.FailWarnThreshold = 5
	}
	if cfg.FailFatalThreshold <= 0 {
		cfg.FailFatalThreshold = 10
	}
	return &Watcher{
		symbol:    symbol,
		cfg:       cfg,
		deps:      deps,
		snap:      NewSnapshotter(deps.Provider, cfg.SnapshotTimeout),
		buf:       NewRollingBuffer(cfg.BufferSize),
		state:     NewTriggerState(),
		wstate:    StateIdle,
		firstTick: true,
		retire:    make(chan struct{}),
	}
}

// Retire tells the watcher its symbol disappeared from the account-wide
// position list. The watcher raises position_closed once and exits. Safe to
// call from the supervisor at any time, including after the watcher is gone.
func (w *Watcher) Retire() {
	w.retireOnce.Do(func() { close(w.retire) })
}

// State is only meaningful after Run returned; the supervisor reads it when
// reaping handles.
func (w *Watcher) State() WatcherState { return w.wstate }

// Run polls until the position closes, a circuit breaker fires, snapshot
// failures exceed the fatal threshold, or ctx is canceled. The first tick
// runs immediately so a fresh position is reviewed without waiting a full
// interval.
func (w *Watcher) Run(ctx context.Context) {
	w.wstate = StateActive
	observ.Log("watcher_start", map[string]any{"symbol": w.symbol, "tick_interval": w.cfg.TickInterval.String()})

	if w.tick(ctx) {
		observ.Log("watcher_stop", map[string]any{"symbol": w.symbol, "state": string(w.wstate)})
		return
	}
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wstate = StateTerminated
			observ.Log("watcher_stop", map[string]any{"symbol": w.symbol, "state": string(w.wstate)})
			return
		case <-w.retire:
			w.handleClosed()
			observ.Log("watcher_stop", map[string]any{"symbol": w.symbol, "state": string(w.wstate)})
			return
		case <-ticker.C:
			if w.tick(ctx) {
				observ.Log("watcher_stop", map[string]any{"symbol": w.symbol, "state": string(w.wstate)})
				return
			}
		}
	}
}

// tick runs one heartbeat. It returns true when the watcher is done:
// position closed, circuit breaker fired, fatal failure streak, or shutdown.
func (w *Watcher) tick(ctx context.Context) bool {
	tick, err := w.snap.Snapshot(ctx, w.symbol)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-snapshot discards the tick.
			w.wstate = StateTerminated
			return true
		}
		return w.snapshotFailed(err)
	}
	w.consecFails = 0
	w.warned = false
	observ.SetGauge("provider_consec_errors", 0, map[string]string{"symbol": w.symbol})

	if tick == nil {
		w.handleClosed()
		return true
	}

	observ.IncCounter("heartbeat_ticks_total", map[string]string{"symbol": w.symbol})

	if !w.minSizeKnown {
		w.fetchMinSize(ctx)
	}

	w.buf.Push(*tick)
	w.lastTick = tick

	if reason, tripped := CheckCircuitBreakers(*tick, w.cfg.Breakers); tripped {
		w.fireBreaker(ctx, *tick, reason)
		return true
	}

	extra := ExtraFlags{PositionOpened: w.firstTick}
	w.firstTick = false
	fired, next := EvaluateTriggers(tick.Timestamp, *tick, w.buf, w.state, w.cfg.Triggers, extra)
	w.state = next
	if len(fired) == 0 {
		return false
	}
	for _, f := range fired {
		observ.IncCounter("heartbeat_trigger_fired_total", map[string]string{"trigger": f.Name})
	}
	observ.Log("triggers_fired", map[string]any{"symbol": w.symbol, "triggers": triggerNames(fired)})

	res := w.deps.Advisor.Review(ctx, AdvisorInput{
		Tick:            *tick,
		Trajectory:      w.buf.Window(w.buf.Size()),
		Fired:           fired,
		Thesis:          w.deps.Context.Thesis(w.symbol),
		OpenPositions:   w.snap.OpenPositions(),
		DayStats:        w.deps.Context.DayStats(),
		MinPositionSize: w.minSize,
	})
	if res.Outcome != journal.OutcomeSkipped {
		w.state.CommitAdvisor(*tick)
	}
	return false
}

func (w *Watcher) snapshotFailed(err error) bool {
	w.consecFails++
	observ.IncCounter("snapshot_failures_total", map[string]string{"symbol": w.symbol})
	observ.SetGauge("provider_consec_errors", float64(w.consecFails), map[string]string{"symbol": w.symbol})
	observ.Log("snapshot_fail", map[string]any{
		"symbol": w.symbol, "consecutive": w.consecFails, "error": err.Error(),
	})
	if w.consecFails == w.cfg.FailWarnThreshold && !w.warned {
		w.warned = true
		w.deps.Notifier.Notify(fmt.Sprintf("⚠️ %s heartbeat: snapshot_failing (%d consecutive errors): %v", w.symbol, w.consecFails, err))
	}
	if w.consecFails > w.cfg.FailFatalThreshold {
		observ.Log("watcher_fatal", map[string]any{"symbol": w.symbol, "consecutive": w.consecFails})
		w.deps.Notifier.Notify(fmt.Sprintf("🛑 %s heartbeat gave up after %d consecutive snapshot failures; watcher down until next reconcile", w.symbol, w.consecFails))
		w.wstate = StateIdle
		return true
	}
	return false
}

func (w *Watcher) fetchMinSize(ctx context.Context) {
	mctx, cancel := context.WithTimeout(ctx, w.cfg.SnapshotTimeout)
	defer cancel()
	ms, err := w.deps.Provider.MinPositionSize(mctx, w.symbol)
	if err != nil {
		observ.Log("min_size_unknown", map[string]any{"symbol": w.symbol, "error": err.Error()})
	} else {
		w.minSize = ms
	}
	w.minSizeKnown = true
}

// handleClosed raises position_closed exactly once: journal with outcome
// info, notify, tear down. No advisor call; there is nothing left to manage.
func (w *Watcher) handleClosed() {
	w.wstate = StateClosing
	rec := journal.AdvisoryDecision{
		Kind:      journal.KindHeartbeat,
		Symbol:    w.symbol,
		Timestamp: time.Now().UnixMilli(),
		Triggers:  []string{TriggerPositionClosed},
		Outcome:   journal.OutcomeInfo,
	}
	var realized string
	if w.lastTick != nil {
		rec.Snapshot = compactSnapshot(*w.lastTick)
		realized = fmt.Sprintf(" (last pnl %+.2f%% eq)", w.lastTick.PnlPctOfEquity)
	}
	if err := w.deps.Journal.Record(rec); err != nil {
		observ.Log("journal_fail", map[string]any{"symbol": w.symbol, "kind": rec.Kind, "error": err.Error()})
	}
	observ.IncCounter("heartbeat_trigger_fired_total", map[string]string{"trigger": TriggerPositionClosed})
	observ.Log("position_closed", map[string]any{"symbol": w.symbol})
	w.deps.Notifier.Notify(fmt.Sprintf("✅ %s position closed%s", w.symbol, realized))
	w.wstate = StateIdle
}

// fireBreaker closes the position immediately. Circuit breakers never
// consult the advisor and are never rate-limited; the close is retried once
// like any idempotent close.
func (w *Watcher) fireBreaker(ctx context.Context, tick PositionTick, reason string) {
	w.wstate = StateClosing
	observ.IncCounter("circuit_breaker_total", map[string]string{"reason": reason})
	observ.Log("circuit_breaker", map[string]any{
		"symbol": w.symbol, "reason": reason,
		"dist_to_liq_pct": tick.DistToLiquidationPct, "pnl_pct_of_equity": tick.PnlPctOfEquity,
	})

	ack, err := dispatchWithRetry(ctx, w.cfg.Advisor, func(c context.Context) (*adapters.OrderAck, error) {
		return w.deps.Orders.ClosePosition(c, w.symbol, "circuit breaker: "+reason)
	})

	rec := journal.AdvisoryDecision{
		Kind:      journal.KindCircuitBreaker,
		Symbol:    w.symbol,
		Timestamp: tick.Timestamp,
		Decision:  &journal.Decision{Action: ActionClose, Reason: reason},
		Snapshot:  compactSnapshot(tick),
	}
	if err != nil {
		rec.Outcome = journal.OutcomeFailed
		observ.Log("circuit_breaker_close_failed", map[string]any{"symbol": w.symbol, "error": err.Error()})
		w.deps.Notifier.Notify(fmt.Sprintf("🚨 %s CIRCUIT BREAKER (%s): close FAILED after retry: %v", w.symbol, reason, err))
	} else {
		rec.Outcome = journal.OutcomeOK
		var id string
		if ack != nil {
			id = ack.OrderID
		}
		observ.Log("circuit_breaker_closed", map[string]any{"symbol": w.symbol, "order_id": id})
		w.deps.Notifier.Notify(fmt.Sprintf("🚨 %s CIRCUIT BREAKER (%s): position closed", w.symbol, reason))
	}
	if jerr := w.deps.Journal.Record(rec); jerr != nil {
		observ.Log("journal_fail", map[string]any{"symbol": w.symbol, "kind": rec.Kind, "error": jerr.Error()})
	}
}
