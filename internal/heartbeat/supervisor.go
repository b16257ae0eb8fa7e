package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/YoByron/Bijaz/internal/adapters"
	"github.com/YoByron/Bijaz/internal/observ"
)

// Deps are the external collaborators the supervisor wires into every
// watcher. One advisor instance is shared so the hourly call budget is
// account-wide, not per-symbol.
type Deps struct {
	Provider adapters.PositionProvider
	Orders   adapters.OrderExecutor
	LLM      adapters.LLMClient
	Context  adapters.ContextProvider
	Journal  Recorder
	Notifier Notifier
}

// Supervisor owns the symbol-to-watcher map. It is the only writer; watchers
// never touch it.
type Supervisor struct {
	cfg     Config
	deps    Deps
	budget  *AdvisorBudget
	advisor *Advisor

	mu       sync.Mutex
	watchers map[string]*watcherHandle
	wg       sync.WaitGroup
}

type watcherHandle struct {
	w      *Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(cfg Config, deps Deps) *Supervisor {
	if cfg.SupervisorInterval <= 0 {
		cfg.SupervisorInterval = time.Minute
	}
	budget := NewAdvisorBudget(cfg.Advisor.MaxCallsPerHour)
	return &Supervisor{
		cfg:      cfg,
		deps:     deps,
		budget:   budget,
		advisor:  NewAdvisor(deps.LLM, deps.Orders, budget, deps.Journal, deps.Notifier, cfg.Advisor, cfg.Breakers),
		watchers: map[string]*watcherHandle{},
	}
}

// Budget exposes the shared advisor budget, mostly for the health surface.
func (s *Supervisor) Budget() *AdvisorBudget { return s.budget }

// Run reconciles until ctx is canceled, then cancels every watcher and waits
// for in-flight ticks to finish. An already-dispatched order is never
// abandoned: journaling happens before the watcher observes the cancel.
func (s *Supervisor) Run(ctx context.Context) error {
	observ.Log("supervisor_start", map[string]any{
		"reconcile_interval": s.cfg.SupervisorInterval.String(),
		"tick_interval":      s.cfg.TickInterval.String(),
		"advisor_per_hour":   s.cfg.Advisor.MaxCallsPerHour,
	})
	s.reconcile(ctx)

	ticker := time.NewTicker(s.cfg.SupervisorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile converges the watcher map onto the account's open positions:
// spawn for new symbols, retire for vanished ones, reap finished handles.
// A transient listing failure leaves the map untouched.
func (s *Supervisor) reconcile(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotTimeout)
	positions, err := s.deps.Provider.ListOpenPositions(listCtx)
	cancel()
	if err != nil {
		observ.Log("supervisor_list_fail", map[string]any{"error": err.Error()})
		return
	}
	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		open[p.Symbol] = true
	}

	s.mu.Lock()
	for sym, h := range s.watchers {
		select {
		case <-h.done:
			observ.Log("watcher_reap", map[string]any{"symbol": sym, "state": string(h.w.State())})
			delete(s.watchers, sym)
		default:
		}
	}
	for sym, h := range s.watchers {
		if !open[sym] {
			h.w.Retire()
		}
	}
	for sym := range open {
		if _, exists := s.watchers[sym]; !exists {
			s.spawnLocked(ctx, sym)
		}
	}
	active := len(s.watchers)
	s.mu.Unlock()

	observ.SetGauge("watchers_active", float64(active), nil)
	observ.SetGauge("advisor_budget_remaining", float64(s.budget.Remaining()), nil)
}

func (s *Supervisor) spawnLocked(ctx context.Context, symbol string) {
	wctx, cancel := context.WithCancel(ctx)
	w := NewWatcher(symbol, s.cfg, WatcherDeps{
		Provider: s.deps.Provider,
		Orders:   s.deps.Orders,
		Advisor:  s.advisor,
		Context:  s.deps.Context,
		Journal:  s.deps.Journal,
		Notifier: s.deps.Notifier,
	})
	h := &watcherHandle{w: w, cancel: cancel, done: make(chan struct{})}
	s.watchers[symbol] = h
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		w.Run(wctx)
	}()
	observ.Log("watcher_spawn", map[string]any{"symbol": symbol})
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	for _, h := range s.watchers {
		h.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	observ.SetGauge("watchers_active", 0, nil)
	observ.Log("supervisor_stop", nil)
}

// RunOnce discovers open positions and runs a single tick per symbol, then
// returns. The smoke-test surface: exercise the whole path once without
// leaving a daemon behind.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotTimeout)
	positions, err := s.deps.Provider.ListOpenPositions(listCtx)
	cancel()
	if err != nil {
		return err
	}
	observ.Log("oneshot_start", map[string]any{"positions": len(positions)})
	for _, p := range positions {
		w := NewWatcher(p.Symbol, s.cfg, WatcherDeps{
			Provider: s.deps.Provider,
			Orders:   s.deps.Orders,
			Advisor:  s.advisor,
			Context:  s.deps.Context,
			Journal:  s.deps.Journal,
			Notifier: s.deps.Notifier,
		})
		w.wstate = StateActive
		w.tick(ctx)
	}
	observ.Log("oneshot_done", map[string]any{"positions": len(positions)})
	return nil
}
