package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockProvider serves deterministic positions for tests and paper mode.
// Linked MockExecutor mutations show up here, so a close really makes the
// position disappear on the next snapshot.
type MockProvider struct {
	mu        sync.Mutex
	positions map[string]PositionInfo
	marks     map[string]MarkInfo
	orders    map[string][]TriggerOrder
	minSizes  map[string]float64
	equity    float64
	healthOk  bool
	latency   time.Duration
	failNext  map[string]int // call name -> remaining injected failures
	calls     map[string]int
}

// NewMockProvider seeds two positions: an ETH long with both protective
// orders and a BTC short with no stop, which trips stop_missing immediately.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		positions: map[string]PositionInfo{
			"ETHUSDT": {
				Symbol:           "ETHUSDT",
				Side:             "long",
				Size:             5.0,
				EntryPrice:       2080.0,
				UnrealizedPnl:    100.0,
				LiquidationPrice: 1456.0,
				MarginUsed:       1040.0,
				Leverage:         10,
			},
			"BTCUSDT": {
				Symbol:           "BTCUSDT",
				Side:             "short",
				Size:             0.15,
				EntryPrice:       71500.0,
				UnrealizedPnl:    90.0,
				LiquidationPrice: 78650.0,
				MarginUsed:       2145.0,
				Leverage:         5,
			},
		},
		marks: map[string]MarkInfo{
			"ETHUSDT": {Symbol: "ETHUSDT", MarkPrice: 2100.0, FundingRate: 0.00003},
			"BTCUSDT": {Symbol: "BTCUSDT", MarkPrice: 70900.0, FundingRate: -0.00012},
		},
		orders: map[string][]TriggerOrder{
			"ETHUSDT": {
				{OrderID: "mock-sl-1", Kind: "sl", TriggerPx: 2020.0},
				{OrderID: "mock-tp-1", Kind: "tp", TriggerPx: 2300.0},
			},
		},
		minSizes: map[string]float64{"ETHUSDT": 0.01, "BTCUSDT": 0.001},
		equity:   10000.0,
		healthOk: true,
		failNext: map[string]int{},
		calls:    map[string]int{},
	}
}

// NewEmptyMockProvider starts with no positions at all.
func NewEmptyMockProvider() *MockProvider {
	p := NewMockProvider()
	p.positions = map[string]PositionInfo{}
	p.orders = map[string][]TriggerOrder{}
	return p
}

func (m *MockProvider) before(ctx context.Context, call string) error {
	m.mu.Lock()
	m.calls[call]++
	lat := m.latency
	if n := m.failNext[call]; n > 0 {
		m.failNext[call] = n - 1
		m.mu.Unlock()
		return NewNetworkError("", fmt.Sprintf("injected %s failure", call), nil)
	}
	healthy := m.healthOk
	m.mu.Unlock()

	if lat > 0 {
		select {
		case <-ctx.Done():
			return NewNetworkError("", "mock timeout", ctx.Err())
		case <-time.After(lat):
		}
	}
	if ctx.Err() != nil {
		return NewNetworkError("", "mock canceled", ctx.Err())
	}
	if !healthy {
		return NewNetworkError("", "mock provider unhealthy", nil)
	}
	return nil
}

func (m *MockProvider) ListOpenPositions(ctx context.Context) ([]PositionInfo, error) {
	if err := m.before(ctx, "list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PositionInfo, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockProvider) GetMark(ctx context.Context, symbol string) (*MarkInfo, error) {
	if err := m.before(ctx, "mark"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.marks[strings.ToUpper(symbol)]
	if !ok {
		return nil, NewBadSymbolError(symbol, "no mark for symbol")
	}
	return &mk, nil
}

func (m *MockProvider) GetEquity(ctx context.Context) (float64, error) {
	if err := m.before(ctx, "equity"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity, nil
}

func (m *MockProvider) ListOpenTriggerOrders(ctx context.Context, symbol string) ([]TriggerOrder, error) {
	if err := m.before(ctx, "orders"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.orders[strings.ToUpper(symbol)]
	out := make([]TriggerOrder, len(src))
	copy(out, src)
	return out, nil
}

func (m *MockProvider) MinPositionSize(ctx context.Context, symbol string) (float64, error) {
	if err := m.before(ctx, "minsize"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms, ok := m.minSizes[strings.ToUpper(symbol)]; ok {
		return ms, nil
	}
	return 0.001, nil
}

func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthOk {
		return NewNetworkError("", "mock provider unhealthy", nil)
	}
	return nil
}

func (m *MockProvider) Close() error { return nil }

// Test controls. All safe for concurrent use.

func (m *MockProvider) SetPosition(p PositionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[strings.ToUpper(p.Symbol)] = p
}

func (m *MockProvider) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, strings.ToUpper(symbol))
	delete(m.orders, strings.ToUpper(symbol))
}

func (m *MockProvider) SetMark(symbol string, mark, fundingRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sym := strings.ToUpper(symbol)
	m.marks[sym] = MarkInfo{Symbol: sym, MarkPrice: mark, FundingRate: fundingRate}
}

func (m *MockProvider) SetEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
}

func (m *MockProvider) SetTriggerOrders(symbol string, orders []TriggerOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[strings.ToUpper(symbol)] = orders
}

func (m *MockProvider) SetMinSize(symbol string, min float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minSizes[strings.ToUpper(symbol)] = min
}

func (m *MockProvider) SetHealth(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthOk = ok
}

func (m *MockProvider) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailNext makes the next n calls of the named kind ("list", "mark",
// "equity", "orders", "minsize") return a network error.
func (m *MockProvider) FailNext(call string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[call] = n
}

func (m *MockProvider) CallCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[call]
}

// ExecutedOrder records one executor call for assertions.
type ExecutedOrder struct {
	Method   string
	Symbol   string
	Price    float64
	Fraction float64
	Reason   string
}

// MockExecutor acknowledges orders and, when linked to a MockProvider,
// applies their effect: closes remove the position, tightens replace the
// stop order, partial closes scale the size down.
type MockExecutor struct {
	mu       sync.Mutex
	provider *MockProvider // may be nil
	executed []ExecutedOrder
	failNext map[string]int
	failErr  *OrderError
	seq      int
}

// NewMockExecutor links the executor to a provider; pass nil for a pure
// recording executor.
func NewMockExecutor(provider *MockProvider) *MockExecutor {
	return &MockExecutor{provider: provider, failNext: map[string]int{}}
}

// ack must be called with m.mu held.
func (m *MockExecutor) ack(method, symbol string) (*OrderAck, error) {
	if n := m.failNext[method]; n > 0 {
		m.failNext[method] = n - 1
		if m.failErr != nil {
			e := *m.failErr
			e.Symbol = symbol
			return nil, &e
		}
		return nil, NewOrderNetworkError(symbol, fmt.Sprintf("injected %s failure", method), nil)
	}
	m.seq++
	return &OrderAck{
		OrderID:       fmt.Sprintf("mock-%d", m.seq),
		ClientOrderID: fmt.Sprintf("hb-mock-%d", m.seq),
		Symbol:        symbol,
		Status:        "NEW",
	}, nil
}

func (m *MockExecutor) TightenStop(ctx context.Context, symbol string, newPrice float64) (*OrderAck, error) {
	if ctx.Err() != nil {
		return nil, NewOrderNetworkError(symbol, "canceled", ctx.Err())
	}
	m.mu.Lock()
	m.executed = append(m.executed, ExecutedOrder{Method: "tighten_stop", Symbol: symbol, Price: newPrice})
	ack, err := m.ack("tighten_stop", symbol)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ack.Price = newPrice
	if m.provider != nil {
		m.replaceTrigger(symbol, "sl", newPrice, ack.OrderID)
	}
	return ack, nil
}

func (m *MockExecutor) AdjustTakeProfit(ctx context.Context, symbol string, newPrice float64) (*OrderAck, error) {
	if ctx.Err() != nil {
		return nil, NewOrderNetworkError(symbol, "canceled", ctx.Err())
	}
	m.mu.Lock()
	m.executed = append(m.executed, ExecutedOrder{Method: "adjust_take_profit", Symbol: symbol, Price: newPrice})
	ack, err := m.ack("adjust_take_profit", symbol)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ack.Price = newPrice
	if m.provider != nil {
		m.replaceTrigger(symbol, "tp", newPrice, ack.OrderID)
	}
	return ack, nil
}

func (m *MockExecutor) PartialClose(ctx context.Context, symbol string, fraction float64) (*OrderAck, error) {
	if ctx.Err() != nil {
		return nil, NewOrderNetworkError(symbol, "canceled", ctx.Err())
	}
	m.mu.Lock()
	m.executed = append(m.executed, ExecutedOrder{Method: "partial_close", Symbol: symbol, Fraction: fraction})
	ack, err := m.ack("partial_close", symbol)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if m.provider != nil {
		m.provider.mu.Lock()
		if p, ok := m.provider.positions[strings.ToUpper(symbol)]; ok {
			p.Size *= 1 - fraction
			p.UnrealizedPnl *= 1 - fraction
			m.provider.positions[strings.ToUpper(symbol)] = p
			ack.Quantity = p.Size
		}
		m.provider.mu.Unlock()
	}
	return ack, nil
}

func (m *MockExecutor) ClosePosition(ctx context.Context, symbol string, reason string) (*OrderAck, error) {
	if ctx.Err() != nil {
		return nil, NewOrderNetworkError(symbol, "canceled", ctx.Err())
	}
	m.mu.Lock()
	m.executed = append(m.executed, ExecutedOrder{Method: "close", Symbol: symbol, Reason: reason})
	ack, err := m.ack("close", symbol)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if m.provider != nil {
		m.provider.RemovePosition(symbol)
	}
	return ack, nil
}

func (m *MockExecutor) replaceTrigger(symbol, kind string, px float64, orderID string) {
	m.provider.mu.Lock()
	defer m.provider.mu.Unlock()
	sym := strings.ToUpper(symbol)
	var out []TriggerOrder
	for _, o := range m.provider.orders[sym] {
		if o.Kind != kind {
			out = append(out, o)
		}
	}
	out = append(out, TriggerOrder{OrderID: orderID, Kind: kind, TriggerPx: px})
	m.provider.orders[sym] = out
}

// Executed returns a copy of all recorded calls.
func (m *MockExecutor) Executed() []ExecutedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecutedOrder, len(m.executed))
	copy(out, m.executed)
	return out
}

// FailNextOrder makes the next n calls of the named method fail. A nil err
// means a retriable network error.
func (m *MockExecutor) FailNextOrder(method string, n int, err *OrderError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[method] = n
	m.failErr = err
}

// MockLLM replays queued replies, each call consuming the head. With an
// empty queue it answers a hold.
type MockLLM struct {
	mu       sync.Mutex
	replies  []string
	failNext int
	failErr  error
	latency  time.Duration
	calls    int
	lastMsgs []Message
	lastOpts CompleteOpts
}

func NewMockLLM() *MockLLM { return &MockLLM{} }

const mockHoldReply = `{"action":"hold","params":{},"reason":"mock default"}`

func (m *MockLLM) Complete(ctx context.Context, messages []Message, opts CompleteOpts) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastMsgs = messages
	m.lastOpts = opts
	lat := m.latency
	if m.failNext > 0 {
		m.failNext--
		err := m.failErr
		m.mu.Unlock()
		if err == nil {
			err = NewLLMNetworkError("injected failure", nil)
		}
		return "", err
	}
	reply := mockHoldReply
	if len(m.replies) > 0 {
		reply = m.replies[0]
		m.replies = m.replies[1:]
	}
	m.mu.Unlock()

	if lat > 0 {
		select {
		case <-ctx.Done():
			return "", NewLLMTimeoutError("mock latency exceeded deadline")
		case <-time.After(lat):
		}
	}
	if ctx.Err() != nil {
		return "", NewLLMTimeoutError("mock canceled")
	}
	return reply, nil
}

func (m *MockLLM) Close() error { return nil }

func (m *MockLLM) QueueReply(replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

func (m *MockLLM) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

func (m *MockLLM) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockLLM) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMsgs
}

func (m *MockLLM) LastOpts() CompleteOpts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}
