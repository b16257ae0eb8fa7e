package adapters

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// SimProvider is a paper-trading position source: seeded perpetual
// positions whose mark price follows a random walk. Each GetMark call
// advances the walk one step, so a watcher polling it sees drifting PnL,
// occasional volatility spikes, and funding flips without touching an
// exchange.
type SimProvider struct {
	mu     sync.Mutex
	random *rand.Rand
	equity float64
	books  map[string]*simBook
	nextID int
}

type simBook struct {
	pos      PositionInfo
	mark     float64
	funding  float64
	dailyVol float64 // daily volatility as decimal
	minSize  float64
	orders   []TriggerOrder
}

// NewSimProvider seeds two representative positions: a hedged ETH long and
// a BTC short carrying no stop, which keeps the stop-missing path visible
// in paper runs.
func NewSimProvider() *SimProvider {
	s := &SimProvider{
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
		equity: 10000,
		books:  make(map[string]*simBook),
	}
	s.AddPosition(PositionInfo{
		Symbol:           "ETHUSDT",
		Side:             "long",
		Size:             5,
		EntryPrice:       2080,
		LiquidationPrice: 1456,
		MarginUsed:       1040,
		Leverage:         10,
	}, 2100, 0.00003, 0.035, 0.01)
	s.SetTriggerOrders("ETHUSDT", []TriggerOrder{
		{OrderID: s.orderID(), Kind: "sl", TriggerPx: 2020},
		{OrderID: s.orderID(), Kind: "tp", TriggerPx: 2300},
	})
	s.AddPosition(PositionInfo{
		Symbol:           "BTCUSDT",
		Side:             "short",
		Size:             0.15,
		EntryPrice:       71500,
		LiquidationPrice: 78650,
		MarginUsed:       2145,
		Leverage:         5,
	}, 70900, -0.00012, 0.028, 0.001)
	return s
}

// AddPosition registers a simulated position with its walk parameters.
func (s *SimProvider) AddPosition(pos PositionInfo, mark, funding, dailyVol, minSize float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos.Symbol = strings.ToUpper(strings.TrimSpace(pos.Symbol))
	s.books[pos.Symbol] = &simBook{
		pos:      pos,
		mark:     mark,
		funding:  funding,
		dailyVol: dailyVol,
		minSize:  minSize,
	}
}

// SetTriggerOrders replaces the open conditional orders for a symbol.
func (s *SimProvider) SetTriggerOrders(symbol string, orders []TriggerOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if book, ok := s.books[strings.ToUpper(symbol)]; ok {
		book.orders = orders
	}
}

func (s *SimProvider) ListOpenPositions(ctx context.Context) ([]PositionInfo, error) {
	if err := s.simLatency(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PositionInfo, 0, len(s.books))
	for _, book := range s.books {
		out = append(out, s.refreshedLocked(book))
	}
	return out, nil
}

func (s *SimProvider) GetMark(ctx context.Context, symbol string) (*MarkInfo, error) {
	if err := s.simLatency(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[strings.ToUpper(symbol)]
	if !ok {
		return nil, NewBadSymbolError(symbol, "symbol not simulated")
	}

	// One random-walk step per poll. Perps trade around the clock, so
	// daily volatility spreads over 1440 minutes.
	minuteVol := book.dailyVol / math.Sqrt(1440)
	book.mark *= 1 + s.random.NormFloat64()*minuteVol
	book.funding += s.random.NormFloat64() * 0.000005

	return &MarkInfo{
		Symbol:      book.pos.Symbol,
		MarkPrice:   book.mark,
		FundingRate: book.funding,
	}, nil
}

func (s *SimProvider) GetEquity(ctx context.Context) (float64, error) {
	if err := s.simLatency(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	equity := s.equity
	for _, book := range s.books {
		equity += s.refreshedLocked(book).UnrealizedPnl
	}
	return equity, nil
}

func (s *SimProvider) ListOpenTriggerOrders(ctx context.Context, symbol string) ([]TriggerOrder, error) {
	if err := s.simLatency(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[strings.ToUpper(symbol)]
	if !ok {
		return nil, nil
	}
	out := make([]TriggerOrder, len(book.orders))
	copy(out, book.orders)
	return out, nil
}

func (s *SimProvider) MinPositionSize(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if book, ok := s.books[strings.ToUpper(symbol)]; ok && book.minSize > 0 {
		return book.minSize, nil
	}
	return 0.001, nil
}

func (s *SimProvider) HealthCheck(ctx context.Context) error { return nil }

func (s *SimProvider) Close() error { return nil }

// refreshedLocked returns the position with PnL recomputed at the current
// simulated mark.
func (s *SimProvider) refreshedLocked(book *simBook) PositionInfo {
	pos := book.pos
	dir := 1.0
	if pos.Side == "short" {
		dir = -1.0
	}
	pos.UnrealizedPnl = (book.mark - pos.EntryPrice) * pos.Size * dir
	return pos
}

// simLatency sleeps 10-50ms the way a real venue round-trip would.
func (s *SimProvider) simLatency(ctx context.Context) error {
	s.mu.Lock()
	d := time.Duration(10+s.random.Intn(40)) * time.Millisecond
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (s *SimProvider) orderID() string {
	s.nextID++
	return fmt.Sprintf("sim-%d", s.nextID)
}

// SimExecutor applies orders to the simulated book so paper runs see
// their own effects: a close removes the position, a tighten moves the
// stop, a partial shrinks size.
type SimExecutor struct {
	provider *SimProvider
}

func NewSimExecutor(provider *SimProvider) *SimExecutor {
	return &SimExecutor{provider: provider}
}

func (e *SimExecutor) TightenStop(ctx context.Context, symbol string, newPrice float64) (*OrderAck, error) {
	return e.replaceTrigger(symbol, "sl", newPrice)
}

func (e *SimExecutor) AdjustTakeProfit(ctx context.Context, symbol string, newPrice float64) (*OrderAck, error) {
	return e.replaceTrigger(symbol, "tp", newPrice)
}

func (e *SimExecutor) PartialClose(ctx context.Context, symbol string, fraction float64) (*OrderAck, error) {
	s := e.provider
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[strings.ToUpper(symbol)]
	if !ok {
		return nil, NewNoPositionError(symbol)
	}
	if fraction <= 0 || fraction >= 1 {
		return nil, NewBadParamsError(symbol, fmt.Sprintf("fraction %v outside (0,1)", fraction))
	}
	closed := book.pos.Size * fraction
	book.pos.Size -= closed
	s.equity += s.refreshedLocked(book).UnrealizedPnl * fraction
	return &OrderAck{
		OrderID:  s.orderID(),
		Symbol:   book.pos.Symbol,
		Status:   "FILLED",
		Price:    book.mark,
		Quantity: closed,
	}, nil
}

func (e *SimExecutor) ClosePosition(ctx context.Context, symbol string, reason string) (*OrderAck, error) {
	s := e.provider
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[strings.ToUpper(symbol)]
	if !ok {
		return nil, NewNoPositionError(symbol)
	}
	s.equity += s.refreshedLocked(book).UnrealizedPnl
	size := book.pos.Size
	mark := book.mark
	delete(s.books, book.pos.Symbol)
	return &OrderAck{
		OrderID:  s.orderID(),
		Symbol:   strings.ToUpper(symbol),
		Status:   "FILLED",
		Price:    mark,
		Quantity: size,
	}, nil
}

func (e *SimExecutor) replaceTrigger(symbol, kind string, newPrice float64) (*OrderAck, error) {
	s := e.provider
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[strings.ToUpper(symbol)]
	if !ok {
		return nil, NewNoPositionError(symbol)
	}
	kept := book.orders[:0]
	for _, o := range book.orders {
		if o.Kind != kind {
			kept = append(kept, o)
		}
	}
	id := s.orderID()
	book.orders = append(kept, TriggerOrder{OrderID: id, Kind: kind, TriggerPx: newPrice})
	return &OrderAck{
		OrderID: id,
		Symbol:  book.pos.Symbol,
		Status:  "NEW",
		Price:   newPrice,
	}, nil
}
