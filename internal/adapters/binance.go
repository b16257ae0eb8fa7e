package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/YoByron/Bijaz/internal/observ"
)

// BinanceAdapter implements PositionProvider and OrderExecutor against
// Binance USDT-M perpetual futures. Account-level reads (positions, equity)
// are cached for a few seconds so N watchers ticking in the same second
// share one API call; mark price is never cached because every trigger
// depends on it being current.
type BinanceAdapter struct {
	client      *futures.Client
	rateLimiter *rate.Limiter
	config      BinanceConfig

	mu                 sync.RWMutex
	cachedPositions    []PositionInfo
	positionsFetchedAt time.Time
	cachedEquity       float64
	equityFetchedAt    time.Time
	rules              map[string]symbolRule
	rulesFetchedAt     time.Time

	consecutiveErrors int
	lastHealthCheck   time.Time
	healthy           bool
	lastTimeSync      time.Time
}

// BinanceConfig holds connection and pacing settings.
type BinanceConfig struct {
	APIKey             string
	APISecret          string
	Testnet            bool
	RateLimitPerSecond int
	CacheTTLSeconds    int
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

// symbolRule is the slice of exchange info the adapter needs per symbol.
type symbolRule struct {
	minQty         float64
	qtyPrecision   int
	pricePrecision int
}

// NewBinanceAdapter creates the live adapter and best-effort syncs the
// client clock against the exchange. A failed sync is logged, not fatal;
// signed requests will re-sync on the first timestamp rejection.
func NewBinanceAdapter(config BinanceConfig) (*BinanceAdapter, error) {
	if config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("Binance API key and secret are required")
	}
	if config.RateLimitPerSecond <= 0 {
		config.RateLimitPerSecond = 5
	}
	if config.CacheTTLSeconds <= 0 {
		config.CacheTTLSeconds = 5
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = 500
	}

	futures.UseTestnet = config.Testnet
	client := futures.NewClient(config.APIKey, config.APISecret)

	b := &BinanceAdapter{
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerSecond)), config.RateLimitPerSecond),
		config:      config,
		rules:       make(map[string]symbolRule),
		healthy:     true,
	}
	b.syncServerTime(context.Background())
	return b, nil
}

// ListOpenPositions returns every non-flat position on the account.
func (b *BinanceAdapter) ListOpenPositions(ctx context.Context) ([]PositionInfo, error) {
	b.mu.RLock()
	if b.cachedPositions != nil && time.Since(b.positionsFetchedAt) < b.cacheTTL() {
		out := make([]PositionInfo, len(b.cachedPositions))
		copy(out, b.cachedPositions)
		b.mu.RUnlock()
		return out, nil
	}
	b.mu.RUnlock()

	var risks []*futures.PositionRisk
	err := b.doRead(ctx, "positions", func(c context.Context) error {
		var e error
		risks, e = b.client.NewGetPositionRiskService().Do(c)
		return e
	})
	if err != nil {
		return nil, b.classifyProviderErr("", err)
	}

	positions := make([]PositionInfo, 0, len(risks))
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		liq, _ := strconv.ParseFloat(r.LiquidationPrice, 64)
		lev, _ := strconv.ParseFloat(r.Leverage, 64)
		isoMargin, _ := strconv.ParseFloat(r.IsolatedMargin, 64)

		side := "long"
		if amt < 0 {
			side = "short"
		}
		margin := isoMargin
		if margin == 0 && lev > 0 {
			// Cross positions report no isolated margin; approximate
			// the initial margin from mark notional.
			margin = math.Abs(amt) * mark / lev
		}
		positions = append(positions, PositionInfo{
			Symbol:           r.Symbol,
			Side:             side,
			Size:             math.Abs(amt),
			EntryPrice:       entry,
			UnrealizedPnl:    upnl,
			LiquidationPrice: liq,
			MarginUsed:       margin,
			Leverage:         lev,
		})
	}

	b.mu.Lock()
	b.cachedPositions = positions
	b.positionsFetchedAt = time.Now()
	b.mu.Unlock()

	out := make([]PositionInfo, len(positions))
	copy(out, positions)
	return out, nil
}

// GetMark returns the current mark price and funding rate. Always fresh.
func (b *BinanceAdapter) GetMark(ctx context.Context, symbol string) (*MarkInfo, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	var premiums []*futures.PremiumIndex
	err := b.doRead(ctx, "mark", func(c context.Context) error {
		var e error
		premiums, e = b.client.NewPremiumIndexService().Symbol(symbol).Do(c)
		return e
	})
	if err != nil {
		return nil, b.classifyProviderErr(symbol, err)
	}
	if len(premiums) == 0 {
		return nil, NewBadSymbolError(symbol, "no premium index returned")
	}

	markPx, _ := strconv.ParseFloat(premiums[0].MarkPrice, 64)
	funding, _ := strconv.ParseFloat(premiums[0].LastFundingRate, 64)
	return &MarkInfo{Symbol: symbol, MarkPrice: markPx, FundingRate: funding}, nil
}

// GetEquity returns margin balance: wallet balance plus unrealized PnL.
func (b *BinanceAdapter) GetEquity(ctx context.Context) (float64, error) {
	b.mu.RLock()
	if !b.equityFetchedAt.IsZero() && time.Since(b.equityFetchedAt) < b.cacheTTL() {
		eq := b.cachedEquity
		b.mu.RUnlock()
		return eq, nil
	}
	b.mu.RUnlock()

	var account *futures.Account
	err := b.doRead(ctx, "equity", func(c context.Context) error {
		var e error
		account, e = b.client.NewGetAccountService().Do(c)
		return e
	})
	if err != nil {
		return 0, b.classifyProviderErr("", err)
	}

	wallet, _ := strconv.ParseFloat(account.TotalWalletBalance, 64)
	upnl, _ := strconv.ParseFloat(account.TotalUnrealizedProfit, 64)
	equity := wallet + upnl

	b.mu.Lock()
	b.cachedEquity = equity
	b.equityFetchedAt = time.Now()
	b.mu.Unlock()
	return equity, nil
}

// ListOpenTriggerOrders returns the open conditional close orders for a
// symbol, mapped to "sl"/"tp" by order type.
func (b *BinanceAdapter) ListOpenTriggerOrders(ctx context.Context, symbol string) ([]TriggerOrder, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	orders, err := b.listOpenOrders(ctx, symbol)
	if err != nil {
		return nil, b.classifyProviderErr(symbol, err)
	}

	out := make([]TriggerOrder, 0, len(orders))
	for _, o := range orders {
		kind, ok := triggerKind(o.Type)
		if !ok {
			continue
		}
		px, _ := strconv.ParseFloat(o.StopPrice, 64)
		if px <= 0 {
			continue
		}
		out = append(out, TriggerOrder{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			Kind:      kind,
			TriggerPx: px,
		})
	}
	return out, nil
}

// MinPositionSize returns the LOT_SIZE minimum quantity for a symbol.
func (b *BinanceAdapter) MinPositionSize(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	rule, err := b.symbolRule(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return rule.minQty, nil
}

// HealthCheck pings the exchange, reusing a recent verdict when available.
func (b *BinanceAdapter) HealthCheck(ctx context.Context) error {
	b.mu.RLock()
	healthy := b.healthy
	lastCheck := b.lastHealthCheck
	errs := b.consecutiveErrors
	b.mu.RUnlock()

	if time.Since(lastCheck) < 30*time.Second {
		if !healthy {
			return fmt.Errorf("binance adapter unhealthy (consecutive errors: %d)", errs)
		}
		return nil
	}

	err := b.client.NewPingService().Do(ctx)

	b.mu.Lock()
	b.lastHealthCheck = time.Now()
	b.healthy = err == nil
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("binance health check failed: %v", err)
	}
	return nil
}

// Close performs cleanup. The HTTP client holds no persistent connections.
func (b *BinanceAdapter) Close() error {
	return nil
}

// TightenStop replaces the protective stop with one at newPrice. The new
// order is placed before the old ones are cancelled so the position is
// never left uncovered; a leftover stop further from mark is harmless.
func (b *BinanceAdapter) TightenStop(ctx context.Context, symbol string, newPrice float64) (*OrderAck, error) {
	return b.replaceTrigger(ctx, symbol, "sl", futures.OrderTypeStopMarket, newPrice)
}

// AdjustTakeProfit replaces the take-profit trigger with one at newPrice.
func (b *BinanceAdapter) AdjustTakeProfit(ctx context.Context, symbol string, newPrice float64) (*OrderAck, error) {
	return b.replaceTrigger(ctx, symbol, "tp", futures.OrderTypeTakeProfitMarket, newPrice)
}

// PartialClose reduces the position by fraction with a reduce-only market
// order.
func (b *BinanceAdapter) PartialClose(ctx context.Context, symbol string, fraction float64) (*OrderAck, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if fraction <= 0 || fraction >= 1 {
		return nil, NewBadParamsError(symbol, fmt.Sprintf("fraction %v outside (0,1)", fraction))
	}
	pos, err := b.positionFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	qty, err := b.formatQuantity(ctx, symbol, pos.Size*fraction)
	if err != nil {
		return nil, err
	}

	res, err := b.submitOrder(ctx, symbol, "partial_close", func(svc *futures.CreateOrderService) *futures.CreateOrderService {
		return svc.
			Side(closingSide(pos.Side)).
			Type(futures.OrderTypeMarket).
			Quantity(qty).
			ReduceOnly(true)
	})
	if err != nil {
		return nil, err
	}
	return b.ack(res), nil
}

// ClosePosition flattens the position with a reduce-only market order and
// then cancels any leftover conditional orders for the symbol.
func (b *BinanceAdapter) ClosePosition(ctx context.Context, symbol string, reason string) (*OrderAck, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	pos, err := b.positionFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	qty, err := b.formatQuantity(ctx, symbol, pos.Size)
	if err != nil {
		return nil, err
	}

	res, err := b.submitOrder(ctx, symbol, "close", func(svc *futures.CreateOrderService) *futures.CreateOrderService {
		return svc.
			Side(closingSide(pos.Side)).
			Type(futures.OrderTypeMarket).
			Quantity(qty).
			ReduceOnly(true)
	})
	if err != nil {
		return nil, err
	}

	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		observ.Log("order_cancel_leftovers_failed", map[string]any{
			"symbol": symbol,
			"error":  err.Error(),
		})
	}
	return b.ack(res), nil
}

// replaceTrigger places a close-position conditional at newPrice and then
// cancels the previous conditionals of the same kind.
func (b *BinanceAdapter) replaceTrigger(ctx context.Context, symbol, kind string, orderType futures.OrderType, newPrice float64) (*OrderAck, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if newPrice <= 0 {
		return nil, NewBadParamsError(symbol, fmt.Sprintf("trigger price %v must be positive", newPrice))
	}
	pos, err := b.positionFor(ctx, symbol)
	if err != nil {
		return nil, err
	}

	existing, err := b.listOpenOrders(ctx, symbol)
	if err != nil {
		return nil, b.classifyOrderErr(symbol, err)
	}

	price, err := b.formatPrice(ctx, symbol, newPrice)
	if err != nil {
		return nil, err
	}

	res, err := b.submitOrder(ctx, symbol, kind, func(svc *futures.CreateOrderService) *futures.CreateOrderService {
		return svc.
			Side(closingSide(pos.Side)).
			Type(orderType).
			StopPrice(price).
			ClosePosition(true).
			WorkingType(futures.WorkingTypeMarkPrice)
	})
	if err != nil {
		return nil, err
	}

	for _, o := range existing {
		if k, ok := triggerKind(o.Type); !ok || k != kind {
			continue
		}
		if o.OrderID == res.OrderID {
			continue
		}
		if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx); err != nil {
			if !isUnknownOrderErr(err) {
				observ.Log("order_cancel_stale_trigger_failed", map[string]any{
					"symbol":   symbol,
					"order_id": o.OrderID,
					"error":    err.Error(),
				})
			}
		}
	}

	ack := b.ack(res)
	ack.Price = newPrice
	return ack, nil
}

// submitOrder fills in the shared builder fields, runs the request, and
// classifies failures. Retry policy is the caller's: the advisor already
// retries retriable closes once, so the adapter never retries orders.
func (b *BinanceAdapter) submitOrder(ctx context.Context, symbol, method string, build func(*futures.CreateOrderService) *futures.CreateOrderService) (*futures.CreateOrderResponse, error) {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return nil, NewOrderNetworkError(symbol, "rate limit wait cancelled", err)
	}

	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		NewClientOrderID(newClientOrderID())
	svc = build(svc)

	res, err := svc.Do(ctx)
	observ.IncCounter("order_requests_total", map[string]string{"method": method})
	if err != nil {
		if isTimestampError(err) {
			b.syncServerTime(ctx)
		}
		observ.Log("order_failed", map[string]any{
			"symbol": symbol,
			"method": method,
			"error":  err.Error(),
		})
		return nil, b.classifyOrderErr(symbol, err)
	}

	b.invalidatePositions()
	observ.Log("order_submitted", map[string]any{
		"symbol":   symbol,
		"method":   method,
		"order_id": res.OrderID,
		"status":   string(res.Status),
	})
	return res, nil
}

func (b *BinanceAdapter) ack(res *futures.CreateOrderResponse) *OrderAck {
	price, _ := strconv.ParseFloat(res.AvgPrice, 64)
	if price == 0 {
		price, _ = strconv.ParseFloat(res.StopPrice, 64)
	}
	qty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	return &OrderAck{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Status:        string(res.Status),
		Price:         price,
		Quantity:      qty,
	}
}

// positionFor resolves the open position backing an order request.
func (b *BinanceAdapter) positionFor(ctx context.Context, symbol string) (PositionInfo, error) {
	positions, err := b.ListOpenPositions(ctx)
	if err != nil {
		return PositionInfo{}, NewOrderNetworkError(symbol, "position lookup failed", err)
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return PositionInfo{}, NewNoPositionError(symbol)
}

func (b *BinanceAdapter) listOpenOrders(ctx context.Context, symbol string) ([]*futures.Order, error) {
	var orders []*futures.Order
	err := b.doRead(ctx, "open_orders", func(c context.Context) error {
		var e error
		orders, e = b.client.NewListOpenOrdersService().Symbol(symbol).Do(c)
		return e
	})
	return orders, err
}

// doRead runs a read call under the rate limiter and per-call timeout,
// retrying transient failures with exponential backoff.
func (b *BinanceAdapter) doRead(ctx context.Context, call string, fn func(context.Context) error) error {
	observ.IncCounter("provider_requests_total", map[string]string{"call": call})

	var lastErr error
	for attempt := 0; attempt < b.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(b.config.BackoffBaseMs*(1<<attempt)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := b.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(b.config.TimeoutSeconds)*time.Second)
		err := fn(callCtx)
		cancel()
		if err == nil {
			b.recordSuccess()
			return nil
		}
		lastErr = err
		b.recordError()
		if isTimestampError(err) {
			b.syncServerTime(ctx)
			continue
		}
		if !isRetriableRead(err) {
			return lastErr
		}
	}
	return lastErr
}

// symbolRule returns cached exchange rules, refreshing the whole table at
// most hourly. Filters change rarely enough that a stale hour is fine.
func (b *BinanceAdapter) symbolRule(ctx context.Context, symbol string) (symbolRule, error) {
	b.mu.RLock()
	rule, ok := b.rules[symbol]
	fresh := time.Since(b.rulesFetchedAt) < time.Hour
	b.mu.RUnlock()
	if ok && fresh {
		return rule, nil
	}

	var info *futures.ExchangeInfo
	err := b.doRead(ctx, "exchange_info", func(c context.Context) error {
		var e error
		info, e = b.client.NewExchangeInfoService().Do(c)
		return e
	})
	if err != nil {
		if ok {
			return rule, nil // stale beats unavailable
		}
		return symbolRule{}, b.classifyProviderErr(symbol, err)
	}

	rules := make(map[string]symbolRule, len(info.Symbols))
	for _, s := range info.Symbols {
		r := symbolRule{
			qtyPrecision:   s.QuantityPrecision,
			pricePrecision: s.PricePrecision,
		}
		for _, filter := range s.Filters {
			if filter["filterType"] == "LOT_SIZE" {
				if minQty, isStr := filter["minQty"].(string); isStr {
					r.minQty, _ = strconv.ParseFloat(minQty, 64)
				}
			}
		}
		rules[s.Symbol] = r
	}

	b.mu.Lock()
	b.rules = rules
	b.rulesFetchedAt = time.Now()
	rule, ok = rules[symbol]
	b.mu.Unlock()

	if !ok {
		return symbolRule{}, NewBadSymbolError(symbol, "symbol not in exchange info")
	}
	return rule, nil
}

func (b *BinanceAdapter) formatQuantity(ctx context.Context, symbol string, qty float64) (string, error) {
	rule, err := b.symbolRule(ctx, symbol)
	if err != nil {
		return "", NewBadParamsError(symbol, fmt.Sprintf("quantity precision unknown: %v", err))
	}
	formatted := strconv.FormatFloat(qty, 'f', rule.qtyPrecision, 64)
	if v, _ := strconv.ParseFloat(formatted, 64); v <= 0 || v < rule.minQty {
		return "", NewBadParamsError(symbol, fmt.Sprintf("quantity %s below exchange minimum %v", formatted, rule.minQty))
	}
	return formatted, nil
}

func (b *BinanceAdapter) formatPrice(ctx context.Context, symbol string, px float64) (string, error) {
	rule, err := b.symbolRule(ctx, symbol)
	if err != nil {
		return "", NewBadParamsError(symbol, fmt.Sprintf("price precision unknown: %v", err))
	}
	return strconv.FormatFloat(px, 'f', rule.pricePrecision, 64), nil
}

func (b *BinanceAdapter) cacheTTL() time.Duration {
	return time.Duration(b.config.CacheTTLSeconds) * time.Second
}

func (b *BinanceAdapter) invalidatePositions() {
	b.mu.Lock()
	b.cachedPositions = nil
	b.equityFetchedAt = time.Time{}
	b.mu.Unlock()
}

func (b *BinanceAdapter) recordError() {
	b.mu.Lock()
	b.consecutiveErrors++
	if b.consecutiveErrors >= 3 {
		b.healthy = false
	}
	n := b.consecutiveErrors
	b.mu.Unlock()
	observ.SetGauge("provider_consec_errors", float64(n), nil)
}

func (b *BinanceAdapter) recordSuccess() {
	b.mu.Lock()
	b.consecutiveErrors = 0
	b.healthy = true
	b.mu.Unlock()
	observ.SetGauge("provider_consec_errors", 0, nil)
}

// syncServerTime aligns the signing clock with the exchange, at most once
// per minute.
func (b *BinanceAdapter) syncServerTime(ctx context.Context) {
	b.mu.Lock()
	if time.Since(b.lastTimeSync) < time.Minute {
		b.mu.Unlock()
		return
	}
	b.lastTimeSync = time.Now()
	b.mu.Unlock()

	offset, err := b.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		observ.Log("binance_time_sync_failed", map[string]any{"error": err.Error()})
		return
	}
	if offset > 1000 || offset < -1000 {
		observ.Log("binance_time_offset", map[string]any{"offset_ms": offset})
	}
}

func (b *BinanceAdapter) classifyProviderErr(symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // request weight / order rate exceeded
			return NewRateLimitError(symbol, apiErr.Message)
		case -1121: // invalid symbol
			return NewBadSymbolError(symbol, apiErr.Message)
		default:
			return NewProviderError(symbol, apiErr.Message, err)
		}
	}
	return NewNetworkError(symbol, "request failed", err)
}

func (b *BinanceAdapter) classifyOrderErr(symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015, -1021: // rate limited or clock drift; worth one retry
			return NewOrderNetworkError(symbol, apiErr.Message, err)
		case -2022: // reduce-only rejected: nothing left to reduce
			return NewNoPositionError(symbol)
		case -2021: // would trigger immediately
			return NewBadParamsError(symbol, apiErr.Message)
		case -1111, -4014: // precision / tick size
			return NewBadParamsError(symbol, apiErr.Message)
		default:
			return NewExchangeRejectError(symbol, apiErr.Message, err)
		}
	}
	return NewOrderNetworkError(symbol, "request failed", err)
}

// triggerKind maps a Binance conditional order type to "sl"/"tp".
func triggerKind(t futures.OrderType) (string, bool) {
	switch t {
	case futures.OrderTypeStop, futures.OrderTypeStopMarket:
		return "sl", true
	case futures.OrderTypeTakeProfit, futures.OrderTypeTakeProfitMarket:
		return "tp", true
	default:
		return "", false
	}
}

// closingSide is the order side that reduces the given position side.
func closingSide(positionSide string) futures.SideType {
	if positionSide == "long" {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func newClientOrderID() string {
	return "hb-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isTimestampError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "-1021") || strings.Contains(msg, "recvWindow") || strings.Contains(msg, "Timestamp")
}

func isUnknownOrderErr(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == -2011
}

// isRetriableRead reports whether a read failure is worth another attempt.
// API rejections other than rate limits are deterministic.
func isRetriableRead(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == -1003 || apiErr.Code == -1015
	}
	return true
}
