package adapters

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMockExecutorCloseRemovesPosition(t *testing.T) {
	provider := NewMockProvider()
	exec := NewMockExecutor(provider)
	ctx := context.Background()

	ack, err := exec.ClosePosition(ctx, "ETHUSDT", "test close")
	if err != nil {
		t.Fatal(err)
	}
	if ack.OrderID == "" || ack.Symbol != "ETHUSDT" {
		t.Fatalf("ack = %+v", ack)
	}

	positions, err := provider.ListOpenPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range positions {
		if p.Symbol == "ETHUSDT" {
			t.Fatal("position survived the close")
		}
	}
	orders, err := provider.ListOpenTriggerOrders(ctx, "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 0 {
		t.Fatalf("trigger orders survived the close: %+v", orders)
	}
}

func TestMockExecutorPartialCloseScalesSize(t *testing.T) {
	provider := NewMockProvider()
	exec := NewMockExecutor(provider)
	ctx := context.Background()

	ack, err := exec.PartialClose(ctx, "ETHUSDT", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if ack.Quantity != 2.5 {
		t.Fatalf("remaining quantity = %v, want 2.5", ack.Quantity)
	}

	positions, err := provider.ListOpenPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range positions {
		if p.Symbol == "ETHUSDT" {
			if p.Size != 2.5 {
				t.Fatalf("size = %v, want 2.5", p.Size)
			}
			if p.UnrealizedPnl != 50 {
				t.Fatalf("pnl = %v, want the closed half realized away", p.UnrealizedPnl)
			}
		}
	}
}

func TestMockExecutorTightenReplacesOnlyStop(t *testing.T) {
	provider := NewMockProvider()
	exec := NewMockExecutor(provider)
	ctx := context.Background()

	ack, err := exec.TightenStop(ctx, "ETHUSDT", 2060)
	if err != nil {
		t.Fatal(err)
	}
	if ack.Price != 2060 {
		t.Fatalf("ack price = %v", ack.Price)
	}

	orders, err := provider.ListOpenTriggerOrders(ctx, "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	var stops, tps int
	for _, o := range orders {
		switch o.Kind {
		case "sl":
			stops++
			if o.TriggerPx != 2060 {
				t.Fatalf("stop moved to %v, want 2060", o.TriggerPx)
			}
			if o.OrderID == "mock-sl-1" {
				t.Fatal("stop order id should change on replace")
			}
		case "tp":
			tps++
			if o.TriggerPx != 2300 {
				t.Fatalf("take profit moved to %v, want untouched 2300", o.TriggerPx)
			}
		}
	}
	if stops != 1 || tps != 1 {
		t.Fatalf("orders = %+v, want one stop and one take profit", orders)
	}
}

func TestMockProviderFailNextConsumed(t *testing.T) {
	provider := NewMockProvider()
	ctx := context.Background()
	provider.FailNext("list", 2)

	for i := 1; i <= 2; i++ {
		if _, err := provider.ListOpenPositions(ctx); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}
	if _, err := provider.ListOpenPositions(ctx); err != nil {
		t.Fatalf("failures should be consumed: %v", err)
	}
	if got := provider.CallCount("list"); got != 3 {
		t.Fatalf("call count = %d, want 3", got)
	}
}

func TestMockExecutorInjectedFailuresAreRecorded(t *testing.T) {
	exec := NewMockExecutor(nil)
	ctx := context.Background()
	exec.FailNextOrder("close", 1, nil)

	_, err := exec.ClosePosition(ctx, "ETHUSDT", "test")
	var oe *OrderError
	if !errors.As(err, &oe) || !oe.Retriable {
		t.Fatalf("err = %v, want a retriable order error", err)
	}
	if _, err := exec.ClosePosition(ctx, "ETHUSDT", "test"); err != nil {
		t.Fatalf("second close should succeed: %v", err)
	}
	// failed attempts count, so retry behavior is observable
	if got := len(exec.Executed()); got != 2 {
		t.Fatalf("executed = %d, want both attempts recorded", got)
	}
}

func TestMockExecutorInjectedRejectKeepsType(t *testing.T) {
	exec := NewMockExecutor(nil)
	ctx := context.Background()
	exec.FailNextOrder("tighten_stop", 1, NewExchangeRejectError("", "would trigger immediately", nil))

	_, err := exec.TightenStop(ctx, "ETHUSDT", 2060)
	var oe *OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("err = %v, want an order error", err)
	}
	if oe.Retriable {
		t.Fatal("exchange rejects must not be retriable")
	}
	if oe.Symbol != "ETHUSDT" {
		t.Fatalf("symbol = %q, want filled from the call", oe.Symbol)
	}
}

func TestMockLLMReplayQueue(t *testing.T) {
	llm := NewMockLLM()
	ctx := context.Background()
	llm.QueueReply("first", "second")

	for _, want := range []string{"first", "second"} {
		got, err := llm.Complete(ctx, []Message{{Role: "user", Content: "hi"}}, CompleteOpts{})
		if err != nil || got != want {
			t.Fatalf("got %q, %v; want %q", got, err, want)
		}
	}

	// a drained queue falls back to a hold
	got, err := llm.Complete(ctx, nil, CompleteOpts{Temperature: 0.2, MaxTokens: 512})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `"action":"hold"`) {
		t.Fatalf("default reply = %q", got)
	}
	if llm.Calls() != 3 {
		t.Fatalf("calls = %d, want 3", llm.Calls())
	}
	if llm.LastOpts().MaxTokens != 512 {
		t.Fatalf("last opts = %+v", llm.LastOpts())
	}
}

func TestMockLLMFailNext(t *testing.T) {
	llm := NewMockLLM()
	ctx := context.Background()
	llm.QueueReply("kept for later")
	llm.FailNext(1, nil)

	if _, err := llm.Complete(ctx, nil, CompleteOpts{}); err == nil {
		t.Fatal("want an injected failure")
	}
	got, err := llm.Complete(ctx, nil, CompleteOpts{})
	if err != nil || got != "kept for later" {
		t.Fatalf("got %q, %v; the queue should survive injected failures", got, err)
	}
}
