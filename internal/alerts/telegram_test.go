package alerts

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/YoByron/Bijaz/internal/config"
)

func testTelegramCfg() config.Telegram {
	return config.Telegram{
		Enabled:             true,
		QueueSize:           8,
		RateLimitPerMin:     100,
		DedupeWindowSeconds: 60,
	}
}

func TestTelegramDedupesRepeatedAlerts(t *testing.T) {
	delivered := make(chan string, 16)
	client := newTelegramWithSender(testTelegramCfg(), func(text string) error {
		delivered <- text
		return nil
	})
	defer client.Close()

	client.Notify("⚠️ ETHUSDT advisor failed")
	client.Notify("⚠️ ETHUSDT advisor failed")
	client.Notify("✅ BTCUSDT position closed")

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case text := <-delivered:
			got[text]++
		case <-time.After(5 * time.Second):
			t.Fatalf("delivered %v, want two distinct alerts", got)
		}
	}
	select {
	case text := <-delivered:
		t.Fatalf("unexpected extra delivery %q", text)
	case <-time.After(100 * time.Millisecond):
	}
	if got["⚠️ ETHUSDT advisor failed"] != 1 || got["✅ BTCUSDT position closed"] != 1 {
		t.Fatalf("deliveries = %v", got)
	}
}

func TestTelegramRateLimitWindow(t *testing.T) {
	cfg := testTelegramCfg()
	cfg.RateLimitPerMin = 2
	delivered := make(chan string, 16)
	client := newTelegramWithSender(cfg, func(text string) error {
		delivered <- text
		return nil
	})
	defer client.Close()

	client.Notify("one")
	client.Notify("two")
	client.Notify("three") // beyond the per-minute budget, dropped at Notify

	for i := 0; i < 2; i++ {
		select {
		case <-delivered:
		case <-time.After(5 * time.Second):
			t.Fatal("the first two alerts should deliver")
		}
	}
	select {
	case text := <-delivered:
		t.Fatalf("rate-limited alert %q delivered", text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTelegramOverflowDropsOldest(t *testing.T) {
	cfg := testTelegramCfg()
	cfg.QueueSize = 2

	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var sent []string

	client := newTelegramWithSender(cfg, func(text string) error {
		once.Do(func() {
			close(started)
			<-gate
		})
		mu.Lock()
		sent = append(sent, text)
		mu.Unlock()
		return nil
	})
	defer client.Close()

	client.Notify("a") // worker picks this up and blocks inside send
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never started sending")
	}
	client.Notify("b")
	client.Notify("c")
	client.Notify("d") // queue holds b,c so d evicts b
	close(gate)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := append([]string(nil), sent...)
		mu.Unlock()
		if len(got) >= 3 {
			if want := []string{"a", "c", "d"}; !reflect.DeepEqual(got, want) {
				t.Fatalf("sent = %v, want %v", got, want)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sent = %v, want 3 deliveries", got)
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	n := len(sent)
	mu.Unlock()
	if n != 3 {
		t.Fatalf("sent %d alerts, want 3", n)
	}
}

func TestTelegramSendFailureDoesNotWedgeWorker(t *testing.T) {
	delivered := make(chan string, 16)
	client := newTelegramWithSender(testTelegramCfg(), func(text string) error {
		if text == "doomed" {
			return errors.New("telegram api: 502")
		}
		delivered <- text
		return nil
	})
	defer client.Close()

	client.Notify("doomed")
	client.Notify("healthy")

	select {
	case got := <-delivered:
		if got != "healthy" {
			t.Fatalf("delivered %q, want healthy", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("a failing alert wedged the queue")
	}
}

func TestTelegramDisabledOrEmptySendsNothing(t *testing.T) {
	cfg := testTelegramCfg()
	cfg.Enabled = false
	var mu sync.Mutex
	var count int
	client := newTelegramWithSender(cfg, func(string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	client.Notify("ignored while disabled")
	client.Close()

	enabled := newTelegramWithSender(testTelegramCfg(), func(string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	enabled.Notify("")
	time.Sleep(50 * time.Millisecond)
	enabled.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("sent %d alerts, want 0", count)
	}
}

func TestNewTelegramClientRequiresToken(t *testing.T) {
	cfg := testTelegramCfg()
	cfg.BotTokenEnv = "TEST_TG_TOKEN_UNSET"
	cfg.ChatIDEnv = "TEST_TG_CHAT_UNSET"

	if _, err := NewTelegramClient(cfg); err == nil {
		t.Fatal("want an error when the token env is unset")
	}
}

func TestNewTelegramClientRequiresNumericChatID(t *testing.T) {
	cfg := testTelegramCfg()
	cfg.BotTokenEnv = "TEST_TG_TOKEN"
	cfg.ChatIDEnv = "TEST_TG_CHAT"
	t.Setenv("TEST_TG_TOKEN", "123456:test-token")
	t.Setenv("TEST_TG_CHAT", "not-a-number")

	if _, err := NewTelegramClient(cfg); err == nil {
		t.Fatal("want an error for a non-numeric chat id")
	}
}
