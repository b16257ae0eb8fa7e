// Package alerts pushes operator notifications. Delivery is best effort:
// alerts never block or fail the heartbeat that raised them.
package alerts

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/YoByron/Bijaz/internal/config"
	"github.com/YoByron/Bijaz/internal/observ"
)

type queuedAlert struct {
	text      string
	attempts  int
	nextRetry time.Time
	hash      string
}

// TelegramClient sends heartbeat notifications to a Telegram chat through
// a bounded queue with dedupe and rate limiting. It satisfies the
// heartbeat Notifier interface.
type TelegramClient struct {
	cfg         config.Telegram
	send        func(text string) error
	queue       chan queuedAlert
	dedupeCache map[string]time.Time
	sentTimes   []time.Time
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewTelegramClient resolves the bot token and chat ID from the env vars
// named in cfg and starts the delivery worker. The constructor performs a
// getMe call against the Telegram API, so it fails fast on a bad token.
func NewTelegramClient(cfg config.Telegram) (*TelegramClient, error) {
	token := os.Getenv(cfg.BotTokenEnv)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token env %s is empty", cfg.BotTokenEnv)
	}
	chatIDRaw := os.Getenv(cfg.ChatIDEnv)
	chatID, err := strconv.ParseInt(chatIDRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram chat id env %s: %w", cfg.ChatIDEnv, err)
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	send := func(text string) error {
		msg := tgbotapi.NewMessage(chatID, text)
		_, err := bot.Send(msg)
		return err
	}
	return newTelegramWithSender(cfg, send), nil
}

// newTelegramWithSender wires the queue and policies around an arbitrary
// delivery function.
func newTelegramWithSender(cfg config.Telegram, send func(text string) error) *TelegramClient {
	ctx, cancel := context.WithCancel(context.Background())

	client := &TelegramClient{
		cfg:         cfg,
		send:        send,
		queue:       make(chan queuedAlert, cfg.QueueSize),
		dedupeCache: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}

	go client.worker()
	go client.cleanup()

	return client
}

// Notify enqueues a message. Duplicate, rate-limited, or overflow messages
// are dropped silently; the caller must never stall on notification
// delivery.
func (t *TelegramClient) Notify(text string) {
	if !t.cfg.Enabled || text == "" {
		return
	}

	hash := hashText(text)

	t.mu.Lock()
	if lastSent, exists := t.dedupeCache[hash]; exists {
		if time.Since(lastSent) < t.dedupeWindow() {
			t.mu.Unlock()
			return
		}
	}
	t.dedupeCache[hash] = time.Now()
	limited := t.rateLimitedLocked()
	t.mu.Unlock()

	if limited {
		observ.IncCounter("alerts_rate_limited_total", nil)
		return
	}

	alert := queuedAlert{text: text, nextRetry: time.Now(), hash: hash}
	select {
	case t.queue <- alert:
	default:
		// Queue full: drop the oldest to keep the freshest alert.
		select {
		case <-t.queue:
			observ.IncCounter("alerts_dropped_total", nil)
		default:
		}
		select {
		case t.queue <- alert:
		default:
			observ.IncCounter("alerts_dropped_total", nil)
		}
	}
}

// rateLimitedLocked enforces the global sends-per-minute window and
// records the send when allowed.
func (t *TelegramClient) rateLimitedLocked() bool {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	filtered := t.sentTimes[:0]
	for _, ts := range t.sentTimes {
		if ts.After(cutoff) {
			filtered = append(filtered, ts)
		}
	}
	t.sentTimes = filtered

	if len(t.sentTimes) >= t.cfg.RateLimitPerMin {
		return true
	}
	t.sentTimes = append(t.sentTimes, now)
	return false
}

func (t *TelegramClient) worker() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case alert := <-t.queue:
			if time.Now().Before(alert.nextRetry) {
				go func() {
					time.Sleep(time.Until(alert.nextRetry))
					select {
					case t.queue <- alert:
					case <-t.ctx.Done():
					default:
						observ.IncCounter("alerts_dropped_total", nil)
					}
				}()
				continue
			}

			if err := t.send(alert.text); err != nil {
				alert.attempts++
				if alert.attempts < 3 {
					backoff := time.Duration(math.Pow(2, float64(alert.attempts))) * time.Second
					jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
					alert.nextRetry = time.Now().Add(backoff + jitter)
					select {
					case t.queue <- alert:
					case <-t.ctx.Done():
						return
					default:
						observ.IncCounter("alerts_dropped_total", nil)
					}
				} else {
					observ.IncCounter("alerts_send_errors_total", nil)
					observ.Log("telegram_send_failed", map[string]any{
						"attempts": alert.attempts,
						"error":    err.Error(),
					})
				}
				continue
			}
			observ.IncCounter("alerts_sent_total", nil)
		}
	}
}

func (t *TelegramClient) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			cutoff := time.Now().Add(-5 * time.Minute)
			for hash, timestamp := range t.dedupeCache {
				if timestamp.Before(cutoff) {
					delete(t.dedupeCache, hash)
				}
			}
			t.mu.Unlock()
		}
	}
}

// Close stops the worker. Queued alerts not yet delivered are abandoned.
func (t *TelegramClient) Close() {
	t.cancel()
}

func (t *TelegramClient) dedupeWindow() time.Duration {
	return time.Duration(t.cfg.DedupeWindowSeconds) * time.Second
}

func hashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", hash)[:16]
}
