package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/YoByron/Bijaz/internal/adapters"
	"github.com/YoByron/Bijaz/internal/alerts"
	"github.com/YoByron/Bijaz/internal/config"
	"github.com/YoByron/Bijaz/internal/heartbeat"
	"github.com/YoByron/Bijaz/internal/journal"
	"github.com/YoByron/Bijaz/internal/observ"
)

var version = "dev"

func main() {
	var cfgPath string
	var oneShot bool
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.BoolVar(&oneShot, "oneshot", false, "tick every open position once and exit")
	flag.Parse()

	// Secrets come from the environment; .env is a local convenience.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
			log.Printf("config %s not found, using defaults (mock provider)", cfgPath)
		} else {
			log.Fatalf("load config: %v (did you copy config/config.example.yaml?)", err)
		}
	}

	// Apply environment variable overrides
	if v := os.Getenv("HEARTBEAT_ENABLED"); v != "" {
		cfg.Heartbeat.Enabled = v == "true"
	}
	if v := os.Getenv("TICK_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 5 {
			cfg.Heartbeat.TickIntervalSeconds = secs
		}
	}
	if v := os.Getenv("TELEGRAM_ENABLED"); v != "" {
		cfg.Telegram.Enabled = v == "true"
	}
	if v := os.Getenv("NOTIFIER"); v != "" {
		cfg.Telegram.Enabled = v == "telegram"
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		if cfg.Journal.Path == filepath.Join(cfg.DataDir, "journal.jsonl") {
			cfg.Journal.Path = filepath.Join(v, "journal.jsonl")
		}
		cfg.DataDir = v
	}

	observ.SetVersion(version)
	observ.Log("startup", map[string]any{
		"version":          version,
		"enabled":          cfg.Heartbeat.Enabled,
		"tick_interval_s":  cfg.Heartbeat.TickIntervalSeconds,
		"provider":         cfg.Adapters.Provider,
		"llm":              cfg.Adapters.LLM,
		"telegram_enabled": cfg.Telegram.Enabled,
		"data_dir":         cfg.DataDir,
		"oneshot":          oneShot,
	})

	if !cfg.Heartbeat.Enabled {
		observ.Log("heartbeat_disabled", map[string]any{"reason": "config"})
		return
	}

	// Journal first: nothing trades without an audit trail.
	jnl, err := journal.New(cfg.Journal.Path, cfg.Journal.DedupeWindowSecs)
	if err != nil {
		log.Fatalf("create journal: %v", err)
	}
	observ.Log("journal_init", map[string]any{
		"path":               cfg.Journal.Path,
		"dedupe_window_secs": cfg.Journal.DedupeWindowSecs,
	})

	var notifier heartbeat.Notifier = heartbeat.NopNotifier{}
	var telegramClient *alerts.TelegramClient
	if cfg.Heartbeat.Notify && cfg.Telegram.Enabled {
		telegramClient, err = alerts.NewTelegramClient(cfg.Telegram)
		if err != nil {
			// A broken notification channel must not keep positions
			// unwatched.
			observ.Log("telegram_init_failed", map[string]any{"error": err.Error()})
		} else {
			notifier = telegramClient
			observ.Log("telegram_init", map[string]any{
				"queue_size":    cfg.Telegram.QueueSize,
				"rate_per_min":  cfg.Telegram.RateLimitPerMin,
				"dedupe_window": cfg.Telegram.DedupeWindowSeconds,
			})
		}
	}

	factory := adapters.NewStackFactory(adapters.StackConfig{
		Provider: cfg.Adapters.Provider,
		LLM:      cfg.Adapters.LLM,
		Binance: adapters.BinanceProviderConfig{
			APIKeyEnv:          cfg.Adapters.Binance.APIKeyEnv,
			APISecretEnv:       cfg.Adapters.Binance.APISecretEnv,
			Testnet:            cfg.Adapters.Binance.Testnet,
			RateLimitPerSecond: cfg.Adapters.Binance.RateLimitPerSecond,
			CacheTTLSeconds:    cfg.Adapters.Binance.CacheTTLSeconds,
			TimeoutSeconds:     cfg.Adapters.Binance.TimeoutSeconds,
			MaxRetries:         cfg.Adapters.Binance.MaxRetries,
			BackoffBaseMs:      cfg.Adapters.Binance.BackoffBaseMs,
		},
		OpenAI: adapters.OpenAIProviderConfig{
			APIKeyEnv:          cfg.Adapters.OpenAI.APIKeyEnv,
			BaseURL:            cfg.Heartbeat.LLM.BaseURL,
			Model:              cfg.Heartbeat.LLM.Model,
			RateLimitPerMinute: cfg.Adapters.OpenAI.RateLimitPerMinute,
			TimeoutSeconds:     cfg.Adapters.OpenAI.TimeoutSeconds,
			MaxRetries:         cfg.Adapters.OpenAI.MaxRetries,
			BackoffBaseMs:      cfg.Adapters.OpenAI.BackoffBaseMs,
		},
	})

	provider, executor, err := factory.CreateProvider()
	if err != nil {
		log.Fatalf("create position provider: %v", err)
	}
	defer provider.Close()

	llm, err := factory.CreateLLM()
	if err != nil {
		log.Fatalf("create llm client: %v", err)
	}
	defer llm.Close()

	hbCfg := heartbeat.DefaultConfig()
	hbCfg.TickInterval = time.Duration(cfg.Heartbeat.TickIntervalSeconds) * time.Second
	hbCfg.SupervisorInterval = time.Duration(cfg.Heartbeat.SupervisorIntervalSeconds) * time.Second
	hbCfg.BufferSize = cfg.Heartbeat.RollingBufferSize
	hbCfg.Triggers = heartbeat.TriggerConfig{
		PnlShiftPct:                cfg.Heartbeat.Triggers.PnlShiftPct,
		ApproachingStopPct:         cfg.Heartbeat.Triggers.ApproachingStopPct,
		ApproachingTpPct:           cfg.Heartbeat.Triggers.ApproachingTpPct,
		LiquidationProximityPct:    cfg.Heartbeat.Triggers.LiquidationProximityPct,
		FundingSpike:               cfg.Heartbeat.Triggers.FundingSpike,
		VolatilitySpikePct:         cfg.Heartbeat.Triggers.VolatilitySpikePct,
		VolatilitySpikeWindowTicks: cfg.Heartbeat.Triggers.VolatilitySpikeWindowTicks,
		TimeCeilingMinutes:         cfg.Heartbeat.Triggers.TimeCeilingMinutes,
		GenericCooldownSeconds:     cfg.Heartbeat.Triggers.TriggerCooldownSeconds,
	}
	hbCfg.Breakers = heartbeat.BreakerConfig{
		LiqPct:  cfg.Heartbeat.CircuitBreakers.LiqPct,
		LossPct: cfg.Heartbeat.CircuitBreakers.LossPct,
	}
	hbCfg.Advisor.Temperature = cfg.Heartbeat.LLM.Temperature
	hbCfg.Advisor.MaxTokens = cfg.Heartbeat.LLM.MaxTokens
	hbCfg.Advisor.MaxCallsPerHour = cfg.Heartbeat.LLM.MaxAdvisorCallsPerHour

	sup := heartbeat.NewSupervisor(hbCfg, heartbeat.Deps{
		Provider: provider,
		Orders:   executor,
		LLM:      llm,
		Context:  adapters.StaticContext{},
		Journal:  jnl,
		Notifier: notifier,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if oneShot {
		if err := sup.RunOnce(ctx); err != nil {
			log.Fatalf("oneshot: %v", err)
		}
		if telegramClient != nil {
			// Give the worker time to drain queued alerts.
			time.Sleep(100 * time.Millisecond)
			telegramClient.Close()
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/health", observ.Health())
	mux.Handle("/healthz", observ.HealthHandler())
	addr := "127.0.0.1:8090" // bind to loopback to avoid firewall prompts
	observ.Log("metrics_listen", map[string]any{"addr": addr})
	go func() { _ = http.ListenAndServe(addr, mux) }()

	if err := sup.Run(ctx); err != nil {
		log.Fatalf("supervisor: %v", err)
	}

	if telegramClient != nil {
		time.Sleep(100 * time.Millisecond)
		telegramClient.Close()
	}
	observ.Log("shutdown_complete", nil)
}
