package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Triggers struct {
	PnlShiftPct                float64 `yaml:"pnl_shift_pct"`
	ApproachingStopPct         float64 `yaml:"approaching_stop_pct"`
	ApproachingTpPct           float64 `yaml:"approaching_tp_pct"`
	LiquidationProximityPct    float64 `yaml:"liquidation_proximity_pct"`
	FundingSpike               float64 `yaml:"funding_spike"`
	VolatilitySpikePct         float64 `yaml:"volatility_spike_pct"`
	VolatilitySpikeWindowTicks int     `yaml:"volatility_spike_window_ticks"`
	TimeCeilingMinutes         int     `yaml:"time_ceiling_minutes"`
	TriggerCooldownSeconds     int     `yaml:"trigger_cooldown_seconds"`
}

type CircuitBreakers struct {
	LiqPct  float64 `yaml:"liq_pct"`
	LossPct float64 `yaml:"loss_pct"` // negative: pnl % of equity below this forces a close
}

type LLM struct {
	MaxAdvisorCallsPerHour int     `yaml:"max_advisor_calls_per_hour"`
	MaxTokens              int     `yaml:"max_tokens"`
	Temperature            float64 `yaml:"temperature"`
	BaseURL                string  `yaml:"base_url"`
	Model                  string  `yaml:"model"`
}

type Heartbeat struct {
	Enabled                   bool            `yaml:"enabled"`
	TickIntervalSeconds       int             `yaml:"tick_interval_seconds"`
	SupervisorIntervalSeconds int             `yaml:"supervisor_interval_seconds"`
	RollingBufferSize         int             `yaml:"rolling_buffer_size"`
	Triggers                  Triggers        `yaml:"triggers"`
	CircuitBreakers           CircuitBreakers `yaml:"circuit_breakers"`
	LLM                       LLM             `yaml:"llm"`
	Notify                    bool            `yaml:"notify"`
}

type Journal struct {
	Path             string `yaml:"path"`
	DedupeWindowSecs int    `yaml:"dedupe_window_seconds"`
}

// Adapters selects the implementations behind the provider and LLM
// interfaces. Unknown names fall back to mock at construction time rather
// than failing validation, so a typo degrades instead of crashing.
type Adapters struct {
	Provider string          `yaml:"provider"` // "mock" | "sim" | "binance"
	LLM      string          `yaml:"llm"`      // "mock" | "openai"
	Binance  BinanceProvider `yaml:"binance"`
	OpenAI   OpenAIProvider  `yaml:"openai"`
}

// BinanceProvider holds connection and pacing settings for the live
// Binance USDT-M futures adapter. Secrets are named by env var, never
// stored in the file.
type BinanceProvider struct {
	APIKeyEnv          string `yaml:"api_key_env"`
	APISecretEnv       string `yaml:"api_secret_env"`
	Testnet            bool   `yaml:"testnet"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
}

// OpenAIProvider holds transport settings for the OpenAI-compatible
// completion endpoint. Model, temperature and token limits live under
// heartbeat.llm because they shape advisory behavior, not transport.
type OpenAIProvider struct {
	APIKeyEnv          string `yaml:"api_key_env"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
}

// Telegram configures the push-notification channel.
type Telegram struct {
	Enabled             bool   `yaml:"enabled"`
	BotTokenEnv         string `yaml:"bot_token_env"`
	ChatIDEnv           string `yaml:"chat_id_env"`
	QueueSize           int    `yaml:"queue_size"`
	RateLimitPerMin     int    `yaml:"rate_limit_per_min"`
	DedupeWindowSeconds int    `yaml:"dedupe_window_seconds"`
}

type Root struct {
	Heartbeat Heartbeat `yaml:"heartbeat"`
	Adapters  Adapters  `yaml:"adapters"`
	Telegram  Telegram  `yaml:"telegram"`
	Journal   Journal   `yaml:"journal"`
	DataDir   string    `yaml:"data_dir"`
}

// Load reads the YAML config on top of the defaults, so absent keys keep
// their default value and present keys override it.
func Load(path string) (Root, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	if err := validate(&c); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns the config used when no file is given.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	h := &c.Heartbeat
	h.Enabled = true
	h.Notify = true

	if h.TickIntervalSeconds == 0 {
		h.TickIntervalSeconds = 30
	}
	if h.SupervisorIntervalSeconds == 0 {
		h.SupervisorIntervalSeconds = 60
	}
	if h.RollingBufferSize == 0 {
		h.RollingBufferSize = 60
	}

	t := &h.Triggers
	if t.PnlShiftPct == 0 {
		t.PnlShiftPct = 1.5
	}
	if t.ApproachingStopPct == 0 {
		t.ApproachingStopPct = 1.0
	}
	if t.ApproachingTpPct == 0 {
		t.ApproachingTpPct = 1.0
	}
	if t.LiquidationProximityPct == 0 {
		t.LiquidationProximityPct = 5.0
	}
	if t.FundingSpike == 0 {
		t.FundingSpike = 0.0001
	}
	if t.VolatilitySpikePct == 0 {
		t.VolatilitySpikePct = 2.0
	}
	if t.VolatilitySpikeWindowTicks == 0 {
		t.VolatilitySpikeWindowTicks = 10
	}
	if t.TimeCeilingMinutes == 0 {
		t.TimeCeilingMinutes = 15
	}
	if t.TriggerCooldownSeconds == 0 {
		t.TriggerCooldownSeconds = 180
	}

	cb := &h.CircuitBreakers
	if cb.LiqPct == 0 {
		cb.LiqPct = 2.0
	}
	if cb.LossPct == 0 {
		cb.LossPct = -5.0
	}

	l := &h.LLM
	if l.MaxAdvisorCallsPerHour == 0 {
		l.MaxAdvisorCallsPerHour = 20
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 1024
	}
	if l.Temperature == 0 {
		l.Temperature = 0.2
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}

	a := &c.Adapters
	if a.Provider == "" {
		a.Provider = "mock" // safe default for development
	}
	if a.LLM == "" {
		a.LLM = "mock"
	}
	b := &a.Binance
	if b.APIKeyEnv == "" {
		b.APIKeyEnv = "BINANCE_API_KEY"
	}
	if b.APISecretEnv == "" {
		b.APISecretEnv = "BINANCE_API_SECRET"
	}
	if b.RateLimitPerSecond == 0 {
		b.RateLimitPerSecond = 5
	}
	if b.CacheTTLSeconds == 0 {
		b.CacheTTLSeconds = 5
	}
	if b.TimeoutSeconds == 0 {
		b.TimeoutSeconds = 10
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = 3
	}
	if b.BackoffBaseMs == 0 {
		b.BackoffBaseMs = 500
	}
	o := &a.OpenAI
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "LLM_API_KEY"
	}
	if o.RateLimitPerMinute == 0 {
		o.RateLimitPerMinute = 30
	}
	if o.TimeoutSeconds == 0 {
		o.TimeoutSeconds = 30
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.BackoffBaseMs == 0 {
		o.BackoffBaseMs = 1000
	}

	tg := &c.Telegram
	if tg.BotTokenEnv == "" {
		tg.BotTokenEnv = "TELEGRAM_BOT_TOKEN"
	}
	if tg.ChatIDEnv == "" {
		tg.ChatIDEnv = "TELEGRAM_CHAT_ID"
	}
	if tg.QueueSize == 0 {
		tg.QueueSize = 256
	}
	if tg.RateLimitPerMin == 0 {
		tg.RateLimitPerMin = 20
	}
	if tg.DedupeWindowSeconds == 0 {
		tg.DedupeWindowSeconds = 60
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.jsonl"
	}
	if c.Journal.DedupeWindowSecs == 0 {
		c.Journal.DedupeWindowSecs = 90
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

func validate(c *Root) error {
	h := &c.Heartbeat
	if h.TickIntervalSeconds < 5 || h.TickIntervalSeconds > 600 {
		return fmt.Errorf("heartbeat.tick_interval_seconds %d outside [5,600]", h.TickIntervalSeconds)
	}
	if h.RollingBufferSize < 1 || h.RollingBufferSize > 10000 {
		return fmt.Errorf("heartbeat.rolling_buffer_size %d outside [1,10000]", h.RollingBufferSize)
	}
	if h.Triggers.TimeCeilingMinutes < 1 || h.Triggers.TimeCeilingMinutes > 10000 {
		return fmt.Errorf("heartbeat.triggers.time_ceiling_minutes %d outside [1,10000]", h.Triggers.TimeCeilingMinutes)
	}
	if h.Triggers.VolatilitySpikeWindowTicks < 2 {
		return fmt.Errorf("heartbeat.triggers.volatility_spike_window_ticks %d must be >= 2", h.Triggers.VolatilitySpikeWindowTicks)
	}
	if h.LLM.Temperature < 0 || h.LLM.Temperature > 0.3 {
		return fmt.Errorf("heartbeat.llm.temperature %.2f outside [0,0.3]", h.LLM.Temperature)
	}
	if h.CircuitBreakers.LossPct >= 0 {
		return fmt.Errorf("heartbeat.circuit_breakers.loss_pct %.2f must be negative", h.CircuitBreakers.LossPct)
	}
	if h.LLM.MaxAdvisorCallsPerHour < 1 {
		return fmt.Errorf("heartbeat.llm.max_advisor_calls_per_hour %d must be >= 1", h.LLM.MaxAdvisorCallsPerHour)
	}
	if c.Adapters.Binance.RateLimitPerSecond < 1 {
		return fmt.Errorf("adapters.binance.rate_limit_per_second %d must be >= 1", c.Adapters.Binance.RateLimitPerSecond)
	}
	if c.Telegram.QueueSize < 1 {
		return fmt.Errorf("telegram.queue_size %d must be >= 1", c.Telegram.QueueSize)
	}
	return nil
}
