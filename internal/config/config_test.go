package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()

	if !c.Heartbeat.Enabled || !c.Heartbeat.Notify {
		t.Fatal("heartbeat should default to enabled with notifications on")
	}
	if c.Heartbeat.TickIntervalSeconds != 30 || c.Heartbeat.SupervisorIntervalSeconds != 60 {
		t.Fatalf("intervals = %d/%d", c.Heartbeat.TickIntervalSeconds, c.Heartbeat.SupervisorIntervalSeconds)
	}
	if c.Heartbeat.RollingBufferSize != 60 {
		t.Fatalf("buffer = %d", c.Heartbeat.RollingBufferSize)
	}
	if c.Heartbeat.Triggers.PnlShiftPct != 1.5 || c.Heartbeat.Triggers.TimeCeilingMinutes != 15 {
		t.Fatalf("triggers = %+v", c.Heartbeat.Triggers)
	}
	if c.Heartbeat.Triggers.FundingSpike != 0.0001 || c.Heartbeat.Triggers.VolatilitySpikeWindowTicks != 10 {
		t.Fatalf("triggers = %+v", c.Heartbeat.Triggers)
	}
	if c.Heartbeat.CircuitBreakers.LiqPct != 2.0 || c.Heartbeat.CircuitBreakers.LossPct != -5.0 {
		t.Fatalf("breakers = %+v", c.Heartbeat.CircuitBreakers)
	}
	if c.Heartbeat.LLM.MaxAdvisorCallsPerHour != 20 || c.Heartbeat.LLM.Temperature != 0.2 {
		t.Fatalf("llm = %+v", c.Heartbeat.LLM)
	}
	if c.Heartbeat.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q", c.Heartbeat.LLM.Model)
	}
	if c.Adapters.Provider != "mock" || c.Adapters.LLM != "mock" {
		t.Fatalf("adapters = %+v", c.Adapters)
	}
	if c.Adapters.Binance.APIKeyEnv != "BINANCE_API_KEY" || c.Adapters.Binance.APISecretEnv != "BINANCE_API_SECRET" {
		t.Fatalf("binance env names = %+v", c.Adapters.Binance)
	}
	if c.Adapters.OpenAI.APIKeyEnv != "LLM_API_KEY" {
		t.Fatalf("openai env name = %q", c.Adapters.OpenAI.APIKeyEnv)
	}
	if c.Telegram.QueueSize != 256 || c.Telegram.RateLimitPerMin != 20 {
		t.Fatalf("telegram = %+v", c.Telegram)
	}
	if c.Journal.Path != "data/journal.jsonl" || c.Journal.DedupeWindowSecs != 90 {
		t.Fatalf("journal = %+v", c.Journal)
	}
	if c.DataDir != "data" {
		t.Fatalf("data dir = %q", c.DataDir)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
heartbeat:
  enabled: false
  tick_interval_seconds: 10
  triggers:
    pnl_shift_pct: 2.5
  llm:
    temperature: 0.1
    model: gpt-4o
adapters:
  provider: binance
  binance:
    testnet: true
telegram:
  enabled: true
journal:
  path: custom/journal.jsonl
`)

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Heartbeat.Enabled {
		t.Fatal("enabled: false in the file must survive the defaults")
	}
	if c.Heartbeat.TickIntervalSeconds != 10 {
		t.Fatalf("tick = %d, want 10", c.Heartbeat.TickIntervalSeconds)
	}
	if c.Heartbeat.Triggers.PnlShiftPct != 2.5 {
		t.Fatalf("pnl shift = %v, want 2.5", c.Heartbeat.Triggers.PnlShiftPct)
	}
	if c.Heartbeat.Triggers.ApproachingStopPct != 1.0 {
		t.Fatalf("untouched keys must keep defaults, got %v", c.Heartbeat.Triggers.ApproachingStopPct)
	}
	if c.Heartbeat.LLM.Temperature != 0.1 || c.Heartbeat.LLM.Model != "gpt-4o" {
		t.Fatalf("llm = %+v", c.Heartbeat.LLM)
	}
	if c.Adapters.Provider != "binance" || !c.Adapters.Binance.Testnet {
		t.Fatalf("adapters = %+v", c.Adapters)
	}
	if c.Adapters.Binance.RateLimitPerSecond != 5 {
		t.Fatalf("binance rate default lost: %d", c.Adapters.Binance.RateLimitPerSecond)
	}
	if !c.Telegram.Enabled {
		t.Fatal("telegram.enabled not applied")
	}
	if c.Journal.Path != "custom/journal.jsonl" || c.Journal.DedupeWindowSecs != 90 {
		t.Fatalf("journal = %+v", c.Journal)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "tick interval too fast",
			yaml: "heartbeat:\n  tick_interval_seconds: 2\n",
			want: "tick_interval_seconds",
		},
		{
			name: "tick interval too slow",
			yaml: "heartbeat:\n  tick_interval_seconds: 700\n",
			want: "tick_interval_seconds",
		},
		{
			name: "buffer too large",
			yaml: "heartbeat:\n  rolling_buffer_size: 20000\n",
			want: "rolling_buffer_size",
		},
		{
			name: "temperature too high",
			yaml: "heartbeat:\n  llm:\n    temperature: 0.5\n",
			want: "temperature",
		},
		{
			name: "loss pct must be negative",
			yaml: "heartbeat:\n  circuit_breakers:\n    loss_pct: 3\n",
			want: "loss_pct",
		},
		{
			name: "volatility window too short",
			yaml: "heartbeat:\n  triggers:\n    volatility_spike_window_ticks: 1\n",
			want: "volatility_spike_window_ticks",
		},
		{
			name: "advisor budget negative",
			yaml: "heartbeat:\n  llm:\n    max_advisor_calls_per_hour: -1\n",
			want: "max_advisor_calls_per_hour",
		},
		{
			name: "binance rate limit negative",
			yaml: "adapters:\n  binance:\n    rate_limit_per_second: -1\n",
			want: "rate_limit_per_second",
		},
		{
			name: "telegram queue negative",
			yaml: "telegram:\n  queue_size: -5\n",
			want: "queue_size",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("want an error for a missing file")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("error = %v, want not-exist", err)
	}
	if c.Heartbeat.TickIntervalSeconds != 30 {
		t.Fatal("the returned config should still carry defaults")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "\t:::nope")); err == nil {
		t.Fatal("want a parse error")
	}
}
