package adapters

import (
	"os"
	"strings"

	"github.com/YoByron/Bijaz/internal/observ"
)

// StackFactory creates the provider, executor and LLM implementations
// based on configuration. Selection errors degrade to mock rather than
// failing startup: a heartbeat that watches nothing is safer than one that
// crashes while positions are open elsewhere.
type StackFactory struct {
	config StackConfig
}

// StackConfig selects and parameterizes the adapter implementations.
type StackConfig struct {
	Provider string // "mock" | "sim" | "binance"
	LLM      string // "mock" | "openai"
	Binance  BinanceProviderConfig
	OpenAI   OpenAIProviderConfig
}

// BinanceProviderConfig names the credential env vars and carries pacing
// knobs for the live adapter.
type BinanceProviderConfig struct {
	APIKeyEnv          string
	APISecretEnv       string
	Testnet            bool
	RateLimitPerSecond int
	CacheTTLSeconds    int
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

// OpenAIProviderConfig names the credential env var and carries transport
// knobs for the completion client.
type OpenAIProviderConfig struct {
	APIKeyEnv          string
	BaseURL            string
	Model              string
	RateLimitPerMinute int
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

// NewStackFactory creates a new factory.
func NewStackFactory(config StackConfig) *StackFactory {
	return &StackFactory{config: config}
}

// CreateProvider creates the position provider plus its paired order
// executor. The pairing matters: the mock and sim executors mutate their
// provider's book, and the Binance adapter serves both roles itself.
func (f *StackFactory) CreateProvider() (PositionProvider, OrderExecutor, error) {
	name := strings.ToLower(strings.TrimSpace(f.config.Provider))

	if envProvider := os.Getenv("PROVIDER"); envProvider != "" {
		name = strings.ToLower(strings.TrimSpace(envProvider))
		observ.Log("position_provider_override", map[string]any{
			"config_provider": f.config.Provider,
			"env_override":    name,
		})
	}

	switch name {
	case "mock":
		observ.Log("position_provider_created", map[string]any{
			"type":   "mock",
			"reason": "deterministic testing",
		})
		mock := NewMockProvider()
		return mock, NewMockExecutor(mock), nil

	case "sim":
		observ.Log("position_provider_created", map[string]any{
			"type":   "sim",
			"reason": "paper mode",
		})
		sim := NewSimProvider()
		return sim, NewSimExecutor(sim), nil

	case "binance":
		return f.createBinance()

	default:
		observ.Log("position_provider_fallback", map[string]any{
			"requested_provider": name,
			"fallback_to":        "mock",
			"reason":             "unknown provider type",
		})
		mock := NewMockProvider()
		return mock, NewMockExecutor(mock), nil
	}
}

// createBinance creates the live adapter with safety checks.
func (f *StackFactory) createBinance() (PositionProvider, OrderExecutor, error) {
	config := f.config.Binance

	apiKey := ""
	if config.APIKeyEnv != "" {
		apiKey = os.Getenv(config.APIKeyEnv)
	}
	apiSecret := ""
	if config.APISecretEnv != "" {
		apiSecret = os.Getenv(config.APISecretEnv)
	}

	if apiKey == "" || apiSecret == "" {
		observ.Log("position_provider_fallback", map[string]any{
			"requested_provider": "binance",
			"fallback_to":        "mock",
			"reason":             "missing API credentials",
			"api_key_env":        config.APIKeyEnv,
			"api_secret_env":     config.APISecretEnv,
		})
		mock := NewMockProvider()
		return mock, NewMockExecutor(mock), nil
	}

	adapter, err := NewBinanceAdapter(BinanceConfig{
		APIKey:             apiKey,
		APISecret:          apiSecret,
		Testnet:            config.Testnet,
		RateLimitPerSecond: config.RateLimitPerSecond,
		CacheTTLSeconds:    config.CacheTTLSeconds,
		TimeoutSeconds:     config.TimeoutSeconds,
		MaxRetries:         config.MaxRetries,
		BackoffBaseMs:      config.BackoffBaseMs,
	})
	if err != nil {
		observ.Log("position_provider_fallback", map[string]any{
			"requested_provider": "binance",
			"fallback_to":        "mock",
			"reason":             "adapter creation failed",
			"error":              err.Error(),
		})
		mock := NewMockProvider()
		return mock, NewMockExecutor(mock), nil
	}

	observ.Log("position_provider_created", map[string]any{
		"type":           "binance",
		"testnet":        config.Testnet,
		"rate_limit_ps":  config.RateLimitPerSecond,
		"cache_ttl_sec":  config.CacheTTLSeconds,
		"api_key_masked": maskAPIKey(apiKey),
	})
	return adapter, adapter, nil
}

// CreateLLM creates the advisory completion client.
func (f *StackFactory) CreateLLM() (LLMClient, error) {
	name := strings.ToLower(strings.TrimSpace(f.config.LLM))

	if envLLM := os.Getenv("LLM_PROVIDER"); envLLM != "" {
		name = strings.ToLower(strings.TrimSpace(envLLM))
		observ.Log("llm_adapter_override", map[string]any{
			"config_llm":   f.config.LLM,
			"env_override": name,
		})
	}

	switch name {
	case "mock":
		observ.Log("llm_adapter_created", map[string]any{
			"type":   "mock",
			"reason": "deterministic testing",
		})
		return NewMockLLM(), nil

	case "openai":
		return f.createOpenAI()

	default:
		observ.Log("llm_adapter_fallback", map[string]any{
			"requested_llm": name,
			"fallback_to":   "mock",
			"reason":        "unknown llm type",
		})
		return NewMockLLM(), nil
	}
}

// createOpenAI creates the completion client with safety checks.
func (f *StackFactory) createOpenAI() (LLMClient, error) {
	config := f.config.OpenAI

	apiKey := ""
	if config.APIKeyEnv != "" {
		apiKey = os.Getenv(config.APIKeyEnv)
	}
	if apiKey == "" {
		observ.Log("llm_adapter_fallback", map[string]any{
			"requested_llm": "openai",
			"fallback_to":   "mock",
			"reason":        "missing API key",
			"api_key_env":   config.APIKeyEnv,
		})
		return NewMockLLM(), nil
	}

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:             apiKey,
		BaseURL:            config.BaseURL,
		Model:              config.Model,
		RateLimitPerMinute: config.RateLimitPerMinute,
		TimeoutSeconds:     config.TimeoutSeconds,
		MaxRetries:         config.MaxRetries,
		BackoffBaseMs:      config.BackoffBaseMs,
	})
	if err != nil {
		observ.Log("llm_adapter_fallback", map[string]any{
			"requested_llm": "openai",
			"fallback_to":   "mock",
			"reason":        "adapter creation failed",
			"error":         err.Error(),
		})
		return NewMockLLM(), nil
	}

	observ.Log("llm_adapter_created", map[string]any{
		"type":           "openai",
		"base_url":       client.config.BaseURL,
		"model":          client.config.Model,
		"rate_limit_pm":  config.RateLimitPerMinute,
		"api_key_masked": maskAPIKey(apiKey),
	})
	return client, nil
}

// maskAPIKey masks sensitive API key for logging.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
