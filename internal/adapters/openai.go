package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/YoByron/Bijaz/internal/observ"
)

// OpenAIClient implements LLMClient against any OpenAI-compatible
// chat-completions endpoint (OpenAI, OpenRouter, a local gateway). Only the
// first choice's content is returned; the caller extracts JSON from it.
type OpenAIClient struct {
	config      OpenAIConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// OpenAIConfig holds transport settings for the completion endpoint.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	RateLimitPerMinute int
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a completion client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 30
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 30
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = 1000
	}

	return &OpenAIClient{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
	}, nil
}

// Complete sends the chat messages and returns the first choice's content.
// Transient failures are retried with exponential backoff; API rejections
// are not.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts CompleteOpts) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", NewLLMNetworkError("rate limit wait cancelled", err)
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", NewLLMAPIError("marshal request", err)
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(c.config.BackoffBaseMs*(1<<attempt)) * time.Millisecond
			select {
			case <-ctx.Done():
				return "", classifyLLMCtx(ctx.Err())
			case <-time.After(backoff):
			}
		}

		content, err := c.doRequest(ctx, endpoint, body)
		if err == nil {
			observ.IncCounter("llm_requests_total", map[string]string{"status": "ok"})
			return content, nil
		}
		lastErr = err
		observ.IncCounter("llm_requests_total", map[string]string{"status": "error"})

		var llmErr *LLMError
		if errors.As(err, &llmErr) && !llmErr.Retriable {
			return "", err
		}
	}
	return "", lastErr
}

// Close performs cleanup. The HTTP client holds no persistent state.
func (c *OpenAIClient) Close() error {
	return nil
}

func (c *OpenAIClient) doRequest(ctx context.Context, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", NewLLMAPIError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", classifyLLMCtx(ctx.Err())
		}
		return "", NewLLMNetworkError("request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", NewLLMNetworkError("read response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", NewLLMNetworkError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 200)), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", NewLLMAPIError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 200)), nil)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", NewLLMAPIError("parse response", err)
	}
	if parsed.Error != nil {
		return "", NewLLMAPIError(parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return "", NewLLMEmptyError()
	}
	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", NewLLMEmptyError()
	}
	return content, nil
}

func classifyLLMCtx(err error) *LLMError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewLLMTimeoutError("completion deadline exceeded")
	}
	return NewLLMNetworkError("completion cancelled", err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
