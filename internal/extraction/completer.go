package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/pkg/circuitbreaker"
)

// Completer takes a prompt and returns the model's free-text output.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterConfig holds model endpoint configuration
type CompleterConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultCompleterConfig returns defaults for a messages-style endpoint
func DefaultCompleterConfig() CompleterConfig {
	return CompleterConfig{
		BaseURL:   "https://api.anthropic.com",
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 2000,
		Timeout:   60 * time.Second,
	}
}

// HTTPCompleter calls a messages-style completion endpoint. All calls run
// through a circuit breaker so a degraded model endpoint sheds load fast.
type HTTPCompleter struct {
	cfg     CompleterConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPCompleter creates a new HTTP completer
func NewHTTPCompleter(cfg CompleterConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*HTTPCompleter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCompleterConfig().Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultCompleterConfig().MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCompleterConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPCompleter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt and returns the concatenated text blocks.
func (c *HTTPCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	call := func() (interface{}, error) {
		return c.doComplete(ctx, prompt)
	}

	var result interface{}
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Execute(ctx, call)
	} else {
		result, err = call()
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPCompleter) doComplete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model endpoint: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("model endpoint %s: %s", parsed.Error.Type, parsed.Error.Message)
		}
		return "", fmt.Errorf("model endpoint returned status %d", resp.StatusCode)
	}

	var out bytes.Buffer
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("model returned no text content")
	}
	return out.String(), nil
}
