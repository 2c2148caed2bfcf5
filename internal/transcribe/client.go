// Package transcribe is the speech-to-text client. It talks to a
// Whisper-style HTTP service that accepts an audio blob and returns the
// recognized text with the detected language.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
	"github.com/medscribe/go-scribe/pkg/circuitbreaker"
)

const serviceName = "transcription"

// Result is one transcription outcome.
type Result struct {
	Transcription string `json:"transcription"`
	Language      string `json:"language"`
}

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (*Result, error)
}

// Config holds transcription client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns defaults for a local Whisper service
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8001",
		Timeout: 30 * time.Second,
	}
}

// Client calls the transcription service over HTTP.
type Client struct {
	cfg     Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a new transcription client
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Transcribe posts the audio as multipart form data. An empty languageHint
// lets the service auto-detect.
func (c *Client) Transcribe(ctx context.Context, audio []byte, languageHint string) (*Result, error) {
	if len(audio) == 0 {
		return nil, apperror.Validationf("audio payload is empty")
	}

	call := func() (interface{}, error) {
		return c.doTranscribe(ctx, audio, languageHint)
	}

	var result interface{}
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Execute(ctx, call)
	} else {
		result, err = call()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperror.ExternalTimeout(serviceName, err)
		}
		return nil, apperror.External(serviceName, err)
	}
	return result.(*Result), nil
}

func (c *Client) doTranscribe(ctx context.Context, audio []byte, languageHint string) (*Result, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "chunk.webm")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if languageHint != "" {
		if err := writer.WriteField("language", languageHint); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.cfg.BaseURL+"/transcribe", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call transcription service: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
