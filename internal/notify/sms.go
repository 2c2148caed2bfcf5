package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/pkg/circuitbreaker"
)

// SMSConfig holds SMS gateway configuration
type SMSConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

// DefaultSMSConfig returns defaults for a Twilio-style gateway
func DefaultSMSConfig() SMSConfig {
	return SMSConfig{
		BaseURL: "https://api.twilio.com",
		Timeout: 15 * time.Second,
	}
}

// SMSChannel sends messages through a Twilio-style REST gateway.
type SMSChannel struct {
	cfg     SMSConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewSMSChannel creates a new SMS channel
func NewSMSChannel(cfg SMSConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*SMSChannel, error) {
	if cfg.BaseURL == "" || cfg.AccountSID == "" || cfg.From == "" {
		return nil, fmt.Errorf("sms gateway url, account sid and sender number are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMSConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMSChannel{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

func (s *SMSChannel) Name() string { return "sms" }

func (s *SMSChannel) Applicable(msg *Message) bool { return msg.Phone != "" }

// Send posts the message to the gateway. The target in the return value is
// the normalized number actually dialed.
func (s *SMSChannel) Send(ctx context.Context, msg *Message) (string, error) {
	to := NormalizePhone(msg.Phone)

	body := msg.Body
	if msg.DocumentURL != "" {
		body = body + "\n" + msg.DocumentURL
	}

	call := func() (interface{}, error) {
		return nil, s.post(ctx, to, body)
	}
	var err error
	if s.breaker != nil {
		_, err = s.breaker.Execute(ctx, call)
	} else {
		_, err = call()
	}
	return to, err
}

func (s *SMSChannel) post(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, s.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// NormalizePhone converts local Indian numbers to E.164. Numbers already
// carrying a country code pass through untouched.
func NormalizePhone(phone string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '+' {
			return r
		}
		return -1
	}, phone)

	switch {
	case strings.HasPrefix(cleaned, "+"):
		return cleaned
	case len(cleaned) == 10:
		return "+91" + cleaned
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "0"):
		return "+91" + cleaned[1:]
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "91"):
		return "+" + cleaned
	default:
		return "+" + cleaned
	}
}
