// Package notify delivers patient-facing messages over SMS and email. Each
// channel attempt is independent: one channel failing never stops another,
// and the caller decides what an overall success means.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Message is one notification to a patient.
type Message struct {
	PatientName string
	Phone       string
	Email       string
	Subject     string
	Body        string
	DocumentURL string
}

// Delivery is the outcome of one channel attempt.
type Delivery struct {
	Channel string    `json:"channel"`
	Target  string    `json:"target"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	SentAt  time.Time `json:"sentAt"`
}

// Channel is one delivery transport.
type Channel interface {
	Name() string
	// Applicable reports whether the message carries the contact detail
	// this channel needs.
	Applicable(msg *Message) bool
	Send(ctx context.Context, msg *Message) (target string, err error)
}

// Notifier fans a message out over all applicable channels.
type Notifier struct {
	channels []Channel
	logger   *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(channels []Channel, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{channels: channels, logger: logger}
}

// Send attempts every applicable channel and returns one Delivery per
// attempt. It returns an empty slice when no channel applies; the caller
// treats that as a validation problem, not a delivery failure.
func (n *Notifier) Send(ctx context.Context, msg *Message) []Delivery {
	var deliveries []Delivery
	for _, ch := range n.channels {
		if !ch.Applicable(msg) {
			continue
		}

		target, err := ch.Send(ctx, msg)
		d := Delivery{
			Channel: ch.Name(),
			Target:  target,
			Success: err == nil,
			SentAt:  time.Now().UTC(),
		}
		if err != nil {
			d.Error = err.Error()
			n.logger.Warn("notification channel failed",
				zap.String("channel", ch.Name()),
				zap.String("target", target),
				zap.Error(err))
		} else {
			n.logger.Info("notification delivered",
				zap.String("channel", ch.Name()),
				zap.String("target", target))
		}
		deliveries = append(deliveries, d)
	}
	return deliveries
}

// Delivered reports whether at least one channel succeeded.
func Delivered(deliveries []Delivery) bool {
	for _, d := range deliveries {
		if d.Success {
			return true
		}
	}
	return false
}
