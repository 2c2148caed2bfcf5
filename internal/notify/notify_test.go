package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

// fakeChannel is a scriptable channel for fan-out tests.
type fakeChannel struct {
	name       string
	applicable bool
	err        error
	calls      int
}

func (f *fakeChannel) Name() string                { return f.name }
func (f *fakeChannel) Applicable(msg *Message) bool { return f.applicable }
func (f *fakeChannel) Send(ctx context.Context, msg *Message) (string, error) {
	f.calls++
	return f.name + "-target", f.err
}

func TestSendFanOutIndependentFailures(t *testing.T) {
	sms := &fakeChannel{name: "sms", applicable: true, err: errors.New("gateway down")}
	email := &fakeChannel{name: "email", applicable: true}
	skipped := &fakeChannel{name: "push", applicable: false}

	n := NewNotifier([]Channel{sms, email, skipped}, nil)
	deliveries := n.Send(context.Background(), &Message{Phone: "x", Email: "y"})

	if len(deliveries) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(deliveries))
	}
	if skipped.calls != 0 {
		t.Error("inapplicable channel must not be attempted")
	}
	if email.calls != 1 {
		t.Error("email channel must still run after sms failure")
	}
	if deliveries[0].Success || deliveries[0].Error == "" {
		t.Errorf("sms delivery = %+v", deliveries[0])
	}
	if !deliveries[1].Success {
		t.Errorf("email delivery = %+v", deliveries[1])
	}
	if !Delivered(deliveries) {
		t.Error("one success should count as delivered")
	}
}

func TestSendNoApplicableChannels(t *testing.T) {
	n := NewNotifier([]Channel{&fakeChannel{name: "sms"}}, nil)
	deliveries := n.Send(context.Background(), &Message{})
	if len(deliveries) != 0 {
		t.Fatalf("expected no attempts, got %d", len(deliveries))
	}
	if Delivered(deliveries) {
		t.Error("empty result must not count as delivered")
	}
}

func TestDeliveredAllFailed(t *testing.T) {
	deliveries := []Delivery{
		{Channel: "sms", Success: false},
		{Channel: "email", Success: false},
	}
	if Delivered(deliveries) {
		t.Error("all failures must not count as delivered")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+919876543210", "+919876543210"},
		{"9876543210", "+919876543210"},
		{"09876543210", "+919876543210"},
		{"919876543210", "+919876543210"},
		{"98765 43210", "+919876543210"},
		{"(987) 654-3210", "+919876543210"},
		{"+14155552671", "+14155552671"},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmailChannelBuildsMessage(t *testing.T) {
	ch, err := NewEmailChannel(EmailConfig{Host: "smtp.local", From: "clinic@example.com"}, nil)
	if err != nil {
		t.Fatalf("NewEmailChannel: %v", err)
	}

	var gotAddr, gotBody string
	var gotTo []string
	ch.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotBody = string(msg)
		return nil
	}

	target, err := ch.Send(context.Background(), &Message{
		PatientName: "Asha",
		Email:       "asha@example.com",
		Subject:     "Your prescription",
		Body:        "Take rest.",
		DocumentURL: "https://docs/rx.pdf",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if target != "asha@example.com" {
		t.Errorf("target = %q", target)
	}
	if gotAddr != "smtp.local:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "asha@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	for _, want := range []string{"Subject: Your prescription", "Dear Asha,", "Take rest.", "https://docs/rx.pdf"} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("message missing %q:\n%s", want, gotBody)
		}
	}
}

func TestEmailChannelConfigValidation(t *testing.T) {
	if _, err := NewEmailChannel(EmailConfig{From: "x@y"}, nil); err == nil {
		t.Error("expected error for missing host")
	}
	if _, err := NewEmailChannel(EmailConfig{Host: "smtp.local"}, nil); err == nil {
		t.Error("expected error for missing sender")
	}
}
