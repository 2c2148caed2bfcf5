package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPCompleterComplete(t *testing.T) {
	var gotVersion, gotKey string
	var gotReq messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": [{"type": "text", "text": "{\"diagnosis\""}, {"type": "text", "text": ": \"x\"}"}]}`))
	}))
	defer srv.Close()

	c, err := NewHTTPCompleter(CompleterConfig{BaseURL: srv.URL, APIKey: "key-123"}, nil, nil)
	if err != nil {
		t.Fatalf("NewHTTPCompleter: %v", err)
	}

	out, err := c.Complete(context.Background(), "extract this")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"diagnosis": "x"}` {
		t.Errorf("text blocks not concatenated: %q", out)
	}
	if gotVersion == "" || gotKey != "key-123" {
		t.Errorf("headers: version=%q key=%q", gotVersion, gotKey)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "extract this" {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.MaxTokens == 0 || gotReq.Model == "" {
		t.Errorf("defaults not applied: %+v", gotReq)
	}
}

func TestHTTPCompleterAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer srv.Close()

	c, err := NewHTTPCompleter(CompleterConfig{BaseURL: srv.URL}, nil, nil)
	if err != nil {
		t.Fatalf("NewHTTPCompleter: %v", err)
	}
	if _, err := c.Complete(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestHTTPCompleterNoTextContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": []}`))
	}))
	defer srv.Close()

	c, err := NewHTTPCompleter(CompleterConfig{BaseURL: srv.URL}, nil, nil)
	if err != nil {
		t.Fatalf("NewHTTPCompleter: %v", err)
	}
	if _, err := c.Complete(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty content")
	}
}
