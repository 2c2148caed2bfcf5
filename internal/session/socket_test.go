package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medscribe/go-scribe/internal/transcribe"
	"github.com/medscribe/go-scribe/pkg/workerpool"
)

// ctxRecordingStore captures the context state seen at lookup time. Join must
// run on a context that outlives the HTTP handler return.
type ctxRecordingStore struct {
	mu     sync.Mutex
	known  map[string]bool
	ctxErr error
	seen   bool
}

func (s *ctxRecordingStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	s.ctxErr = ctx.Err()
	s.seen = true
	s.mu.Unlock()
	return s.known[id], nil
}

type ctxRecordingTranscriber struct {
	mu     sync.Mutex
	text   string
	ctxErr error
	seen   bool
}

func (tr *ctxRecordingTranscriber) Transcribe(ctx context.Context, audio []byte, languageHint string) (*transcribe.Result, error) {
	tr.mu.Lock()
	tr.ctxErr = ctx.Err()
	tr.seen = true
	tr.mu.Unlock()
	return &transcribe.Result{Transcription: tr.text, Language: languageHint}, nil
}

func newSocketServer(t *testing.T, cfg SocketConfig, store *ctxRecordingStore, tr *ctxRecordingTranscriber) *httptest.Server {
	t.Helper()
	hub := NewHub(nil)
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = 2
	poolCfg.QueueSize = 16
	c, err := NewCoordinator(store, tr, hub, poolCfg, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	c.Start()
	t.Cleanup(func() { c.Stop() })

	srv := httptest.NewServer(NewSocketHandler(cfg, hub, c, nil))
	t.Cleanup(srv.Close)
	return srv
}

func dialSocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return e
}

func TestSocketChunkRoundTrip(t *testing.T) {
	store := &ctxRecordingStore{known: map[string]bool{"cons-1": true}}
	tr := &ctxRecordingTranscriber{text: "patient has fever"}
	srv := newSocketServer(t, SocketConfig{}, store, tr)
	ws := dialSocket(t, srv)

	// The HTTP handler has long returned by now; session operations must
	// still run on a live context.
	time.Sleep(200 * time.Millisecond)

	start, _ := json.Marshal(clientMessage{Type: "start-consultation", ConsultationID: "cons-1"})
	if err := ws.WriteMessage(websocket.TextMessage, start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	chunk, _ := json.Marshal(clientMessage{
		Type:           "audio-chunk",
		ConsultationID: "cons-1",
		Speaker:        "doctor",
		Language:       "hi",
		Payload:        base64.StdEncoding.EncodeToString([]byte("audio-bytes")),
	})
	if err := ws.WriteMessage(websocket.TextMessage, chunk); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	e := readEvent(t, ws)
	if e.Type == "error" {
		t.Fatalf("got error frame: %s", e.Message)
	}
	if e.Type != "transcription-update" || e.Text != "patient has fever" || e.Speaker != "doctor" {
		t.Errorf("event = %+v", e)
	}

	store.mu.Lock()
	if !store.seen || store.ctxErr != nil {
		t.Errorf("join ran on dead context: seen=%v err=%v", store.seen, store.ctxErr)
	}
	store.mu.Unlock()

	tr.mu.Lock()
	if !tr.seen || tr.ctxErr != nil {
		t.Errorf("transcription ran on dead context: seen=%v err=%v", tr.seen, tr.ctxErr)
	}
	tr.mu.Unlock()
}

func TestSocketUnknownConsultation(t *testing.T) {
	store := &ctxRecordingStore{known: map[string]bool{}}
	srv := newSocketServer(t, SocketConfig{}, store, &ctxRecordingTranscriber{})
	ws := dialSocket(t, srv)

	start, _ := json.Marshal(clientMessage{Type: "start-consultation", ConsultationID: "nope"})
	if err := ws.WriteMessage(websocket.TextMessage, start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	e := readEvent(t, ws)
	if e.Type != "error" {
		t.Errorf("event = %+v", e)
	}
}

func TestSocketOriginFiltering(t *testing.T) {
	store := &ctxRecordingStore{known: map[string]bool{"cons-1": true}}
	srv := newSocketServer(t, SocketConfig{AllowedOrigins: []string{"https://app.clinic.example"}}, store, &ctxRecordingTranscriber{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://elsewhere.example"}}
	if ws, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		ws.Close()
		t.Fatal("disallowed origin must be rejected")
	}

	header = http.Header{"Origin": []string{"https://app.clinic.example"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	ws.Close()
}
