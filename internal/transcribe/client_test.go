package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
)

func TestTranscribe(t *testing.T) {
	var gotLanguage string
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		if files := r.MultipartForm.File["audio"]; len(files) == 1 {
			gotFilename = files[0].Filename
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcription": "patient has fever", "language": "hi"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	res, err := c.Transcribe(context.Background(), []byte("audio-bytes"), "hi")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Transcription != "patient has fever" || res.Language != "hi" {
		t.Errorf("result = %+v", res)
	}
	if gotLanguage != "hi" {
		t.Errorf("language field = %q", gotLanguage)
	}
	if gotFilename == "" {
		t.Error("audio file part missing")
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://localhost:1"}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Transcribe(context.Background(), nil, "")
	if !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Transcribe(context.Background(), []byte("x"), "")
	if !apperror.IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
}
