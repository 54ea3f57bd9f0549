package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/uttercap/internal/sink"
	"github.com/MrWong99/uttercap/pkg/audio"
)

func testUtterance() sink.Utterance {
	return sink.NewUtterance(uuid.New(), audio.EncodePCM16([]float32{0.3, -0.3}), 16000, time.Now())
}

func TestDeliver_UploadsAndReportsTranscript(t *testing.T) {
	var gotPath, gotModel, gotLang, gotAuth string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		if f, _, err := r.FormFile("file"); err == nil {
			gotFile, _ = io.ReadAll(f)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" good morning "}`)
	}))
	defer srv.Close()

	var transcript string
	s, err := New("sk-test",
		WithBaseURL(srv.URL+"/v1/"),
		WithLanguage("en"),
		WithMaxRetries(0),
		WithOnTranscript(func(_ context.Context, _ sink.Utterance, text string) { transcript = text }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Deliver(context.Background(), testUtterance()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("path = %q, want /v1/audio/transcriptions", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotModel != "whisper-1" || gotLang != "en" {
		t.Errorf("model=%q language=%q, want whisper-1 and en", gotModel, gotLang)
	}
	if len(gotFile) < 4 || string(gotFile[:4]) != "RIFF" {
		t.Errorf("uploaded file is not a WAV")
	}
	if transcript != "good morning" {
		t.Errorf("transcript = %q, want %q", transcript, "good morning")
	}
}

func TestDeliver_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	s, err := New("sk-bad", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Deliver(context.Background(), testUtterance()); err == nil {
		t.Fatal("Deliver should fail on HTTP 401")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}
