package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("model") != "whisper-large-v3-turbo" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("language") != "en" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(struct {
			Text string `json:"text"`
		}{Text: "hello world"})
	}))
	defer server.Close()

	c := NewGroq("test-key", "")
	c.url = server.URL

	result, err := c.Transcribe(context.Background(), []int16{0, 1, 2}, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "hello world" {
		t.Errorf("expected 'hello world', got %q", result)
	}
	if c.Name() != "groq-stt" {
		t.Errorf("expected groq-stt, got %s", c.Name())
	}
}

func TestClientTranscribeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
	}))
	defer server.Close()

	c := NewOpenAI("test-key", "")
	c.url = server.URL

	if _, err := c.Transcribe(context.Background(), []int16{0}, ""); err == nil {
		t.Fatalf("expected an error for a non-200 response")
	}
}

func TestClientDefaults(t *testing.T) {
	g := NewGroq("k", "")
	if g.model != "whisper-large-v3-turbo" {
		t.Errorf("unexpected groq default model %q", g.model)
	}
	o := NewOpenAI("k", "")
	if o.model != "whisper-1" {
		t.Errorf("unexpected openai default model %q", o.model)
	}

	o.SetSampleRate(44100)
	if o.sampleRate != 44100 {
		t.Errorf("SetSampleRate not applied, got %d", o.sampleRate)
	}
}
