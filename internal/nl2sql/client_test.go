package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nlpdb/nlpdb/internal/config"
)

func TestClientCompleteSendsFixedParameters(t *testing.T) {
	var captured map[string]any
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  SHOW TABLES;\n"}}]}`))
	}))
	defer server.Close()

	client := NewClient(config.AIConfig{BaseURL: server.URL + "/", Model: "local-model"})
	got, err := client.Complete(context.Background(), Prompt{
		Messages: []Message{{Role: "user", Content: "show all tables"}},
		Params:   DefaultParams(),
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SHOW TABLES;" {
		t.Fatalf("Complete() = %q", got)
	}
	if authHeader != "" {
		t.Fatalf("Authorization = %q, want none without api key", authHeader)
	}
	if captured["temperature"] != 0.05 || captured["max_tokens"] != float64(500) || captured["top_p"] != 0.1 {
		t.Fatalf("payload = %#v", captured)
	}
	if captured["frequency_penalty"] != 0.5 || captured["presence_penalty"] != 0.5 || captured["stream"] != false {
		t.Fatalf("payload = %#v", captured)
	}
	if captured["model"] != "local-model" {
		t.Fatalf("model = %#v", captured["model"])
	}
}

func TestClientCompleteSetsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SELECT 1;"}}]}`))
	}))
	defer server.Close()

	client := NewClient(config.AIConfig{BaseURL: server.URL, APIKey: " secret "})
	if _, err := client.Complete(context.Background(), Prompt{Params: DefaultParams()}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestClientCompleteErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "model not loaded", want: ErrCompletionBadStatus},
		{name: "not found", status: http.StatusNotFound, body: "", want: ErrCompletionBadStatus},
		{name: "not json", status: http.StatusOK, body: "<html>", want: ErrCompletionMalformed},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, want: ErrCompletionMalformed},
		{name: "no message", status: http.StatusOK, body: `{"choices":[{"text":"SELECT 1"}]}`, want: ErrCompletionMalformed},
		{name: "no content", status: http.StatusOK, body: `{"choices":[{"message":{"role":"assistant"}}]}`, want: ErrCompletionMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := NewClient(config.AIConfig{BaseURL: server.URL}).Complete(context.Background(), Prompt{Params: DefaultParams()})
			if !errors.Is(err, tc.want) {
				t.Fatalf("Complete() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClientCompleteBadStatusIncludesTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer server.Close()

	_, err := NewClient(config.AIConfig{BaseURL: server.URL}).Complete(context.Background(), Prompt{Params: DefaultParams()})
	if err == nil || !strings.Contains(err.Error(), "status=502") {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(err.Error()) > 700 {
		t.Fatalf("error body not truncated: %d bytes", len(err.Error()))
	}
}

func TestClientCompleteUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(config.AIConfig{BaseURL: url}).Complete(context.Background(), Prompt{Params: DefaultParams()})
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("Complete() error = %v, want ErrCompletionUnavailable", err)
	}
}

func TestClientCompleteTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	_, err := NewClient(config.AIConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond}).Complete(context.Background(), Prompt{Params: DefaultParams()})
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("Complete() error = %v, want ErrCompletionUnavailable", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(config.AIConfig{})
	if client.baseURL != "http://127.0.0.1:1234" {
		t.Fatalf("baseURL = %q", client.baseURL)
	}
	if client.client.Timeout != 60*time.Second {
		t.Fatalf("timeout = %s", client.client.Timeout)
	}
}
