package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"patchloop/fault"
)

func TestProxyBackendEnvelope(t *testing.T) {
	var got proxyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/inference" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "next_thought: hi}"}},
			},
		})
	}))
	defer srv.Close()

	b := NewProxyBackend(srv.URL)
	text, err := b.Complete(context.Background(), Request{
		RunID:    "run-1",
		Model:    "model-a",
		Messages: []Message{UserMessage("go")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "next_thought: hi}" {
		t.Errorf("unexpected text: %q", text)
	}
	if got.RunID != "run-1" || got.Model != "model-a" {
		t.Errorf("request body not forwarded: %+v", got)
	}
}

func TestProxyBackendBareString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode("\n  next_thought: bare}")
	}))
	defer srv.Close()

	b := NewProxyBackend(srv.URL)
	text, err := b.Complete(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "next_thought: bare}" {
		t.Errorf("expected leading whitespace stripped, got %q", text)
	}
}

func TestProxyBackendStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   fault.Kind
	}{
		{http.StatusTooManyRequests, fault.RateLimitExceeded},
		{http.StatusUnauthorized, fault.AuthenticationError},
		{http.StatusForbidden, fault.AuthenticationError},
		{http.StatusGatewayTimeout, fault.Timeout},
		{http.StatusInternalServerError, fault.NetworkError},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		b := NewProxyBackend(srv.URL)
		_, err := b.Complete(context.Background(), Request{Model: "m"})
		srv.Close()
		if err == nil {
			t.Errorf("status %d: expected an error", tt.status)
			continue
		}
		if got := fault.KindOf(err); got != tt.want {
			t.Errorf("status %d: expected kind %q, got %q", tt.status, tt.want, got)
		}
	}
}

func TestProxyBackendUnexpectedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"unexpected": true})
	}))
	defer srv.Close()

	b := NewProxyBackend(srv.URL)
	_, err := b.Complete(context.Background(), Request{Model: "m"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if fault.KindOf(err) != fault.InvalidResponse {
		t.Errorf("expected INVALID_RESPONSE_FORMAT, got %q", fault.KindOf(err))
	}
}

func TestProxyBackendConnectionRefused(t *testing.T) {
	b := NewProxyBackend("http://127.0.0.1:1")
	_, err := b.Complete(context.Background(), Request{Model: "m"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if fault.KindOf(err) != fault.NetworkError {
		t.Errorf("expected NETWORK_ERROR, got %q", fault.KindOf(err))
	}
}
