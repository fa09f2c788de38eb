package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestSendJSONRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	raw, status, err := SendJSON(context.Background(), srv.Client(), srv.URL, map[string]any{"q": 1}, nil, nil)
	if err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if !strings.Contains(string(raw), `"ok"`) {
		t.Errorf("body = %s, want the final response", raw)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3 (two rate-limited, one ok)", calls.Load())
	}
}

func TestSendJSONDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, status, err := SendJSON(context.Background(), srv.Client(), srv.URL, map[string]any{}, nil, nil)
	if err == nil {
		t.Fatal("rejected request returned no error")
	}
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1 (4xx is final)", calls.Load())
	}
}
