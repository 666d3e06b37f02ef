package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware_RequestID(t *testing.T) {
	var seen string
	m := NewMiddleware(nil, nil)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated", incoming: "", keep: false},
		{name: "honored", incoming: "abc-123", keep: true},
		{name: "rejected", incoming: "bad id with spaces", keep: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/entries", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if got := rec.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response id %q != context id %q", got, seen)
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("GetRequestID() = %q, want %q", seen, tt.incoming)
			}
			if !tt.keep && !strings.HasPrefix(seen, "req_") {
				t.Errorf("GetRequestID() = %q, want generated req_ id", seen)
			}
		})
	}
}

func TestMiddleware_ObservesStatus(t *testing.T) {
	var method string
	var status int
	m := NewMiddleware(func(*http.Request) string { return "1.2.3.4" }, func(mt string, st int) {
		method, status = mt, st
	})

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/entries", nil))

	if method != http.MethodPost || status != http.StatusTeapot {
		t.Errorf("observed (%s, %d), want (POST, 418)", method, status)
	}

	h = m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if status != http.StatusOK {
		t.Errorf("implicit status = %d, want 200", status)
	}
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	var _ http.Flusher = rw
	rw.Flush()
	if !rec.Flushed {
		t.Error("Flush() did not reach the underlying writer")
	}
}

func TestGenerateRequestID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
