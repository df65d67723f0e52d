package opshttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Run("generates_id_when_missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		RequestID(okHandler).ServeHTTP(rec, req)
		id := rec.Header().Get("X-Request-ID")
		if len(id) != 16 {
			t.Errorf("expected 16-char hex ID, got %q (len %d)", id, len(id))
		}
	})

	t.Run("preserves_provided_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		RequestID(okHandler).ServeHTTP(rec, req)
		id := rec.Header().Get("X-Request-ID")
		if id != "my-custom-id" {
			t.Errorf("expected preserved ID %q, got %q", "my-custom-id", id)
		}
	})
}

func TestRecoverer(t *testing.T) {
	t.Run("normal_request_passes_through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		Recoverer(okHandler).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("panic_produces_500_json", func(t *testing.T) {
		panicker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		Recoverer(panicker).ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not valid JSON: %v", err)
		}
		if body["error"] != "internal server error" {
			t.Errorf("expected error message, got %v", body)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows_requests_within_burst", func(t *testing.T) {
		mw := RateLimiter(1, 2)(okHandler)
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:12345"

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("request %d: expected 200, got %d", i, rec.Code)
			}
		}
	})

	t.Run("rejects_once_burst_exhausted", func(t *testing.T) {
		mw := RateLimiter(1, 1)(okHandler)
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.2:12345"

		first := httptest.NewRecorder()
		mw.ServeHTTP(first, req)
		if first.Code != http.StatusOK {
			t.Fatalf("expected first request to pass, got %d", first.Code)
		}

		second := httptest.NewRecorder()
		mw.ServeHTTP(second, req)
		if second.Code != http.StatusTooManyRequests {
			t.Errorf("expected 429 once burst is exhausted, got %d", second.Code)
		}
	})

	t.Run("tracks_clients_independently", func(t *testing.T) {
		mw := RateLimiter(1, 1)(okHandler)

		reqA := httptest.NewRequest("GET", "/", nil)
		reqA.RemoteAddr = "10.0.0.3:1"
		recA := httptest.NewRecorder()
		mw.ServeHTTP(recA, reqA)
		if recA.Code != http.StatusOK {
			t.Fatalf("client A: expected 200, got %d", recA.Code)
		}

		reqB := httptest.NewRequest("GET", "/", nil)
		reqB.RemoteAddr = "10.0.0.4:1"
		recB := httptest.NewRecorder()
		mw.ServeHTTP(recB, reqB)
		if recB.Code != http.StatusOK {
			t.Errorf("client B: expected 200 on its own first request, got %d", recB.Code)
		}
	})
}
