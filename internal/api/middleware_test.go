package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func passHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	RequestID(passHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))
	if id := rec.Header().Get("X-Request-ID"); len(id) != 16 {
		t.Errorf("generated request id = %q, want 16 hex chars", id)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	req.Header.Set("X-Request-ID", "client-chosen")
	RequestID(passHandler()).ServeHTTP(rec, req)
	if id := rec.Header().Get("X-Request-ID"); id != "client-chosen" {
		t.Errorf("request id = %q, want the client's", id)
	}
}

func TestCORSWithOrigins(t *testing.T) {
	const ui = "https://notes.example"

	t.Run("no allowlist means wildcard", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORSWithOrigins(nil)(passHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/transcript", nil))
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("open config should allow any origin")
		}
	})

	t.Run("allowed origin is echoed with Vary", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/transcript", nil)
		req.Header.Set("Origin", ui)
		CORSWithOrigins([]string{ui})(passHandler()).ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != ui {
			t.Errorf("allowed origin = %q, want %q", got, ui)
		}
		if rec.Header().Get("Vary") != "Origin" {
			t.Error("origin-specific allow needs Vary: Origin")
		}
	})

	t.Run("unknown origin gets no CORS headers but is served", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/transcript", nil)
		req.Header.Set("Origin", "https://other.example")
		CORSWithOrigins([]string{ui})(passHandler()).ServeHTTP(rec, req)
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("unknown origin must not receive CORS headers")
		}
		if rec.Code != http.StatusOK {
			t.Errorf("plain request status = %d, want 200", rec.Code)
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		reached := false
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true })
		rec := httptest.NewRecorder()
		CORSWithOrigins(nil)(inner).ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/api/v1/transcript", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
		if reached {
			t.Error("preflight must not reach the handler")
		}
	})

	t.Run("preflight from unknown origin is refused", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("OPTIONS", "/api/v1/transcript", nil)
		req.Header.Set("Origin", "https://other.example")
		CORSWithOrigins([]string{ui})(passHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("preflight status = %d, want 403", rec.Code)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	handler := RateLimiter(1, 2)(passHandler())

	send := func(addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/stats", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Burst of 2, then the bucket is empty.
	if got := send("198.51.100.7:4242"); got != http.StatusOK {
		t.Errorf("first request = %d, want 200", got)
	}
	if got := send("198.51.100.7:4242"); got != http.StatusOK {
		t.Errorf("second request = %d, want 200", got)
	}
	if got := send("198.51.100.7:4242"); got != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", got)
	}

	// Buckets are per client address.
	if got := send("198.51.100.8:4242"); got != http.StatusOK {
		t.Errorf("other client = %d, want 200", got)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.RemoteAddr = "198.51.100.7:4242"
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Retry-After") != "1" {
		t.Error("limited response missing Retry-After")
	}
}

func TestBearerAuth(t *testing.T) {
	const token = "koenote-dev-token"

	t.Run("no token configured leaves routes open", func(t *testing.T) {
		rec := httptest.NewRecorder()
		BearerAuth("")(passHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("authorization header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		BearerAuth(token)(passHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("query token fallback for EventSource", func(t *testing.T) {
		// Browsers can't set headers on an SSE connection, so the stream
		// endpoint accepts ?token=.
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/events/stream?types=segment&token="+token, nil)
		BearerAuth(token)(passHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		for _, req := range []*http.Request{
			httptest.NewRequest("GET", "/api/v1/status", nil),
			httptest.NewRequest("GET", "/api/v1/events/stream?token=guess", nil),
		} {
			if auth := req.URL.Query().Get("token"); auth == "" {
				req.Header.Set("Authorization", "Bearer guess")
			}
			rec := httptest.NewRecorder()
			BearerAuth(token)(passHandler()).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s: status = %d, want 401", req.URL, rec.Code)
			}
		}
	})

	t.Run("non-bearer scheme is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.Header.Set("Authorization", "Basic a29lbm90ZQ==")
		BearerAuth(token)(passHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestRequireAuth(t *testing.T) {
	// Stopping a session remotely must be impossible on an unsecured deploy.
	rec := httptest.NewRecorder()
	RequireAuth("")(passHandler()).ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/session/stop", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("without AUTH_TOKEN: status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	RequireAuth("koenote-dev-token")(passHandler()).ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/session/stop", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("with AUTH_TOKEN: status = %d, want 200", rec.Code)
	}
}

func TestRecoverer(t *testing.T) {
	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("chunk index out of range")
	})
	rec := httptest.NewRecorder()
	Recoverer(boom).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/transcript", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("panic response is not JSON: %v", err)
	}
	if body.Error != "internal server error" {
		t.Errorf("error body = %+v", body)
	}
}
