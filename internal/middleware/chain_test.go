package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsrelay/internal/model"
)

// TestRecoveryMiddleware_ReturnsUnifiedError はpanicが統一フォーマットの500に変換されることを検証する。
func TestRecoveryMiddleware_ReturnsUnifiedError(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRecoveryMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/queue", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if !bytes.Contains(buf.Bytes(), []byte("panic recovered")) {
		t.Errorf("panicがログに記録されていない: %s", buf.String())
	}
}

// TestMiddlewareChain_LoggingRecordsRecoveredPanic は
// Logging → Recovery の順に積んだ場合にpanicが500としてログされることを検証する。
func TestMiddlewareChain_LoggingRecordsRecoveredPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(logger))
	r.Use(NewRecoveryMiddleware(logger))
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	found := false
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]interface{}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry["msg"] == "http_request" && entry["status"] == float64(500) {
			found = true
		}
	}
	if !found {
		t.Errorf("リクエストログに status=500 が記録されていない: %s", buf.String())
	}
}

// TestMiddlewareChain_RateLimitBeforeHandler は
// レート制限を超えたリクエストがハンドラに到達しないことを検証する。
func TestMiddlewareChain_RateLimitBeforeHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 1, CleanupInterval: time.Minute}, logger)
	defer rl.Stop()

	calls := 0
	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(logger))
	r.Use(rl.Middleware())
	r.Get("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.10:1234"))
	}

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}
