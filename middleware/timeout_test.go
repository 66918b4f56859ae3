package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequota/ratelimit/config"
)

func TestTimeoutPassesThroughFastHandler(t *testing.T) {
	tw := NewTimeout(zerolog.Nop(), &config.Config{DefaultTimeout: time.Second})
	handler := tw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("want 200/ok, got %d/%q", rec.Code, rec.Body.String())
	}
}

func TestTimeoutFiresOnSlowHandler(t *testing.T) {
	tw := NewTimeout(zerolog.Nop(), &config.Config{DefaultTimeout: 10 * time.Millisecond})
	blocked := make(chan struct{})
	handler := tw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(blocked)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("handler's context should have been cancelled on timeout")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503 origin-unavailable envelope on timeout, got %d", rec.Code)
	}
}

func TestTimeoutHeaderOverrideCappedAtMax(t *testing.T) {
	tw := NewTimeout(zerolog.Nop(), &config.Config{DefaultTimeout: time.Second})
	got := tw.resolveTimeout(&http.Request{Header: http.Header{"X-Request-Timeout": []string{"3600"}}})
	if got != 30*time.Second {
		t.Fatalf("want client override capped at 30s, got %s", got)
	}
}

func TestTimeoutHeaderOverrideHonoredBelowCap(t *testing.T) {
	tw := NewTimeout(zerolog.Nop(), &config.Config{DefaultTimeout: time.Second})
	got := tw.resolveTimeout(&http.Request{Header: http.Header{"X-Request-Timeout": []string{"5"}}})
	if got != 5*time.Second {
		t.Fatalf("want 5s override, got %s", got)
	}
}
