package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/garyzero/gary-zero/pkg/logger"
)

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	chain := chimiddleware.RequestID(RequestLogger(slog.Default(), nil)(inner))

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, httptest.NewRequest("GET", "/ping", nil))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if seen == "" {
		t.Fatal("request ID not propagated to handler context")
	}
}
