package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mwork/booking-ledger/internal/config"
	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/domain/refund"
)

func TestRouterRoutes(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	}
	r := newRouter(&config.Config{AllowedOrigins: []string{"http://localhost:3000"}}, deny, ledger.NewHandler(nil), refund.NewHandler(nil))

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"create transaction is authenticated", http.MethodPost, "/api/v1/transactions", http.StatusTeapot},
		{"capture is authenticated", http.MethodPost, "/api/v1/transactions/TX20261019-000001/capture", http.StatusTeapot},
		{"refund is authenticated", http.MethodPost, "/api/v1/transactions/TX20261019-000001/refunds", http.StatusTeapot},
		{"unknown route", http.MethodGet, "/api/v1/bookings", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
