package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{
			name:      "single forwarded address",
			forwarded: "203.0.113.1",
			expected:  "203.0.113.1",
		},
		{
			name:      "forwarded chain takes leftmost",
			forwarded: "203.0.113.1, 198.51.100.1",
			expected:  "203.0.113.1",
		},
		{
			name:      "forwarded chain tolerates whitespace",
			forwarded: "203.0.113.1  ,  198.51.100.1",
			expected:  "203.0.113.1",
		},
		{
			name:      "garbage forwarded hop skipped",
			forwarded: "not-an-ip, 198.51.100.1",
			expected:  "198.51.100.1",
		},
		{
			name:       "garbage forwarded header falls through",
			forwarded:  "spoofed",
			remoteAddr: "192.0.2.10:44321",
			expected:   "192.0.2.10",
		},
		{
			name:     "real ip header",
			realIP:   "192.168.1.100",
			expected: "192.168.1.100",
		},
		{
			name:      "forwarded beats real ip",
			forwarded: "203.0.113.1",
			realIP:    "192.168.1.100",
			expected:  "203.0.113.1",
		},
		{
			name:       "remote addr ipv4",
			remoteAddr: "192.168.1.1:54321",
			expected:   "192.168.1.1",
		},
		{
			name:       "remote addr ipv6",
			remoteAddr: "[2001:db8::1]:54321",
			expected:   "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.1",
			expected:   "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.remoteAddr != "" {
				r.RemoteAddr = tt.remoteAddr
			}

			require.Equal(t, tt.expected, ClientIP(r))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var capturedIP string
	handler := ClientIPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedIP = ClientIPFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.1")

	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "203.0.113.1", capturedIP)
}

func TestClientIPFromContext_missing(t *testing.T) {
	require.Empty(t, ClientIPFromContext(context.Background()))
}
