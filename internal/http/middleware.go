// Package http holds middleware shared by the API surface. The client IP
// captured here feeds the audit record written when a cross-tenant write is
// rejected, so header values are validated rather than trusted: a forwarding
// header that does not parse as an address is ignored.
package http

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey int

const clientIPContextKey contextKey = iota

// ClientIP resolves the originating client address for a request. The
// X-Forwarded-For chain is consulted first (leftmost parseable address),
// then X-Real-IP, then the socket's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if addr, err := netip.ParseAddr(strings.TrimSpace(hop)); err == nil {
				return addr.String()
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.String()
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientIPFromContext returns the client IP attached by ClientIPMiddleware,
// or "" when the request did not pass through it.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey).(string)
	return ip
}

// ClientIPMiddleware resolves the client IP once per request and attaches it
// to the context for audit logging further down the chain.
func ClientIPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPContextKey, ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
