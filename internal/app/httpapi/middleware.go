package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// exemptPaths are reachable without a bearer token: health probes, metrics
// scrapes, and the recipient-facing gift endpoints, whose capability is the
// unguessable gift id itself.
var exemptPaths = []string{"/healthz", "/metrics", "/gifts/"}

// wrapWithAuth requires a bearer token from tokens on every non-exempt
// request. An empty token list disables authentication.
func wrapWithAuth(next http.Handler, tokens []string, extraExempt []string) http.Handler {
	allowed := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			allowed[tok] = struct{}{}
		}
	}
	exempt := append(append([]string{}, exemptPaths...), extraExempt...)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(allowed) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range exempt {
			if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		header := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if _, ok := allowed[token]; !ok || header == token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithRateLimit applies a per-client token bucket keyed on remote IP.
// rps of zero or less disables limiting.
func wrapWithRateLimit(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
		lastSeen = make(map[string]time.Time)
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if len(lastSeen) > 10000 {
			cutoff := time.Now().Add(-10 * time.Minute)
			for k, seen := range lastSeen {
				if seen.Before(cutoff) {
					delete(limiters, k)
					delete(lastSeen, k)
				}
			}
		}
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = l
		}
		lastSeen[key] = time.Now()
		return l
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.RemoteAddr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		if !limiterFor(host).Allow() {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap applies the standard middleware stack around the API handler.
func Wrap(next http.Handler, tokens []string, rps float64, burst int) http.Handler {
	return wrapWithRateLimit(wrapWithAuth(next, tokens, nil), rps, burst)
}
