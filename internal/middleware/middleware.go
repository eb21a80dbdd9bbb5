// Package middleware provides the HTTP middleware chain of the editing API:
// CORS, metrics, per-client rate limiting and JWT authentication.
package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/platformkit/composer/internal/auth"
	"github.com/platformkit/composer/internal/logging"
	"github.com/platformkit/composer/internal/metrics"
)

// CORS answers preflight requests and stamps the standard headers.
func CORS(allowedOrigin string) mux.MiddlewareFunc {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the written status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack is forwarded so websocket upgrades still work behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

// Metrics records request count, latency and in-flight gauge per route.
func Metrics(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := m.RequestStarted()
			defer done()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.ObserveRequest(route, r.Method, rec.status, time.Since(start))
		})
	}
}

// RateLimit enforces a per-client token bucket keyed by remote IP. Stale
// limiters are dropped after an hour.
func RateLimit(rps float64, burst int, log *logging.Logger) mux.MiddlewareFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		c, ok := clients[ip]
		if !ok {
			c = &client{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[ip] = c
		}
		c.lastSeen = time.Now()
		if len(clients) > 1024 {
			for key, cl := range clients {
				if time.Since(cl.lastSeen) > time.Hour {
					delete(clients, key)
				}
			}
		}
		return c.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !limiterFor(ip).Allow() {
				log.WithField("ip", ip).Warn("rate limit exceeded")
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Auth validates the bearer token and attaches the actor to the request
// context. Paths in skip are served unauthenticated; an entry starting with
// "*" matches by suffix instead of prefix, so "*/render" opens the published
// render endpoint of every platform.
func Auth(authorizer *auth.Authorizer, log *logging.Logger, skip ...string) mux.MiddlewareFunc {
	skipped := func(path string) bool {
		for _, pattern := range skip {
			if strings.HasPrefix(pattern, "*") {
				if strings.HasSuffix(path, pattern[1:]) {
					return true
				}
				continue
			}
			if strings.HasPrefix(path, pattern) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get("Authorization")
			if token == "" {
				// Websocket clients cannot set headers from browsers.
				token = r.URL.Query().Get("token")
			}
			actor, err := authorizer.ParseToken(token)
			if err != nil {
				log.WithField("path", r.URL.Path).Debug("rejected unauthenticated request")
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
		})
	}
}
