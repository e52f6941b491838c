package server

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// maxPathLogLen is the maximum length for logged request URIs before truncation.
const maxPathLogLen = 200

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 500 * time.Millisecond

// requestLogger logs every request with its status and timing. Server
// errors are logged at ERROR, slow requests at WARN, the rest at DEBUG.
// Websocket streams are long-lived by nature and never count as slow.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			attrs := []any{
				"method", r.Method,
				"path", truncate(r.URL.RequestURI(), maxPathLogLen),
				"status", ww.Status(),
				"duration_ms", duration.Milliseconds(),
			}
			if id := middleware.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, "request_id", id)
			}

			switch {
			case ww.Status() >= http.StatusInternalServerError:
				logger.Error("request failed", attrs...)
			case duration > slowRequestThreshold && !websocket.IsWebSocketUpgrade(r):
				logger.Warn("slow request", attrs...)
			default:
				logger.Debug("request completed", attrs...)
			}
		})
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// rateLimit bounds how often one session may poll progress.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiters.allow(sessionFrom(r.Context()).id) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type cachedLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nanos
}

// limiterCache hands out one token bucket per key. A bucket idle for longer
// than ttl is dropped, and a sweep at most once per ttl deletes idle entries
// so sessions that never come back do not accumulate.
type limiterCache struct {
	limiters  sync.Map // key -> *cachedLimiter
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time
	lastSweep atomic.Int64
}

func newLimiterCache(perSecond float64, burst int, ttl time.Duration) *limiterCache {
	if burst < 1 {
		burst = 1
	}
	return &limiterCache{limit: rate.Limit(perSecond), burst: burst, ttl: ttl, now: time.Now}
}

// allow reports whether key may proceed now. A zero rate means unlimited.
func (c *limiterCache) allow(key string) bool {
	if c.limit <= 0 {
		return true
	}
	return c.get(key).Allow()
}

func (c *limiterCache) get(key string) *rate.Limiter {
	now := c.now().UnixNano()
	c.sweep(now)

	if v, ok := c.limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if now-cached.lastUsed.Load() <= int64(c.ttl) {
			cached.lastUsed.Store(now)
			return cached.limiter
		}
	}

	cached := &cachedLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
	cached.lastUsed.Store(now)
	c.limiters.Store(key, cached)
	return cached.limiter
}

// sweep deletes buckets idle for longer than ttl.
func (c *limiterCache) sweep(now int64) {
	last := c.lastSweep.Load()
	if now-last < int64(c.ttl) || !c.lastSweep.CompareAndSwap(last, now) {
		return
	}
	c.limiters.Range(func(key, v any) bool {
		if now-v.(*cachedLimiter).lastUsed.Load() > int64(c.ttl) {
			c.limiters.CompareAndDelete(key, v)
		}
		return true
	})
}

