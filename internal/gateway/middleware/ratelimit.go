package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"fieldops/internal/observability"
	"fieldops/pkg/api"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(r *http.Request) string

// StaticKey charges every request to key.
func StaticKey(key string) KeyFunc {
	return func(*http.Request) string { return key }
}

// URLParamKey charges requests to the lowercased value of a chi route
// parameter. Use it with r.With so the parameter is already resolved.
func URLParamKey(name string) KeyFunc {
	return func(r *http.Request) string { return strings.ToLower(chi.URLParam(r, name)) }
}

// SourceLimiter keeps one token bucket per webhook source.
type SourceLimiter struct {
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	metrics *observability.Metrics

	limiters sync.Map // key -> *cachedLimiter
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// NewSourceLimiter allows perSecond requests per source with the given burst.
// perSecond <= 0 means unlimited. metrics may be nil.
func NewSourceLimiter(perSecond float64, burst int, metrics *observability.Metrics) *SourceLimiter {
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &SourceLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     5 * time.Minute,
		metrics: metrics,
	}
}

// Limit rejects requests over the bucket for key with 429 RATE_LIMITED.
func (l *SourceLimiter) Limit(key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			source := key(r)
			if !l.get(source).Allow() {
				l.metrics.WebhookReceived(r.Context(), source, observability.OutcomeRateLimited)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too Many Requests", api.CodeRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *SourceLimiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Store(key, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(l.ttl),
	})
	return limiter
}
