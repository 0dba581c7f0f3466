package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// bucketTTL is how long an idle caller keeps its bucket.
const bucketTTL = 10 * time.Minute

// KeyFunc names the bucket a request is charged to.
type KeyFunc func(c echo.Context) string

// ByIP charges every request to the client address.
func ByIP(c echo.Context) string { return "ip:" + c.RealIP() }

// ByOperator charges authenticated requests to the operator set by APIKeyAuth
// or JWTAuth, so one operator cannot spend another's budget from a shared
// address. Unauthenticated requests fall back to ByIP.
func ByOperator(c echo.Context) string {
	if op, ok := c.Get(ContextKeyOperator).(string); ok && op != "" {
		return "op:" + op
	}
	return ByIP(c)
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// buckets is a set of token buckets with lazy eviction of idle keys.
type buckets struct {
	mu        sync.Mutex
	byKey     map[string]*bucket
	limit     rate.Limit
	burst     int
	nextSweep time.Time
}

func newBuckets(limit rate.Limit, burst int) *buckets {
	return &buckets{byKey: make(map[string]*bucket), limit: limit, burst: burst}
}

// take spends one token for key. When none is left it returns how long the
// caller has to wait for the next one.
func (b *buckets) take(key string, now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.After(b.nextSweep) {
		b.sweep(now)
	}

	e, ok := b.byKey[key]
	if !ok {
		e = &bucket{lim: rate.NewLimiter(b.limit, b.burst)}
		b.byKey[key] = e
	}
	e.lastSeen = now

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		// burst is zero, so nothing can ever pass
		return time.Second, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

func (b *buckets) sweep(now time.Time) {
	cutoff := now.Add(-bucketTTL)
	for k, e := range b.byKey {
		if e.lastSeen.Before(cutoff) {
			delete(b.byKey, k)
		}
	}
	b.nextSweep = now.Add(bucketTTL / 2)
}

// RateLimit limits requests per key to rps with the given burst and answers
// 429 with a Retry-After of whole seconds until the next token.
func RateLimit(rps float64, burst int, key KeyFunc) echo.MiddlewareFunc {
	set := newBuckets(rate.Limit(rps), burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			wait, ok := set.take(key(c), time.Now())
			if !ok {
				secs := int64(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
