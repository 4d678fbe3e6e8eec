package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// bucketIdleEviction is how long an IP's bucket may sit unused before the
// lazy sweep drops it.
const bucketIdleEviction = 10 * time.Minute

// ipLimiter applies a per-client-IP token bucket. The map is bounded by the
// set of recently active IPs: each allow call may trigger a sweep that drops
// idle buckets.
type ipLimiter struct {
	mu        sync.Mutex
	perMinute int
	buckets   map[string]*ipBucket
	lastSweep time.Time

	// now is a test hook.
	now func() time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perMinute int) *ipLimiter {
	return &ipLimiter{
		perMinute: perMinute,
		buckets:   make(map[string]*ipBucket),
		now:       time.Now,
	}
}

// allow reports whether ip may proceed. On rejection it also returns the
// whole seconds until the next token becomes available.
func (l *ipLimiter) allow(ip string) (bool, int) {
	if l.perMinute <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > bucketIdleEviction {
		l.sweepLocked(now)
	}

	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = &ipBucket{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute),
		}
		l.buckets[ip] = bucket
	}
	bucket.lastSeen = now

	reservation := bucket.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	// Not allowed yet; give the slot back instead of queueing the caller.
	reservation.CancelAt(now)

	retryAfter := int(math.Ceil(delay.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// sweepLocked drops buckets idle past the eviction window. Called with the
// mutex held.
func (l *ipLimiter) sweepLocked(now time.Time) {
	for ip, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) > bucketIdleEviction {
			delete(l.buckets, ip)
		}
	}
	l.lastSweep = now
}

// rateLimit rejects over-limit clients with 429 and a Retry-After hint.
func (s *Server) rateLimit(l *ipLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := l.allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				errorBody(c, "RATE_LIMITED", "too many requests"))
			return
		}
		c.Next()
	}
}
