package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/response"
	"forms-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateDecision is the outcome of one rate limit check
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a client key may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
	Limit() int
}

// RedisLimiter shares limits between instances through Redis (GCRA)
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter creates a limiter allowing perMinute requests per key
func NewRedisLimiter(client *redis.Client, perMinute int) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.PerMinute(perMinute),
	}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	res, err := l.limiter.Allow(ctx, "ratelimit:"+key, l.limit)
	if err != nil {
		return RateDecision{}, err
	}
	return RateDecision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Limit implements Limiter
func (l *RedisLimiter) Limit() int { return l.limit.Rate }

// localEntry is one client's token bucket
type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps a token bucket per key in process memory. It is used
// when Redis is not configured.
type LocalLimiter struct {
	perMinute int
	mu        sync.Mutex
	entries   map[string]*localEntry
	stopCh    chan struct{}
}

// NewLocalLimiter creates an in-process limiter. Stop must be called to end
// its cleanup goroutine.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	l := &LocalLimiter{
		perMinute: perMinute,
		entries:   make(map[string]*localEntry),
		stopCh:    make(chan struct{}),
	}
	go l.cleanup(5 * time.Minute)
	return l
}

func (l *LocalLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, entry := range l.entries {
				if now.Sub(entry.lastSeen) > 10*time.Minute {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop ends the cleanup goroutine
func (l *LocalLimiter) Stop() {
	close(l.stopCh)
}

// Allow implements Limiter
func (l *LocalLimiter) Allow(_ context.Context, key string) (RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.perMinute)}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return RateDecision{Allowed: false, RetryAfter: delay}, nil
	}
	return RateDecision{Allowed: true, Remaining: int(entry.limiter.TokensAt(now))}, nil
}

// Limit implements Limiter
func (l *LocalLimiter) Limit() int { return l.perMinute }

// RateLimit rejects clients that exceed the limiter's budget with 429. A
// failing limiter lets the request through.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := limiter.Allow(c.Request.Context(), "ip:"+c.ClientIP())
		if err != nil {
			logging.Warnf("Rate limiter unavailable, allowing request: %v", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			response.Error(c, apperrors.RateLimited("Rate limit exceeded"))
			return
		}
		c.Next()
	}
}
