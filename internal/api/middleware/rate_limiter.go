package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	// Max requests per window; also the burst a fresh client may spend at once
	Max    int
	Window time.Duration
	// KeyGenerator identifies the client; the default is the remote IP
	KeyGenerator func(c *fiber.Ctx) string
	// PerEndpoint overrides Max/Window for exact paths, with separate buckets
	PerEndpoint map[string]EndpointRateLimit
	// IdleTTL drops buckets unused for this long; defaults to two windows
	IdleTTL time.Duration
}

// EndpointRateLimit is a per-path limit
type EndpointRateLimit struct {
	Requests int
	Window   time.Duration
}

func (l EndpointRateLimit) limit() rate.Limit {
	return rate.Limit(float64(l.Requests) / l.Window.Seconds())
}

// EndpointRateLimits limits analyses to perMinute per client and corpus
// reloads to a handful per minute
func EndpointRateLimits(perMinute int) map[string]EndpointRateLimit {
	return map[string]EndpointRateLimit{
		"/v1/analyze":       {Requests: perMinute, Window: time.Minute},
		"/v1/corpus/reload": {Requests: 5, Window: time.Minute},
	}
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Max:    60,
		Window: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}
}

type bucket struct {
	limiter    *rate.Limiter
	burst      int
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client and endpoint. Tokens refill
// continuously at Max/Window, so a client that hits the limit waits for a
// single token rather than for a whole window.
type RateLimiter struct {
	config  RateLimiterConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	once    sync.Once
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.Max <= 0 {
		config.Max = defaults.Max
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.KeyGenerator == nil {
		config.KeyGenerator = defaults.KeyGenerator
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 2 * config.Window
	}

	rl := &RateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go rl.cleanupLoop()

	return rl
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

// Handler returns the Fiber middleware handler
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rl.config.KeyGenerator(c)
		if key == "" {
			return c.Next()
		}

		limit := EndpointRateLimit{Requests: rl.config.Max, Window: rl.config.Window}
		if l, ok := rl.config.PerEndpoint[c.Path()]; ok {
			limit = l
			key += "|" + c.Path()
		}

		now := rl.now()
		b := rl.bucket(key, limit, now)

		c.Set("X-RateLimit-Limit", strconv.Itoa(b.burst))

		reservation := b.limiter.ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); !reservation.OK() || delay > 0 {
			reservation.CancelAt(now)
			c.Set("X-RateLimit-Remaining", "0")
			c.Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
			return domain.ErrRateLimitExceeded
		}

		remaining := int(math.Floor(b.limiter.TokensAt(now)))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))

		return c.Next()
	}
}

// Len is the number of live buckets
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) bucket(key string, limit EndpointRateLimit, now time.Time) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(limit.limit(), limit.Requests),
			burst:   limit.Requests,
		}
		rl.buckets[key] = b
	}
	b.lastAccess = now
	return b
}

// evictIdle removes buckets not touched since IdleTTL before now. An idle
// bucket has refilled completely, so dropping it loses no state.
func (rl *RateLimiter) evictIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastAccess) > rl.config.IdleTTL {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.IdleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.evictIdle(rl.now())
		}
	}
}

// retryAfterSeconds rounds up so clients never retry early
func retryAfterSeconds(delay time.Duration) int {
	if delay <= 0 || delay == rate.InfDuration {
		return 1
	}
	return int(math.Ceil(delay.Seconds()))
}
