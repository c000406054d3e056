package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vwinv/backend-almadina/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// rateEntry tracks request counts of one client within a fixed window.
type rateEntry struct {
	count     int
	windowEnd time.Time
}

// RateLimiter caps requests per client IP within a fixed window.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*rateEntry
}

// NewRateLimiter returns a limiter allowing limit requests per window.
// A non-positive limit disables it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, now: time.Now, entries: make(map[string]*rateEntry)}
}

// allow counts one request for key and reports whether it fits the window,
// plus the window end for Retry-After.
func (rl *RateLimiter) allow(key string) (bool, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.entries[key]
	if !ok || now.After(entry.windowEnd) {
		entry = &rateEntry{windowEnd: now.Add(rl.window)}
		rl.entries[key] = entry
	}
	entry.count++
	return entry.count <= rl.limit, entry.windowEnd
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}
		ok, windowEnd := rl.allow(c.ClientIP())
		if !ok {
			retry := int(windowEnd.Sub(rl.now()).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New("too many requests, try again shortly"))
			return
		}
		c.Next()
	}
}

// Purge drops expired entries so clients that never return do not pile up.
func (rl *RateLimiter) Purge() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	purged := 0
	for ip, entry := range rl.entries {
		if now.After(entry.windowEnd) {
			delete(rl.entries, ip)
			purged++
		}
	}
	return purged
}

// RunPurge purges every interval until done is closed.
func (rl *RateLimiter) RunPurge(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := rl.Purge(); n > 0 {
				log.Debug().Int("purged", n).Msg("rate limiter entries purged")
			}
		}
	}
}
