package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/darkodi/shorts/internal/config"
	"github.com/darkodi/shorts/internal/errors"
	"github.com/darkodi/shorts/internal/logger"
)

// RateLimiter implements a per-client token bucket rate limiter
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*client
	rate     int           // tokens added per interval
	burst    int           // max tokens (bucket size)
	interval time.Duration // how often to add tokens
	cleanup  time.Duration // cleanup old entries
	log      *logger.Logger
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type client struct {
	tokens    int
	lastCheck time.Time
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(cfg config.RateLimitConfig, log *logger.Logger) *RateLimiter {
	rl := &RateLimiter{
		clients:  make(map[string]*client),
		rate:     cfg.Rate,
		burst:    cfg.Burst,
		interval: cfg.Interval,
		cleanup:  cfg.Cleanup,
		log:      log.Component("ratelimit"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if rl.interval <= 0 {
		rl.interval = time.Second
	}
	if rl.cleanup <= 0 {
		rl.cleanup = 5 * time.Minute
	}

	go rl.cleanupLoop()

	return rl
}

// Allow checks if a request from the given IP is allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	c, exists := rl.clients[ip]
	if !exists {
		// New client gets full bucket
		rl.clients[ip] = &client{
			tokens:    rl.burst - 1, // -1 for current request
			lastCheck: now,
		}
		return rl.burst > 0
	}

	// Calculate tokens to add based on whole intervals elapsed
	intervals := int(now.Sub(c.lastCheck) / rl.interval)
	if intervals > 0 {
		c.tokens = min(c.tokens+intervals*rl.rate, rl.burst)
		c.lastCheck = c.lastCheck.Add(time.Duration(intervals) * rl.interval)
	}

	if c.tokens > 0 {
		c.tokens--
		return true
	}

	return false
}

// Stop ends the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanupLoop removes old client entries periodically
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			count := rl.evict(rl.now().Add(-rl.cleanup))
			rl.log.Debug("rate limiter cleanup", "active_clients", count)
		}
	}
}

func (rl *RateLimiter) evict(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if c.lastCheck.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
	return len(rl.clients)
}

// Middleware returns the rate limiting middleware
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)

			if !rl.Allow(ip) {
				rl.log.Warn("rate limit exceeded",
					"request_id", getRequestID(r.Context()),
					"ip", ip,
					"path", r.URL.Path,
				)

				w.Header().Set("Retry-After", "1")
				errors.RateLimitExceeded().WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy/load balancer)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr without the port
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
