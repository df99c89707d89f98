// middleware_ratelimit.go - Per-Caller Token-Bucket-Rate-Limiting
//
// Jeder Caller (client_id, oder Peer-Adresse als Fallback) erhaelt
// einen eigenen Token-Bucket mit Kapazitaet rate_limit_per_minute und
// Refill-Rate capacity/60s. Buckets, die laenger als
// RateLimiterIdleEvict nicht angefasst wurden, werden aus der Map
// entfernt, damit Langzeit-Betrieb nicht unbeschraenkt Speicher fuer
// voruebergehende Caller bindet.
package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// tokenBucket is a single caller's rate-limit state.
type tokenBucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
	mu         sync.Mutex
}

func newTokenBucket(capacityPerMinute int) *tokenBucket {
	now := time.Now()
	cap := float64(capacityPerMinute)
	return &tokenBucket{
		capacity:   cap,
		refillRate: cap / 60.0,
		tokens:     cap,
		lastRefill: now,
		lastSeen:   now,
	}
}

func (b *tokenBucket) allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refill(now)
	b.lastSeen = now

	if b.tokens < 1 {
		deficit := 1 - b.tokens
		wait := time.Duration(deficit / b.refillRate * float64(time.Second))
		return false, wait
	}

	b.tokens--
	return true, 0
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func (b *tokenBucket) idleFor(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastSeen)
}

// RateLimiter holds one token bucket per caller id.
type RateLimiter struct {
	capacityPerMinute int
	idleEvict         time.Duration

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	stopCh chan struct{}
}

// NewRateLimiter constructs a limiter and starts its idle-eviction
// sweep goroutine.
func NewRateLimiter(capacityPerMinute int, idleEvict, sweepEvery time.Duration) *RateLimiter {
	rl := &RateLimiter{
		capacityPerMinute: capacityPerMinute,
		idleEvict:         idleEvict,
		buckets:           make(map[string]*tokenBucket),
		stopCh:            make(chan struct{}),
	}
	go rl.evictLoop(sweepEvery)
	return rl
}

// Allow consumes one token from callerID's bucket, creating it on
// first use. It returns whether the call is admitted and, if not, how
// long the caller should wait before retrying.
func (rl *RateLimiter) Allow(callerID string) (bool, time.Duration) {
	rl.mu.Lock()
	b, ok := rl.buckets[callerID]
	if !ok {
		b = newTokenBucket(rl.capacityPerMinute)
		rl.buckets[callerID] = b
	}
	rl.mu.Unlock()

	return b.allow()
}

// Stop halts the eviction goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *RateLimiter) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, b := range rl.buckets {
		if b.idleFor(now) > rl.idleEvict {
			delete(rl.buckets, id)
		}
	}
}

// callerID resolves the identity used for rate limiting: the request's
// client_id when present, the remote peer address otherwise.
func callerID(c *gin.Context, clientID string) string {
	if clientID != "" {
		return clientID
	}
	return c.ClientIP()
}

// GlobalAdmissionMiddleware enforces a process-wide request rate in
// front of the per-caller buckets, so a flood of distinct caller ids
// cannot saturate the scheduler before queue-full kicks in. The
// per-caller bucket check runs later, once the request body (and with
// it client_id) has been parsed.
func GlobalAdmissionMiddleware(lim *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim != nil && !lim.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": ErrRateLimited.Error(),
			})
			return
		}
		c.Next()
	}
}

func formatRetryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
