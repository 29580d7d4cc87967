package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter combines a sliding window per key with a token bucket per key
// that caps bursts.
type RateLimiter struct {
	windows  map[string]*Window
	mu       sync.Mutex
	limit    int
	window   time.Duration
	burstMax int
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Window represents a rate limit window for a specific key
type Window struct {
	Requests []time.Time
	LastSeen time.Time
	bucket   *rate.Limiter
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window
	RequestsPerWindow int
	// WindowDuration is the duration of the rate limit window
	WindowDuration time.Duration
	// BurstMax is how many requests may arrive back to back; the bucket refills
	// at BurstMax per second.
	BurstMax int
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstMax:          10,
	}
}

// NewRateLimiter creates a new rate limiter. Call Stop to end its cleanup loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerWindow < 1 {
		config.RequestsPerWindow = 1
	}
	if config.WindowDuration <= 0 {
		config.WindowDuration = time.Minute
	}
	if config.BurstMax < 1 {
		config.BurstMax = 1
	}

	rl := &RateLimiter{
		windows:  make(map[string]*Window),
		limit:    config.RequestsPerWindow,
		window:   config.WindowDuration,
		burstMax: config.BurstMax,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go rl.cleanupLoop(5 * time.Minute)

	return rl
}

// Allow checks if a request is allowed for the given key (e.g., user ID, IP)
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.get(key, now)
	w.prune(now.Add(-rl.window))
	w.LastSeen = now

	if len(w.Requests) >= rl.limit {
		return false
	}
	if !w.bucket.AllowN(now, 1) {
		return false
	}

	w.Requests = append(w.Requests, now)
	return true
}

func (rl *RateLimiter) get(key string, now time.Time) *Window {
	w, ok := rl.windows[key]
	if !ok {
		w = &Window{
			Requests: make([]time.Time, 0, rl.limit),
			LastSeen: now,
			bucket:   rate.NewLimiter(rate.Limit(rl.burstMax), rl.burstMax),
		}
		rl.windows[key] = w
	}
	return w
}

func (w *Window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.Requests) && !w.Requests[i].After(cutoff) {
		i++
	}
	w.Requests = w.Requests[i:]
}

// Reset resets the rate limit for a specific key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, key)
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer close(rl.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup removes windows idle for two full windows.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window * 2)
	for key, w := range rl.windows {
		w.prune(now.Add(-rl.window))
		if w.LastSeen.Before(cutoff) && len(w.Requests) == 0 {
			delete(rl.windows, key)
		}
	}
}

// RateLimitInfo contains rate limit information for response headers
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// GetInfo returns rate limit info for a key
func (rl *RateLimiter) GetInfo(key string) RateLimitInfo {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	info := RateLimitInfo{Limit: rl.limit, Remaining: rl.limit, ResetAt: now}

	w, ok := rl.windows[key]
	if !ok {
		return info
	}
	w.prune(now.Add(-rl.window))
	if n := len(w.Requests); n > 0 {
		info.Remaining = max(rl.limit-n, 0)
		info.ResetAt = w.Requests[0].Add(rl.window)
	}
	return info
}
