package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter bounds connections per IP and requests per identity per
// minute.
type RateLimiter struct {
	connections map[string]int         // IP -> connection count
	requests    map[string][]time.Time // user id -> timestamps of requests
	mu          sync.RWMutex
	maxConns    int
	maxRequests int
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

func New(maxConns, maxRequests int) *RateLimiter {
	rl := &RateLimiter{
		connections: make(map[string]int),
		requests:    make(map[string][]time.Time),
		maxConns:    maxConns,
		maxRequests: maxRequests,
		now:         time.Now,
		stop:        make(chan struct{}),
	}

	// Cleanup old requests every minute
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanup()
			case <-rl.stop:
				return
			}
		}
	}()

	return rl
}

func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) MaxConns() int    { return rl.maxConns }
func (rl *RateLimiter) MaxRequests() int { return rl.maxRequests }

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-time.Minute)
	for id, stamps := range rl.requests {
		var valid []time.Time
		for _, t := range stamps {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) == 0 {
			delete(rl.requests, id)
		} else {
			rl.requests[id] = valid
		}
	}
}

func (rl *RateLimiter) CanConnect(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.maxConns <= 0 || rl.connections[ip] < rl.maxConns
}

func (rl *RateLimiter) AddConnection(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.connections[ip]++
}

func (rl *RateLimiter) RemoveConnection(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.connections[ip]--
	if rl.connections[ip] <= 0 {
		delete(rl.connections, ip)
	}
}

// AllowRequest records a request for userID and reports whether it fits in
// the last minute's budget. A zero budget disables the check.
func (rl *RateLimiter) AllowRequest(userID string) bool {
	if rl.maxRequests <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-time.Minute)
	var recent []time.Time
	for _, t := range rl.requests[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	rl.requests[userID] = recent

	if len(recent) >= rl.maxRequests {
		return false
	}

	rl.requests[userID] = append(rl.requests[userID], rl.now())
	return true
}

func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (for reverse proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
