package auth

import (
	"sync"
	"time"
)

// FailureLimiter blocks clients that keep presenting bad tokens
type FailureLimiter struct {
	mu       sync.Mutex
	attempts map[string]*ipAttempts
	now      func() time.Time
	lastScan time.Time
	// Config
	maxAttempts int           // Max failures before blocking
	window      time.Duration // Time window for counting failures
	blockTime   time.Duration // How long to block after max failures
}

type ipAttempts struct {
	count     int
	firstTime time.Time
	blocked   bool
	blockEnd  time.Time
}

// NewFailureLimiter creates a new limiter.
// Default: 5 failures per 2 minutes, block for 5 minutes
func NewFailureLimiter() *FailureLimiter {
	return &FailureLimiter{
		attempts:    make(map[string]*ipAttempts),
		now:         time.Now,
		maxAttempts: 5,
		window:      2 * time.Minute,
		blockTime:   5 * time.Minute,
	}
}

// Blocked reports whether ip is blocked and for how many more seconds
func (rl *FailureLimiter) Blocked(ip string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	att, exists := rl.attempts[ip]
	if !exists || !att.blocked {
		return false, 0
	}

	now := rl.now()
	if now.After(att.blockEnd) {
		delete(rl.attempts, ip)
		return false, 0
	}
	return true, int(att.blockEnd.Sub(now).Seconds())
}

// RecordFailure counts one bad token from ip
func (rl *FailureLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.prune(now)

	att, exists := rl.attempts[ip]
	if !exists || now.Sub(att.firstTime) > rl.window {
		rl.attempts[ip] = &ipAttempts{count: 1, firstTime: now}
		return
	}

	att.count++
	if att.count >= rl.maxAttempts {
		att.blocked = true
		att.blockEnd = now.Add(rl.blockTime)
	}
}

// Reset clears the failures of ip (e.g., after a valid token)
func (rl *FailureLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

// prune removes old entries at most once per window
func (rl *FailureLimiter) prune(now time.Time) {
	if now.Sub(rl.lastScan) < rl.window {
		return
	}
	rl.lastScan = now
	for ip, att := range rl.attempts {
		// Remove if: not blocked and window expired, or block expired
		if !att.blocked && now.Sub(att.firstTime) > rl.window {
			delete(rl.attempts, ip)
		} else if att.blocked && now.After(att.blockEnd) {
			delete(rl.attempts, ip)
		}
	}
}
