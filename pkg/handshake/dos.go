package handshake

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter bounds the rate of server handshakes, globally and per server
// name. Its Allow method is a Config.DoSProtection callback. It is safe for
// concurrent use.
type RateLimiter struct {
	global *rate.Limiter

	mu       sync.Mutex
	perName  map[string]*nameLimiter
	nameRate rate.Limit
	burst    int

	// OnLimited, when set, is called for every rejected handshake.
	OnLimited func(info *ClientHelloInfo)
}

type nameLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond handshakes overall with the given burst.
// A non-positive rate disables the global limit.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &RateLimiter{perName: make(map[string]*nameLimiter), burst: burst}
	if perSecond > 0 {
		l.global = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

// LimitPerServerName adds a limit of perSecond handshakes for each SNI value.
func (l *RateLimiter) LimitPerServerName(perSecond float64) *RateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nameRate = rate.Limit(perSecond)
	return l
}

// Allow reports whether a handshake for info may proceed.
func (l *RateLimiter) Allow(info *ClientHelloInfo) bool {
	ok := l.allowName(info.ServerName) && (l.global == nil || l.global.Allow())
	if !ok && l.OnLimited != nil {
		l.OnLimited(info)
	}
	return ok
}

func (l *RateLimiter) allowName(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nameRate <= 0 {
		return true
	}
	now := time.Now()
	nl, ok := l.perName[name]
	if !ok {
		nl = &nameLimiter{limiter: rate.NewLimiter(l.nameRate, l.burst)}
		l.perName[name] = nl
	}
	nl.lastSeen = now
	return nl.limiter.AllowN(now, 1)
}

// Prune drops per-name state idle for longer than idle.
func (l *RateLimiter) Prune(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	for name, nl := range l.perName {
		if nl.lastSeen.Before(cutoff) {
			delete(l.perName, name)
		}
	}
}
