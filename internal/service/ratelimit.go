package service

import (
	"sync"
	"time"
)

const (
	maxFailures   = 5
	baseLockout   = 1 * time.Minute
	maxLockout    = 15 * time.Minute
	attemptExpiry = 1 * time.Hour
)

// loginLimiter 按主体记录登录失败次数，连续失败 maxFailures 次后
// 按指数退避锁定该主体。
type loginLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newLoginLimiter(now func() time.Time) *loginLimiter {
	return &loginLimiter{attempts: make(map[string]*attemptRecord), now: now}
}

// check reports whether principal is locked out and for how long.
func (l *loginLimiter) check(principal string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[principal]
	if !ok {
		return false, 0
	}
	now := l.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(l.attempts, principal)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (l *loginLimiter) recordFailure(principal string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[principal]
	if !ok {
		rec = &attemptRecord{}
		l.attempts[principal] = rec
	}
	now := l.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= maxFailures {
		lockout := baseLockout
		for i := 0; i < rec.failures-maxFailures; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (l *loginLimiter) recordSuccess(principal string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, principal)
}

// sweep drops records whose last failure is older than attemptExpiry.
func (l *loginLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for p, rec := range l.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(l.attempts, p)
		}
	}
}
