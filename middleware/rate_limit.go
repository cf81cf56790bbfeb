package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// loginAttempt tracks failed admin logins from one IP
type loginAttempt struct {
	count    int
	firstAt  time.Time
	lockedAt time.Time
	isLocked bool
}

// loginLimiter throttles brute-force attempts against the admin login
type loginLimiter struct {
	mu           sync.Mutex
	attempts     map[string]*loginAttempt
	maxAttempts  int
	windowPeriod time.Duration
	lockDuration time.Duration
}

var adminLoginLimiter = &loginLimiter{
	attempts:     make(map[string]*loginAttempt),
	maxAttempts:  5,
	windowPeriod: 15 * time.Minute,
	lockDuration: 30 * time.Minute,
}

// LoginRateLimitMiddleware rejects login requests from locked IPs
func LoginRateLimitMiddleware() gin.HandlerFunc {
	go adminLoginLimiter.cleanupLoop()

	return func(c *gin.Context) {
		locked, remaining := adminLoginLimiter.isLockedOut(c.ClientIP())
		if locked {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("too many failed logins, try again in %s", remaining.Round(time.Second)),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RecordFailedLogin counts one failed attempt, locking the IP once the
// window budget is exceeded.
func RecordFailedLogin(ip string) {
	adminLoginLimiter.mu.Lock()
	defer adminLoginLimiter.mu.Unlock()

	now := time.Now()
	a, ok := adminLoginLimiter.attempts[ip]
	if !ok || now.Sub(a.firstAt) > adminLoginLimiter.windowPeriod {
		adminLoginLimiter.attempts[ip] = &loginAttempt{count: 1, firstAt: now}
		return
	}

	a.count++
	if a.count >= adminLoginLimiter.maxAttempts {
		a.isLocked = true
		a.lockedAt = now
	}
}

// ResetLoginAttempts clears the counter after a successful login
func ResetLoginAttempts(ip string) {
	adminLoginLimiter.mu.Lock()
	defer adminLoginLimiter.mu.Unlock()
	delete(adminLoginLimiter.attempts, ip)
}

func (rl *loginLimiter) isLockedOut(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	a, ok := rl.attempts[ip]
	if !ok || !a.isLocked {
		return false, 0
	}

	elapsed := time.Since(a.lockedAt)
	if elapsed > rl.lockDuration {
		delete(rl.attempts, ip)
		return false, 0
	}
	return true, rl.lockDuration - elapsed
}

// cleanupLoop drops stale entries periodically
func (rl *loginLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, a := range rl.attempts {
			if a.isLocked && now.Sub(a.lockedAt) > rl.lockDuration {
				delete(rl.attempts, ip)
				continue
			}
			if !a.isLocked && now.Sub(a.firstAt) > rl.windowPeriod {
				delete(rl.attempts, ip)
			}
		}
		rl.mu.Unlock()
	}
}
