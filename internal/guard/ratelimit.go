package guard

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schoolbot/backend/pkg/logger"
)

// RateLimiter tracks request timestamps per user over a sliding window.
// Windows live in process memory only; losing them on restart is acceptable
// because limiting is best-effort.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	quota   int
	window  time.Duration
	now     func() time.Time
}

func NewRateLimiter(quota int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string][]time.Time),
		quota:   quota,
		window:  window,
		now:     time.Now,
	}
}

// Check prunes entries older than the window and reports whether the user is
// under quota. It does not count the current request; call Record for that.
func (rl *RateLimiter) Check(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	timestamps, ok := rl.windows[userID]
	if !ok {
		return true
	}

	cutoff := rl.now().Add(-rl.window)
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rl.windows[userID] = kept

	allowed := len(kept) < rl.quota
	if !allowed {
		logger.Warn("Rate limit exceeded",
			zap.String("user_id", userID),
			zap.Int("requests_in_window", len(kept)),
		)
	}
	return allowed
}

// Record registers a request at the current time.
func (rl *RateLimiter) Record(userID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.windows[userID] = append(rl.windows[userID], rl.now())
}
