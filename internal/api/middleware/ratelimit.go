package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/api/shared"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused per-user limiter is kept. Idle
// limiters are swept at most once per idleLimiterTTL.
const idleLimiterTTL = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per authenticated user with a token bucket.
// It must run after Authenticate.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	users     map[uuid.UUID]*userLimiter
	nextSweep time.Time
}

// NewRateLimiter allows perMinute requests per user with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = max(perMinute, 1)
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	return &RateLimiter{
		limit: limit,
		burst: burst,
		now:   time.Now,
		users: make(map[uuid.UUID]*userLimiter),
	}
}

// Allow reports whether userID may make another request now.
func (l *RateLimiter) Allow(userID uuid.UUID) bool {
	if l.limit == rate.Inf {
		return true
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = u
	}
	u.lastSeen = now
	if !now.Before(l.nextSweep) {
		l.evictIdle(now)
		l.nextSweep = now.Add(idleLimiterTTL)
	}

	return u.limiter.AllowN(now, 1)
}

func (l *RateLimiter) evictIdle(now time.Time) {
	for id, u := range l.users {
		if now.Sub(u.lastSeen) > idleLimiterTTL {
			delete(l.users, id)
		}
	}
}

// Limit rejects requests over the caller's budget with 429.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := shared.IdentityFromContext(r.Context())
		if !ok {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !l.Allow(identity.UserID) {
			w.Header().Set("Retry-After", "60")
			shared.RespondWithErrorAndLog(w, r, http.StatusTooManyRequests,
				"Too many report requests, try again later", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
