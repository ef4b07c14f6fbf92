package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/palette-backend/api/responses"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/google/uuid"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttler smooths high-frequency endpoints (prediction polling) with a token
// bucket per caller. Idle visitors are dropped once ttl passes.
type Throttler struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	lastGC   time.Time
	now      func() time.Time
}

func NewThrottler(rps float64, burst int, ttl time.Duration) *Throttler {
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Throttler{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (t *Throttler) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastGC) > t.ttl {
		for k, v := range t.visitors {
			if now.Sub(v.lastSeen) > t.ttl {
				delete(t.visitors, k)
			}
		}
		t.lastGC = now
	}

	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Throttle rejects callers that exhaust their bucket with 429.
func Throttle(t *Throttler, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if t == nil || t.rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if userID := UserIDFromContext(r.Context()); userID != uuid.Nil {
				key = userID.String()
			}
			if !t.allow(key) {
				w.Header().Set("Retry-After", "1")
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
