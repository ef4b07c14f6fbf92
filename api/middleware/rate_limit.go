package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/palette-backend/api/responses"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/angelmondragon/palette-backend/pkg/ratelimit"
	"github.com/google/uuid"
)

const (
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimit applies a fixed-window policy keyed by purpose and the session
// user, falling back to the client IP for anonymous callers.
func RateLimit(limiter *ratelimit.Limiter, purpose string, policy ratelimit.Policy, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || !policy.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := clientIP(r)
			if userID := UserIDFromContext(ctx); userID != uuid.Nil {
				identity = userID.String()
			}

			res := limiter.Check(purpose+":"+identity, policy)
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(res.Remaining))
			w.Header().Set(headerRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"purpose":  purpose,
						"limit":    policy.MaxRequests,
						"reset_at": res.ResetAt.UTC(),
					}), "rate_limit.blocked")
				}
				w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter(time.Now())))
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests, try again later").WithDetails(map[string]any{
					"reset_at": res.ResetAt.UTC(),
				}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
