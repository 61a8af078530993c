package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-forms/pkg/gateway/apierror"
	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/principal"
	"github.com/vango-go/vai-forms/pkg/gateway/ratelimit"
)

// RateLimit spends one token per operator request. Live upgrades are capped
// by concurrent sessions in the live handler instead.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if r.Method == http.MethodOptions || Public(r) {
			next.ServeHTTP(w, r)
			return
		}

		who := principal.Resolve(r, cfg.TrustProxyHeaders)
		dec := limiter.Allow(who.Key, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			retryAfter := max(dec.RetryAfter, 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSONError(w, http.StatusTooManyRequests, &apierror.Error{
				Type:       apierror.TypeRateLimit,
				Message:    "rate limit exceeded",
				RequestID:  reqID,
				RetryAfter: &retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
