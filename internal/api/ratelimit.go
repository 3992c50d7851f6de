package api

import (
	"net"
	"net/http"

	"github.com/incidenthub/incidenthub/internal/ratelimit"
)

// loginIPRateLimitMiddleware rate-limits by remote IP, ahead of
// authentication — used on /auth/login and /auth/register, where there is
// no principal yet to key on.
func loginIPRateLimitMiddleware(rl *ratelimit.Keyed) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !rl.Allow(ip) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "too many login attempts")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
