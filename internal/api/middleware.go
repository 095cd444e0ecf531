package api

import (
	"net/http"
	"strconv"
	"time"
)

// corsMiddleware handles CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Account, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds security headers
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the signing account of every API request
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := s.auth.Authenticate(r)
		if err != nil {
			if s.metrics != nil {
				s.metrics.RecordAuthAttempt(s.auth.Method(), "failure")
			}
			s.logger.WithContext(r.Context()).WithError(err).Warn("Authentication failed")
			s.writeError(w, r, err)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordAuthAttempt(s.auth.Method(), "success")
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), account)))
	})
}

// rateLimitMiddleware applies per-account rate limiting
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		account := callerFrom(r)
		if !s.limiter.Allow(string(account)) {
			s.logger.WithContext(r.Context()).WithField("account", account).Warn("Rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.Period()/time.Second)))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:     errorDetail{Code: "RATE_LIMITED", Message: "rate limit exceeded"},
				Timestamp: time.Now().UTC(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
