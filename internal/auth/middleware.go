package auth

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	apiKeyHeader   = "X-API-Key"
	adminKeyHeader = "X-Admin-Key"

	defaultAdminRateLimit = 100 // requests per minute
	defaultAdminBurst     = 20
)

// APIKeyMiddleware validates the X-API-Key header against the provided list.
// With no keys configured the middleware is a passthrough.
func APIKeyMiddleware(validKeys []string, logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}

	keySet := make(map[string]struct{}, len(validKeys))
	for _, key := range validKeys {
		keySet[key] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		if len(keySet) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(apiKeyHeader)
			if _, ok := keySet[apiKey]; !ok {
				logger.Printf("WARN: unauthorized request method=%s path=%s", r.Method, r.URL.Path)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminConfig configures the admin middleware.
type AdminConfig struct {
	MasterKeys []string
	Logger     *log.Logger
	RateLimit  rate.Limit
	Burst      int
}

// AdminMiddleware authenticates admin requests against master keys and
// applies a per-IP rate limit.
func AdminMiddleware(cfg AdminConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	masterSet := make(map[string]struct{}, len(cfg.MasterKeys))
	for _, key := range cfg.MasterKeys {
		masterSet[key] = struct{}{}
	}

	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Every(time.Minute / defaultAdminRateLimit)
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = defaultAdminBurst
	}

	ipLimiter := newIPRateLimiter(limit, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !ipLimiter.Allow(ip) {
				logger.Printf("WARN: admin rate limit exceeded ip=%s path=%s", ip, r.URL.Path)
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}

			adminKey := r.Header.Get(adminKeyHeader)
			if adminKey == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			if _, ok := masterSet[adminKey]; !ok {
				logger.Printf("WARN: invalid admin key ip=%s path=%s", ip, r.URL.Path)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
