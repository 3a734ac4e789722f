package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

const defaultCORSMaxAgeSeconds = 600

type CORSConfig struct {
	AllowedOrigins []string
	MaxAgeSeconds  int
}

// CORS answers preflights and decorates responses for allowed origins.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	maxAge := cfg.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAgeSeconds
	}

	c := cors.New(cors.Options{
		AllowedOrigins: normalizeStringList(cfg.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition", "Location", "Retry-After", "X-Request-Id"},
		MaxAge:         maxAge,
	})
	return c.Handler
}

func normalizeStringList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		result = append(result, value)
	}
	return result
}
