package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const PlatformKey contextKey = "clientPlatform"

// PlatformHeader carries the client's platform class, e.g. "android".
const PlatformHeader = "X-Client-Platform"

// ClientPlatform stores the reported platform class in the request context,
// falling back to fallback when the client sends none.
func ClientPlatform(fallback string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			platform := strings.ToLower(strings.TrimSpace(r.Header.Get(PlatformHeader)))
			if platform == "" {
				platform = fallback
			}

			ctx := context.WithValue(r.Context(), PlatformKey, platform)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetPlatform(r *http.Request) string {
	platform, ok := r.Context().Value(PlatformKey).(string)
	if !ok {
		return ""
	}
	return platform
}
