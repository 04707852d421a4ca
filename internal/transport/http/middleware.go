package http

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyAuth checks the X-API-Key header against a static key list. With no
// keys configured every request passes.
type APIKeyAuth struct {
	keys [][]byte
}

func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, k := range keys {
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

func (a *APIKeyAuth) valid(key string) bool {
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func (a *APIKeyAuth) Wrap(next http.Handler) http.Handler {
	if len(a.keys) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing X-API-Key header"})
			return
		}

		if !a.valid(apiKey) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
