package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
)

// ErrUnauthorized is returned for missing, unknown or revoked credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Validator checks an opaque bearer credential.
type Validator interface {
	Validate(ctx context.Context, key string) (string, error)
}

// Static validates against an in-memory key → principal table that can be
// replaced or revoked at runtime.
type Static struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewStatic(keys map[string]string) *Static {
	s := &Static{}
	s.Replace(keys)
	return s
}

func (s *Static) Validate(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrUnauthorized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for candidate, principal := range s.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return principal, nil
		}
	}
	return "", ErrUnauthorized
}

// Replace swaps the whole key table.
func (s *Static) Replace(keys map[string]string) {
	next := make(map[string]string, len(keys))
	for k, p := range keys {
		if k != "" && p != "" {
			next[k] = p
		}
	}
	s.mu.Lock()
	s.keys = next
	s.mu.Unlock()
}

func (s *Static) Revoke(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; !ok {
		return false
	}
	delete(s.keys, key)
	return true
}

// KeyFromRequest extracts the credential from an Authorization bearer header,
// falling back to the api_key query parameter for websocket clients that
// cannot set headers.
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("api_key")
}
