package session

import (
	"sort"
	"sync"
	"time"
)

// Registry indexes every live session by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove drops the session and returns it, or nil when it was not present.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch records traffic for the session with the given id.
func (r *Registry) Touch(id string, now time.Time) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	s.Touch(now)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Expired returns sessions silent for longer than window.
func (r *Registry) Expired(now time.Time, window time.Duration) []*Session {
	var out []*Session
	for _, s := range r.List() {
		if s.Idle(now, window) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) ByPrincipal(principal string) []*Session {
	var out []*Session
	for _, s := range r.List() {
		if s.Principal == principal {
			out = append(out, s)
		}
	}
	return out
}
