package broadcast

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/astromechza/todosync/pkg/tasks"
)

// Loader provides the snapshot a new coordinator starts from.
type Loader interface {
	Load(ctx context.Context, principal string) (tasks.Snapshot, bool, error)
}

// Hub keeps one coordinator per principal.
type Hub struct {
	loader Loader

	mu           sync.Mutex
	coordinators map[string]*Coordinator
}

// NewHub returns a hub. loader may be nil, in which case every principal
// starts from an empty snapshot.
func NewHub(loader Loader) *Hub {
	return &Hub{loader: loader, coordinators: make(map[string]*Coordinator)}
}

// Coordinator returns the coordinator of principal, creating it on first use.
func (h *Hub) Coordinator(ctx context.Context, principal string) (*Coordinator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.coordinators[principal]; ok {
		return c, nil
	}
	initial := tasks.Snapshot{}
	if h.loader != nil {
		snap, found, err := h.loader.Load(ctx, principal)
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshot for %s: %w", principal, err)
		}
		if found {
			initial = snap
		}
	}
	c := NewCoordinator(principal, initial)
	h.coordinators[principal] = c
	return c, nil
}

// Range calls fn for every coordinator in principal order until fn returns
// false.
func (h *Hub) Range(fn func(principal string, c *Coordinator) bool) {
	h.mu.Lock()
	principals := make([]string, 0, len(h.coordinators))
	for p := range h.coordinators {
		principals = append(principals, p)
	}
	coordinators := make(map[string]*Coordinator, len(h.coordinators))
	for p, c := range h.coordinators {
		coordinators[p] = c
	}
	h.mu.Unlock()

	sort.Strings(principals)
	for _, p := range principals {
		if !fn(p, coordinators[p]) {
			return
		}
	}
}
