package broadcast

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/astromechza/todosync/pkg/session"
	"github.com/astromechza/todosync/pkg/tasks"
)

// Coordinator owns the canonical snapshot of one principal. Every mutation and
// every attach runs inside mu, so all attached sessions observe the same
// total order of operations with no gaps after their initial overwrite.
type Coordinator struct {
	principal string

	mu       sync.Mutex
	snapshot tasks.Snapshot
	version  uint64
	sessions map[string]*session.Session
}

func NewCoordinator(principal string, initial tasks.Snapshot) *Coordinator {
	return &Coordinator{
		principal: principal,
		snapshot:  initial.Clone(),
		sessions:  make(map[string]*session.Session),
	}
}

func (c *Coordinator) Principal() string {
	return c.principal
}

// Attach subscribes s and queues a full OverwriteState as its first message.
func (c *Coordinator) Attach(s *session.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	env := tasks.Envelope{
		AllegedTime: time.Now().UnixMilli(),
		Op:          tasks.OverwriteState{Snapshot: c.snapshot.Clone()},
	}
	if !s.Enqueue(env) {
		return false
	}
	c.sessions[s.ID] = s
	slog.Info("session attached", "principal", c.principal, "session", s.ID, "version", c.version, "sessions", len(c.sessions))
	return true
}

func (c *Coordinator) Detach(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return
	}
	delete(c.sessions, sessionID)
	slog.Info("session detached", "principal", c.principal, "session", sessionID, "sessions", len(c.sessions))
}

// Submit applies env in arrival order and fans it out to every attached
// session, the originator included. Operations that resolve to nothing are
// neither counted nor delivered. It reports whether the snapshot changed.
func (c *Coordinator) Submit(sessionID string, env tasks.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, changed := tasks.ApplyChanged(c.snapshot, env.Op)
	if !changed {
		slog.Debug("operation resolved to nothing", "principal", c.principal, "session", sessionID, "kind", env.Op.Kind())
		return false
	}
	c.snapshot = next
	c.version++
	for _, id := range c.sortedSessionIDs() {
		s := c.sessions[id]
		if !s.Enqueue(env) {
			delete(c.sessions, id)
			slog.Warn("dropped session from fan-out", "principal", c.principal, "session", id, "reason", s.Reason())
		}
	}
	return true
}

// Snapshot returns a copy of the canonical snapshot.
func (c *Coordinator) Snapshot() tasks.Snapshot {
	snap, _ := c.State()
	return snap
}

// State returns a copy of the canonical snapshot and its version, read
// together.
func (c *Coordinator) State() (tasks.Snapshot, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone(), c.version
}

func (c *Coordinator) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Coordinator) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Coordinator) sortedSessionIDs() []string {
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
