package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/todosync/pkg/tasks"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// CloseReason is the client-observable cause of a session ending.
type CloseReason int

const (
	ReasonNone CloseReason = iota
	ReasonNormal
	ReasonUnauthorized
	ReasonTimeout
	ReasonError
)

// Private-range websocket close codes.
const (
	CodeUnauthorized = 4001
	CodeTimeout      = 4008
)

func (r CloseReason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonTimeout:
		return "timeout"
	case ReasonError:
		return "error"
	}
	return "none"
}

// Code is the websocket close code sent for the reason.
func (r CloseReason) Code() int {
	switch r {
	case ReasonNormal:
		return websocket.CloseNormalClosure
	case ReasonUnauthorized:
		return CodeUnauthorized
	case ReasonTimeout:
		return CodeTimeout
	}
	return websocket.CloseInternalServerErr
}

// Resumable reports whether a client should silently reconnect with the same
// credential after a close for this reason.
func (r CloseReason) Resumable() bool {
	return r == ReasonTimeout || r == ReasonError
}

// ReasonFromCode maps a received close code back to a reason.
func ReasonFromCode(code int) CloseReason {
	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return ReasonNormal
	case CodeUnauthorized:
		return ReasonUnauthorized
	case CodeTimeout:
		return ReasonTimeout
	}
	return ReasonError
}

// Session is one authenticated connection and its delivery queue. It holds no
// copy of the snapshot.
type Session struct {
	ID         string
	Principal  string
	Credential string
	CreatedAt  time.Time

	outbound chan tasks.Envelope
	done     chan struct{}
	lastSeen atomic.Int64

	mu     sync.Mutex
	state  State
	reason CloseReason
}

func New(principal, credential string, queue int, now time.Time) *Session {
	if queue <= 0 {
		queue = 1
	}
	s := &Session{
		ID:         uuid.NewString(),
		Principal:  principal,
		Credential: credential,
		CreatedAt:  now,
		outbound:   make(chan tasks.Envelope, queue),
		done:       make(chan struct{}),
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

// Open moves a connecting session to open.
func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.state = StateOpen
	return true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Close ends the session. Only the first call has any effect.
func (s *Session) Close(reason CloseReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.reason = reason
	close(s.done)
	return true
}

// Enqueue queues env for delivery without blocking. A full queue means the
// client cannot keep up; the session is closed with ReasonError.
func (s *Session) Enqueue(env tasks.Envelope) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	select {
	case s.outbound <- env:
		s.mu.Unlock()
		return true
	default:
	}
	s.mu.Unlock()
	s.Close(ReasonError)
	return false
}

// Outbound is never closed; writers select on Done as well.
func (s *Session) Outbound() <-chan tasks.Envelope {
	return s.outbound
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Idle reports whether nothing was received from the client within window.
func (s *Session) Idle(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastSeen()) > window
}
