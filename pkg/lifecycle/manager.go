package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/todosync/pkg/auth"
	"github.com/astromechza/todosync/pkg/broadcast"
	"github.com/astromechza/todosync/pkg/config"
	"github.com/astromechza/todosync/pkg/session"
	"github.com/astromechza/todosync/pkg/tasks"
)

const maxMessageSize = 1 << 20

// Manager authenticates connections, turns them into sessions attached to the
// principal's coordinator and evicts sessions that go silent or lose their
// credential.
type Manager struct {
	cfg       config.Config
	validator auth.Validator
	hub       *broadcast.Hub
	registry  *session.Registry
	upgrader  websocket.Upgrader
	now       func() time.Time

	wg sync.WaitGroup
}

func NewManager(cfg config.Config, validator auth.Validator, hub *broadcast.Hub) *Manager {
	return &Manager{
		cfg:       cfg,
		validator: validator,
		hub:       hub,
		registry:  session.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now: time.Now,
	}
}

func (m *Manager) Registry() *session.Registry {
	return m.registry
}

// Run sweeps sessions every SweepInterval until ctx is done, then closes every
// remaining session and waits for their connections to wind down.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.Sweep(ctx, m.now())
		case <-ctx.Done():
			for _, s := range m.registry.List() {
				s.Close(session.ReasonError)
			}
			m.wg.Wait()
			slog.Info("stopped session manager")
			return
		}
	}
}

// Sweep closes sessions that were silent for longer than the liveness window
// and sessions whose credential no longer maps to their principal.
func (m *Manager) Sweep(ctx context.Context, now time.Time) {
	for _, s := range m.registry.Expired(now, m.cfg.LivenessWindow) {
		if s.Close(session.ReasonTimeout) {
			slog.Info("evicting silent session", "session", s.ID, "principal", s.Principal, "last_seen", s.LastSeen())
		}
	}
	for _, s := range m.registry.List() {
		principal, err := m.validator.Validate(ctx, s.Credential)
		switch {
		case errors.Is(err, auth.ErrUnauthorized) || (err == nil && principal != s.Principal):
			if s.Close(session.ReasonUnauthorized) {
				slog.Info("evicting session with revoked credential", "session", s.ID, "principal", s.Principal)
			}
		case err != nil:
			slog.Error("failed to revalidate session", "session", s.ID, "err", err)
		}
	}
}

// serve runs one open session until it closes. Inbound reads and outbound
// writes run independently; only Submit touches the coordinator's lock.
func (m *Manager) serve(conn *websocket.Conn, sess *session.Session, coord *broadcast.Coordinator) {
	m.wg.Add(1)
	defer m.wg.Done()
	defer conn.Close()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.readLoop(conn, sess, coord)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writeLoop(conn, sess)
	}()
	wg.Wait()

	coord.Detach(sess.ID)
	m.registry.Remove(sess.ID)
	slog.Info("session closed", "session", sess.ID, "principal", sess.Principal, "reason", sess.Reason())
}

func (m *Manager) readLoop(conn *websocket.Conn, sess *session.Session, coord *broadcast.Coordinator) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		sess.Touch(m.now())
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		sess.Touch(m.now())
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(m.cfg.WriteTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})

	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				sess.Close(session.ReasonFromCode(closeErr.Code))
			} else {
				sess.Close(session.ReasonError)
			}
			return
		}
		sess.Touch(m.now())
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		env, err := tasks.DecodeEnvelope(p)
		if err != nil {
			slog.Warn("dropping malformed operation", "session", sess.ID, "err", err)
			continue
		}
		coord.Submit(sess.ID, env)
	}
}

func (m *Manager) writeLoop(conn *websocket.Conn, sess *session.Session) {
	ping := time.NewTicker(m.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case env := <-sess.Outbound():
			raw, err := json.Marshal(env)
			if err != nil {
				slog.Error("failed to encode operation", "session", sess.ID, "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				slog.Warn("failed to write operation", "session", sess.ID, "err", err)
				sess.Close(session.ReasonError)
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				sess.Close(session.ReasonError)
			}
		case <-sess.Done():
			reason := sess.Reason()
			msg := websocket.FormatCloseMessage(reason.Code(), reason.String())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.cfg.WriteTimeout))
			_ = conn.Close()
			return
		}
	}
}
