package lifecycle

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/astromechza/todosync/pkg/auth"
	"github.com/astromechza/todosync/pkg/broadcast"
	"github.com/astromechza/todosync/pkg/session"
	"github.com/astromechza/todosync/pkg/tasks"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	GeneratedAt time.Time `json:"generated_at"`
	Error       apiError  `json:"error"`
}

type HealthResponse struct {
	GeneratedAt time.Time `json:"generated_at"`
	Status      string    `json:"status"`
	Sessions    int       `json:"sessions"`
}

type SnapshotResponse struct {
	Version  uint64         `json:"version"`
	Snapshot tasks.Snapshot `json:"snapshot"`
}

type SubmitResponse struct {
	Changed bool   `json:"changed"`
	Version uint64 `json:"version"`
}

// Router exposes the health check, the snapshot and operation endpoints and
// the websocket session endpoint.
func (m *Manager) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			metrics := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL.Path, "duration", metrics.Duration, "status", metrics.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(m.getHealth)
	r.Methods(http.MethodGet).Path("/api/snapshot").HandlerFunc(m.getSnapshot)
	r.Methods(http.MethodPost).Path("/api/ops").HandlerFunc(m.postOp)
	r.Methods(http.MethodGet).Path("/api/ws").HandlerFunc(m.syncSession)
	return r
}

func (m *Manager) getHealth(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, HealthResponse{
		GeneratedAt: m.now().UTC(),
		Status:      "ok",
		Sessions:    m.registry.Len(),
	})
}

func (m *Manager) authorize(writer http.ResponseWriter, request *http.Request) (*broadcast.Coordinator, string, bool) {
	key := auth.KeyFromRequest(request)
	principal, err := m.validator.Validate(request.Context(), key)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			m.writeError(writer, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
		} else {
			slog.Error("failed to validate api key", "err", err)
			m.writeError(writer, http.StatusInternalServerError, "internal", "failed to validate api key")
		}
		return nil, "", false
	}
	coord, err := m.hub.Coordinator(request.Context(), principal)
	if err != nil {
		slog.Error("failed to open task list", "principal", principal, "err", err)
		m.writeError(writer, http.StatusInternalServerError, "internal", "failed to open task list")
		return nil, "", false
	}
	return coord, key, true
}

func (m *Manager) getSnapshot(writer http.ResponseWriter, request *http.Request) {
	coord, _, ok := m.authorize(writer, request)
	if !ok {
		return
	}
	snap, version := coord.State()
	writeJSON(writer, http.StatusOK, SnapshotResponse{Version: version, Snapshot: snap})
}

func (m *Manager) postOp(writer http.ResponseWriter, request *http.Request) {
	coord, _, ok := m.authorize(writer, request)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(request.Body, maxMessageSize))
	if err != nil {
		m.writeError(writer, http.StatusBadRequest, "bad_request", "failed to read body")
		return
	}
	env, err := tasks.DecodeEnvelope(raw)
	if err != nil {
		slog.Warn("dropping malformed operation", "principal", coord.Principal(), "err", err)
		m.writeError(writer, http.StatusBadRequest, "malformed_operation", err.Error())
		return
	}
	changed := coord.Submit("", env)
	writeJSON(writer, http.StatusOK, SubmitResponse{Changed: changed, Version: coord.Version()})
}

func (m *Manager) syncSession(writer http.ResponseWriter, request *http.Request) {
	coord, key, ok := m.authorize(writer, request)
	if !ok {
		return
	}
	conn, err := m.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}

	sess := session.New(coord.Principal(), key, m.cfg.OutboundQueue, m.now())
	m.registry.Add(sess)
	sess.Open()
	if !coord.Attach(sess) {
		sess.Close(session.ReasonError)
	}
	slog.Info("session opened", "session", sess.ID, "principal", sess.Principal, "remote", request.RemoteAddr)
	m.serve(conn, sess, coord)
}

func (m *Manager) writeError(writer http.ResponseWriter, status int, code, message string) {
	writeJSON(writer, status, errorResponse{
		GeneratedAt: m.now().UTC(),
		Error:       apiError{Code: code, Message: message},
	})
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
