// Package api is the HTTP adapter: it translates REST calls into
// engine commands and read-side snapshots. All responses share the
// envelope {success, data?, error?, code?}.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/udisondev/hackgrid/internal/bus"
	"github.com/udisondev/hackgrid/internal/clock"
	"github.com/udisondev/hackgrid/internal/engine"
	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/resource"
	"github.com/udisondev/hackgrid/internal/session"
	"github.com/udisondev/hackgrid/internal/world"
)

// PlayerStore is the durable player surface the API needs.
type PlayerStore interface {
	GetByLogin(ctx context.Context, login string) (*model.Player, error)
	Create(ctx context.Context, p *model.Player) error
	SetHomeServer(ctx context.Context, playerID, serverID int64) error
	TouchLastSeen(ctx context.Context, playerID int64, at time.Time) error
}

// ServerStore creates durable server rows (registration).
type ServerStore interface {
	Create(ctx context.Context, s *model.Server) error
}

// LogStore reads a server's visible log entries.
type LogStore interface {
	ByServer(ctx context.Context, serverID int64, limit int) ([]model.LogEntry, error)
}

// API glues the HTTP surface to the engine and its read models.
type API struct {
	eng      *engine.Engine
	world    *world.Cache
	acct     *resource.Accountant
	sessions *session.Manager
	players  PlayerStore
	servers  ServerStore
	logs     LogStore
	hub      *bus.Hub
	clk      clock.Clock
}

// New wires the API.
func New(eng *engine.Engine, wc *world.Cache, acct *resource.Accountant,
	sessions *session.Manager, players PlayerStore, servers ServerStore,
	logs LogStore, hub *bus.Hub, clk clock.Clock) *API {
	return &API{
		eng: eng, world: wc, acct: acct, sessions: sessions,
		players: players, servers: servers, logs: logs, hub: hub, clk: clk,
	}
}

// Router builds the route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if a.hub != nil {
		r.HandleFunc("/ws", a.hub.ServeWS)
	}

	r.HandleFunc("/auth/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", a.requireAuth(a.handleLogout)).Methods(http.MethodPost)

	r.HandleFunc("/user/profile", a.requireAuth(a.handleProfile)).Methods(http.MethodGet)
	r.HandleFunc("/user/stats", a.requireAuth(a.handleStats)).Methods(http.MethodGet)

	r.HandleFunc("/processes/active", a.requireAuth(a.handleActiveProcesses)).Methods(http.MethodGet)
	r.HandleFunc("/processes/start", a.requireAuth(a.handleStartProcess)).Methods(http.MethodPost)
	r.HandleFunc("/processes/{pid:[0-9]+}/kill", a.requireAuth(a.handleKill)).Methods(http.MethodPost)
	r.HandleFunc("/processes/{pid:[0-9]+}/pause", a.requireAuth(a.handlePause)).Methods(http.MethodPost)
	r.HandleFunc("/processes/{pid:[0-9]+}/resume", a.requireAuth(a.handleResume)).Methods(http.MethodPost)

	r.HandleFunc("/software/installed", a.requireAuth(a.handleInstalledSoftware)).Methods(http.MethodGet)
	r.HandleFunc("/hardware/owned", a.requireAuth(a.handleOwnedHardware)).Methods(http.MethodGet)
	r.HandleFunc("/servers/available", a.requireAuth(a.handleAvailableServers)).Methods(http.MethodGet)
	r.HandleFunc("/servers/connect", a.requireAuth(a.handleConnectServer)).Methods(http.MethodPost)
	r.HandleFunc("/network/scan", a.requireAuth(a.handleNetworkScan)).Methods(http.MethodPost)

	r.HandleFunc("/sync", a.requireAuth(a.handleSync)).Methods(http.MethodGet)
	return r
}

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		slog.Error("encoding response", "err", err)
	}
}

func fail(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg, Code: code})
}

func decode(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, sess *session.Info)

// requireAuth resolves the bearer token or rejects with 401.
func (a *API) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			fail(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		sess := a.sessions.Validate(token)
		if sess == nil {
			fail(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		next(w, r, sess)
	}
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]any{"status": "ok"})
}
