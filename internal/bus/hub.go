package bus

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session identifies an authenticated connection.
type Session struct {
	PlayerID int64
	Login    string
}

// TokenValidator resolves a bearer token presented in the auth frame.
type TokenValidator func(token string) (Session, bool)

// ClanChecker gates clan channel subscriptions.
type ClanChecker interface {
	IsClanMember(playerID, clanID int64) bool
}

// HubConfig holds transport tuning knobs.
type HubConfig struct {
	// QueueSize bounds each connection's outbound queue.
	QueueSize int
	// AuthWindow is how long a fresh socket may take to authenticate.
	AuthWindow time.Duration
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	// Reconnect policy advertised in auth_response.
	ReconnectBase        time.Duration
	ReconnectFactor      int
	ReconnectMaxAttempts int
}

// DefaultHubConfig returns production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		QueueSize:            256,
		AuthWindow:           10 * time.Second,
		PingPeriod:           30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		ReconnectBase:        5 * time.Second,
		ReconnectFactor:      2,
		ReconnectMaxAttempts: 5,
	}
}

// Hub routes published events to subscribed connections. One hub per
// process; every WebSocket client attaches to it after authenticating.
type Hub struct {
	cfg   HubConfig
	auth  TokenValidator
	clans ClanChecker

	mu    sync.RWMutex
	subs  map[string]map[*Conn]struct{}
	conns map[int64]*Conn

	upgrader websocket.Upgrader
}

// NewHub wires a hub. Zero config fields fall back to defaults.
func NewHub(cfg HubConfig, auth TokenValidator, clans ClanChecker) *Hub {
	def := DefaultHubConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.AuthWindow <= 0 {
		cfg.AuthWindow = def.AuthWindow
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = def.PingPeriod
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectFactor <= 0 {
		cfg.ReconnectFactor = def.ReconnectFactor
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = def.ReconnectMaxAttempts
	}
	return &Hub{
		cfg:   cfg,
		auth:  auth,
		clans: clans,
		subs:  make(map[string]map[*Conn]struct{}),
		conns: make(map[int64]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish implements Publisher: the event is serialized once and
// fanned out to every connection subscribed to its channel. Delivery
// is best-effort per connection; a full queue drops the oldest
// non-critical event, never a critical one.
func (h *Hub) Publish(ev Event) {
	frame, err := json.Marshal(map[string]any{
		"type":    ev.Type,
		"channel": ev.Channel,
		"payload": ev.Payload,
	})
	if err != nil {
		slog.Error("marshaling event", "type", ev.Type, "err", err)
		return
	}
	eventsPublished.WithLabelValues(ev.Type).Inc()

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.subs[ev.Channel]))
	for c := range h.subs[ev.Channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(queued{data: frame, critical: ev.Critical})
	}
}

// ServeWS upgrades an HTTP request and runs the connection until it
// closes. The client must authenticate within the auth window.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := newConn(h, ws)
	go c.writePump()
	go c.readPump()
}

// attach registers an authenticated connection and auto-subscribes it
// to its personal and the global channel. A second login of the same
// player displaces the first.
func (h *Hub) attach(c *Conn) {
	h.mu.Lock()
	prev := h.conns[c.playerID]
	h.conns[c.playerID] = c
	total := len(h.conns)
	h.mu.Unlock()

	if prev != nil {
		prev.closeWith(websocket.ClosePolicyViolation, "session superseded")
	}

	h.subscribe(c, UserChannel(c.playerID))
	h.subscribe(c, GlobalChannel)
	connectedClients.Inc()

	// Other sessions of the same user observe the new one.
	h.Publish(Event{
		Channel: UserChannel(c.playerID),
		Type:    TypeConnected,
		Payload: map[string]any{"user_id": c.playerID, "login": c.login},
	})
	// Presence changes only on the player's first connection; a
	// superseding login never bounces them offline.
	if prev == nil {
		h.Publish(Event{
			Channel: GlobalChannel,
			Type:    TypePlayerOnline,
			Payload: map[string]any{"user_id": c.playerID, "login": c.login, "total_online": total},
		})
	}
	slog.Info("client connected", "player", c.login, "superseded", prev != nil)
}

// detach removes a closed connection from every channel. player_offline
// goes out only when the closing connection is the player's registered
// one: a superseded connection leaves the player online.
func (h *Hub) detach(c *Conn) {
	h.mu.Lock()
	for ch := range c.subs {
		delete(h.subs[ch], c)
		if len(h.subs[ch]) == 0 {
			delete(h.subs, ch)
		}
	}
	last := h.conns[c.playerID] == c
	if last {
		delete(h.conns, c.playerID)
	}
	total := len(h.conns)
	h.mu.Unlock()

	connectedClients.Dec()
	if last {
		h.Publish(Event{
			Channel: GlobalChannel,
			Type:    TypePlayerOffline,
			Payload: map[string]any{"user_id": c.playerID, "login": c.login, "total_online": total},
		})
	}
	slog.Info("client disconnected", "player", c.login)
}

func (h *Hub) subscribe(c *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Conn]struct{})
	}
	h.subs[channel][c] = struct{}{}
	c.subs[channel] = struct{}{}
}

func (h *Hub) unsubscribe(c *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[channel], c)
	if len(h.subs[channel]) == 0 {
		delete(h.subs, channel)
	}
	delete(c.subs, channel)
}

// Online reports whether the player has a live connection.
func (h *Hub) Online(playerID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[playerID]
	return ok
}
