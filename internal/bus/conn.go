package bus

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxFrameSize = 64 * 1024

// queued is one outbound frame. Critical frames survive backpressure.
type queued struct {
	data     []byte
	critical bool
}

// Conn is one WebSocket client. The write pump is the only goroutine
// touching the socket for writes; the read pump the only one reading.
type Conn struct {
	hub *Hub
	ws  *websocket.Conn

	playerID int64
	login    string
	subs     map[string]struct{}

	out    *outbox
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newConn(h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		hub:    h,
		ws:     ws,
		subs:   make(map[string]struct{}),
		out:    newOutbox(h.cfg.QueueSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump via the outbox policy.
func (c *Conn) enqueue(q queued) {
	if c.out.push(q) == pushOverflow {
		slog.Warn("queue full of critical events, closing", "player", c.login)
		c.closeWith(websocket.ClosePolicyViolation, "outbound queue overflow")
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.notify:
			for _, q := range c.out.drain() {
				c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
				if err := c.ws.WriteMessage(websocket.TextMessage, q.data); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Flush what the closer queued (auth errors, final frames).
			for _, q := range c.out.drain() {
				c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
				if c.ws.WriteMessage(websocket.TextMessage, q.data) != nil {
					break
				}
			}
			return
		}
	}
}

// clientFrame is what clients send: auth, subscribe, unsubscribe, ping.
type clientFrame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Channel string `json:"channel,omitempty"`
}

func (c *Conn) readPump() {
	defer c.close()
	c.ws.SetReadLimit(maxFrameSize)

	if !c.authenticate() {
		return
	}

	c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read", "player", c.login, "err", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "subscribe":
			c.handleSubscribe(frame.Channel)
		case "unsubscribe":
			c.hub.unsubscribe(c, frame.Channel)
		case "ping":
			c.enqueue(marshalFrame(TypePong, nil))
		default:
			unknownFrames.Inc()
			slog.Debug("unknown client frame", "player", c.login, "type", frame.Type)
		}
	}
}

// authenticate enforces the auth window: the first frame must be a
// valid auth frame or the socket is closed.
func (c *Conn) authenticate() bool {
	c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.AuthWindow))
	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		return false
	}

	var frame clientFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type != "auth" {
		c.enqueue(marshalFrame(TypeAuthResponse, map[string]any{"success": false, "error": "auth frame expected"}))
		return false
	}
	sess, ok := c.hub.auth(frame.Token)
	if !ok {
		c.enqueue(marshalFrame(TypeAuthResponse, map[string]any{"success": false, "error": "invalid token"}))
		return false
	}

	c.playerID = sess.PlayerID
	c.login = sess.Login

	// Queue the response before attaching so the client sees
	// auth_response ahead of any channel traffic.
	cfg := c.hub.cfg
	c.enqueue(queued{critical: true, data: mustMarshal(map[string]any{
		"type": TypeAuthResponse,
		"payload": map[string]any{
			"success":   true,
			"player_id": sess.PlayerID,
			"reconnect": map[string]any{
				"base_ms":      cfg.ReconnectBase.Milliseconds(),
				"factor":       cfg.ReconnectFactor,
				"max_attempts": cfg.ReconnectMaxAttempts,
			},
		},
	})})
	c.hub.attach(c)
	return true
}

func (c *Conn) handleSubscribe(channel string) {
	if clanID, ok := parseClanChannel(channel); ok {
		if !c.hub.clans.IsClanMember(c.playerID, clanID) {
			c.enqueue(marshalFrame(TypeNotification, map[string]any{
				"title": "Subscription", "level": "error",
				"message": "not a member of that clan",
			}))
			return
		}
	} else if channel != GlobalChannel && channel != UserChannel(c.playerID) {
		c.enqueue(marshalFrame(TypeNotification, map[string]any{
			"title": "Subscription", "level": "error",
			"message": "channel not available",
		}))
		return
	}
	c.hub.subscribe(c, channel)
}

func parseClanChannel(channel string) (int64, bool) {
	raw, ok := strings.CutPrefix(channel, "clan:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// closeWith sends a close frame with the given code and tears down.
func (c *Conn) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.hub.cfg.WriteWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	c.close()
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		if c.playerID != 0 {
			c.hub.detach(c)
		}
		c.ws.Close()
	})
}

func marshalFrame(typ string, payload any) queued {
	return queued{data: mustMarshal(map[string]any{"type": typ, "payload": payload})}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
