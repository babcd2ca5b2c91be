package bus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClans struct {
	member bool
}

func (s stubClans) IsClanMember(int64, int64) bool { return s.member }

func testValidator(token string) (Session, bool) {
	switch token {
	case "tok-1":
		return Session{PlayerID: 1, Login: "neo"}, true
	case "tok-2":
		return Session{PlayerID: 2, Login: "smith"}, true
	}
	return Session{}, false
}

func newTestHub(t *testing.T, clans ClanChecker) (*Hub, string) {
	t.Helper()
	h := NewHub(HubConfig{
		QueueSize:  64,
		AuthWindow: 2 * time.Second,
		PingPeriod: 100 * time.Millisecond,
		PongWait:   2 * time.Second,
		WriteWait:  time.Second,
	}, testValidator, clans)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

// readUntil skips frames until one of the wanted type arrives,
// returning it plus the types skipped on the way.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) (map[string]any, []string) {
	t.Helper()
	var skipped []string
	for i := 0; i < 10; i++ {
		frame := readFrame(t, ws)
		if frame["type"] == typ {
			return frame, skipped
		}
		skipped = append(skipped, frame["type"].(string))
	}
	t.Fatalf("no %s frame within 10 reads (saw %v)", typ, skipped)
	return nil, nil
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "token": token}))
	frame, _ := readUntil(t, ws, TypeAuthResponse)
	payload := frame["payload"].(map[string]any)
	require.Equal(t, true, payload["success"])
	return ws
}

func TestAuthHandshake(t *testing.T) {
	_, url := newTestHub(t, stubClans{})
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "token": "tok-1"}))
	frame, _ := readUntil(t, ws, TypeAuthResponse)
	payload := frame["payload"].(map[string]any)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, float64(1), payload["player_id"])

	reconnect := payload["reconnect"].(map[string]any)
	assert.Equal(t, float64(5000), reconnect["base_ms"])
	assert.Equal(t, float64(2), reconnect["factor"])
	assert.Equal(t, float64(5), reconnect["max_attempts"])
}

func TestAuthRejected(t *testing.T) {
	_, url := newTestHub(t, stubClans{})
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "token": "bogus"}))
	frame := readFrame(t, ws)
	assert.Equal(t, TypeAuthResponse, frame["type"])
	assert.Equal(t, false, frame["payload"].(map[string]any)["success"])

	// Server side closes after the rejection.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var discard map[string]any
	assert.Error(t, ws.ReadJSON(&discard))
}

func TestUserChannelDelivery(t *testing.T) {
	h, url := newTestHub(t, stubClans{})
	ws1 := dial(t, url, "tok-1")
	ws2 := dial(t, url, "tok-2")

	h.Publish(Event{
		Channel: UserChannel(1),
		Type:    TypeProcessUpdate,
		Payload: map[string]any{"pid": 42},
	})
	h.Publish(Event{
		Channel: GlobalChannel,
		Type:    TypeNotification,
		Payload: map[string]any{"message": "marker"},
	})

	frame, _ := readUntil(t, ws1, TypeProcessUpdate)
	assert.Equal(t, float64(42), frame["payload"].(map[string]any)["pid"])

	// Player 2 sees the global marker but never the personal event.
	_, skipped := readUntil(t, ws2, TypeNotification)
	assert.NotContains(t, skipped, TypeProcessUpdate)
}

func TestClanSubscriptionRequiresMembership(t *testing.T) {
	h, url := newTestHub(t, stubClans{member: false})
	ws := dial(t, url, "tok-1")

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "subscribe", "channel": ClanChannel(5)}))
	frame, _ := readUntil(t, ws, TypeNotification)
	payload := frame["payload"].(map[string]any)
	assert.Equal(t, "error", payload["level"])

	// Nothing published to the clan channel arrives.
	h.Publish(Event{Channel: ClanChannel(5), Type: TypeClanUpdate, Payload: map[string]any{}})
	h.Publish(Event{Channel: GlobalChannel, Type: TypeNotification, Payload: map[string]any{"message": "marker"}})
	_, skipped := readUntil(t, ws, TypeNotification)
	assert.NotContains(t, skipped, TypeClanUpdate)
}

func TestClanSubscriptionDelivers(t *testing.T) {
	h, url := newTestHub(t, stubClans{member: true})
	ws := dial(t, url, "tok-1")

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "subscribe", "channel": ClanChannel(5)}))

	// Subscribe is processed by the read pump; give it a moment by
	// round-tripping a ping.
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	readUntil(t, ws, TypePong)

	h.Publish(Event{Channel: ClanChannel(5), Type: TypeClanUpdate, Payload: map[string]any{"war": false}})
	frame, _ := readUntil(t, ws, TypeClanUpdate)
	assert.Equal(t, ClanChannel(5), frame["channel"])
}

func TestPresenceEvents(t *testing.T) {
	h, url := newTestHub(t, stubClans{})
	ws1 := dial(t, url, "tok-1")

	ws2 := dial(t, url, "tok-2")
	frame, _ := readUntil(t, ws1, TypePlayerOnline)
	payload := frame["payload"].(map[string]any)
	// The first online event ws1 sees may be its own; skip to smith's.
	if payload["login"] == "neo" {
		frame, _ = readUntil(t, ws1, TypePlayerOnline)
		payload = frame["payload"].(map[string]any)
	}
	assert.Equal(t, "smith", payload["login"])
	assert.Equal(t, float64(2), payload["user_id"])
	assert.Equal(t, float64(2), payload["total_online"])
	assert.True(t, h.Online(2))

	ws2.Close()
	frame, _ = readUntil(t, ws1, TypePlayerOffline)
	payload = frame["payload"].(map[string]any)
	assert.Equal(t, "smith", payload["login"])
	assert.Equal(t, float64(2), payload["user_id"])
	assert.Equal(t, float64(1), payload["total_online"])
}

// A superseding login must displace the old connection without
// bouncing the player's presence.
func TestSupersedeKeepsPlayerOnline(t *testing.T) {
	h, url := newTestHub(t, stubClans{})
	observer := dial(t, url, "tok-2")

	first := dial(t, url, "tok-1")
	frame, _ := readUntil(t, observer, TypePlayerOnline)
	// The first online event the observer sees may be its own.
	if frame["payload"].(map[string]any)["login"] == "smith" {
		frame, _ = readUntil(t, observer, TypePlayerOnline)
	}
	assert.Equal(t, "neo", frame["payload"].(map[string]any)["login"])

	second := dial(t, url, "tok-1")

	// The new session sees its own connected event on its user channel.
	frame, _ = readUntil(t, second, TypeConnected)
	assert.Equal(t, float64(1), frame["payload"].(map[string]any)["user_id"])

	// The displaced connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var discard map[string]any
	for first.ReadJSON(&discard) == nil {
	}

	assert.True(t, h.Online(1))

	// No offline event was published for neo: only the marker reaches
	// the observer.
	h.Publish(Event{Channel: GlobalChannel, Type: TypeNotification, Payload: map[string]any{"message": "marker"}})
	_, skipped := readUntil(t, observer, TypeNotification)
	assert.NotContains(t, skipped, TypePlayerOffline)
}

func TestUnknownFrameCountedAndIgnored(t *testing.T) {
	_, url := newTestHub(t, stubClans{})
	ws := dial(t, url, "tok-1")

	before := promtest.ToFloat64(unknownFrames)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "chat_message"}))

	// The read pump handles frames in order: once the pong is back the
	// unknown frame has been processed.
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	readUntil(t, ws, TypePong)
	assert.Equal(t, before+1, promtest.ToFloat64(unknownFrames))
}

func TestOnline(t *testing.T) {
	h, url := newTestHub(t, stubClans{})
	assert.False(t, h.Online(1))
	dial(t, url, "tok-1")
	assert.True(t, h.Online(1))
}
