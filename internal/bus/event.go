// Package bus implements the realtime event bus: channel-scoped pub/sub
// multiplexed over WebSocket connections with bounded outbound queues.
package bus

import "fmt"

// Channel scopes. user:<id> is personal, clan:<id> covers clan members,
// global is server-wide.
const GlobalChannel = "global"

// UserChannel returns the personal channel for a player.
func UserChannel(playerID int64) string {
	return fmt.Sprintf("user:%d", playerID)
}

// ClanChannel returns the channel shared by a clan's members.
func ClanChannel(clanID int64) string {
	return fmt.Sprintf("clan:%d", clanID)
}

// Frame types understood by clients. Events published by the engine and
// effect layer carry one of these in the "type" field.
const (
	TypeAuthResponse    = "auth_response"
	TypeProcessUpdate   = "process_update"
	TypeProcessComplete = "process_complete"
	TypeStatsUpdate     = "stats_update"
	TypeNotification    = "notification"
	TypeSecurity        = "security"
	TypeAttackStarted   = "attack_started"
	TypeAttackCompleted = "attack_completed"
	TypeScanResult      = "scan_result"
	TypeClanUpdate      = "clan_update"
	TypeWarUpdate       = "war_update"
	TypeMarketUpdate    = "market_update"
	TypePlayerOnline    = "player_online"
	TypePlayerOffline   = "player_offline"
	TypeConnected       = "connected"
	TypeBackpressure    = "backpressure"
	TypePong            = "pong"
)

// Event is a typed message routed to every connection subscribed to
// Channel. Critical events (auth, security alerts) are never dropped
// under backpressure: if a full queue cannot make room by dropping a
// non-critical event, the connection is closed instead.
type Event struct {
	Channel  string
	Type     string
	Payload  any
	Critical bool
}

// Publisher is the capability the engine and effect layer use to hand
// events to the bus. Delivery is best-effort after this call returns.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ev Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ev Event) { f(ev) }
