package model

import "time"

// LogType classifies an append-only log entry.
type LogType string

const (
	LogHacking  LogType = "hacking"
	LogSecurity LogType = "security"
	LogAction   LogType = "game_action"
	LogAudit    LogType = "audit"
)

// LogEntry is append-only. Deletion by DeleteLog processes is a
// tombstone, never a row removal.
type LogEntry struct {
	ID         int64
	Type       LogType
	PlayerID   int64 // actor, 0 for system entries
	TargetID   int64 // affected player or server owner
	ServerID   int64
	PID        int64 // originating process, 0 for out-of-band entries
	Message    string
	Tombstoned bool
	CreatedAt  time.Time
}
