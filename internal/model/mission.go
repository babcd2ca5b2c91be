package model

import "time"

// MissionStatus is the lifecycle state of a user mission instance.
type MissionStatus string

const (
	MissionActive    MissionStatus = "ACTIVE"
	MissionCompleted MissionStatus = "COMPLETED"
	MissionFailed    MissionStatus = "FAILED"
	MissionAbandoned MissionStatus = "ABANDONED"
)

// MissionTemplate is the static definition of a mission.
type MissionTemplate struct {
	ID           int64
	Key          string
	Category     string
	Difficulty   int
	RewardMoney  int64
	RewardXP     int64
	RequiredLevel int
}

// Objective is a single requirement of a mission template.
type Objective struct {
	ID         int64
	MissionID  int64
	Kind       string // e.g. "hack_server", "transfer_funds"
	TargetIP   string // empty = any target
	Quantity   int
	Required   bool
}

// UserMission is a player's accepted instance of a template.
type UserMission struct {
	ID         int64
	PlayerID   int64
	MissionID  int64
	Status     MissionStatus
	AcceptedAt time.Time
	ClosedAt   time.Time
}

// ObjectiveProgress tracks per-objective completion for a user mission.
type ObjectiveProgress struct {
	UserMissionID int64
	ObjectiveID   int64
	Done          int
}
