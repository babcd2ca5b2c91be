package model

import (
	"math"
	"time"
)

// Player is a registered account in the simulation. Wallet balance is
// integer minor units; Level is always derived from Experience.
type Player struct {
	ID           int64
	Login        string
	PasswordHash string
	Wallet       int64
	Crypto       int64
	Experience   int64
	Reputation   int
	Premium      bool
	Banned       bool
	ClanID       int64 // 0 = no clan
	HomeServerID int64
	CreatedAt    time.Time
	LastSeen     time.Time
}

// Level derives the player level from experience. Monotonic
// non-decreasing in experience, minimum 1.
func (p *Player) Level() int {
	return LevelForXP(p.Experience)
}

// LevelForXP is the level curve: floor(sqrt(xp/1000)) + 1.
func LevelForXP(xp int64) int {
	if xp <= 0 {
		return 1
	}
	return int(math.Sqrt(float64(xp)/1000)) + 1
}

// Reputation bounds. Values outside are clamped on write.
const (
	ReputationMin = -1000
	ReputationMax = 1000
)

// ClampReputation forces a reputation value into its documented range.
func ClampReputation(v int) int {
	if v < ReputationMin {
		return ReputationMin
	}
	if v > ReputationMax {
		return ReputationMax
	}
	return v
}
