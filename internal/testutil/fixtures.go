package testutil

import (
	"time"

	"github.com/udisondev/hackgrid/internal/model"
)

// T0 is the frozen start instant most timing tests use.
var T0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// NewPlayer returns a minimal player fixture.
func NewPlayer(id int64, login string, homeServer int64) *model.Player {
	return &model.Player{
		ID:           id,
		Login:        login,
		Wallet:       10_000,
		HomeServerID: homeServer,
		CreatedAt:    T0,
	}
}

// NewServer returns an online server with a unit resource budget.
func NewServer(id, ownerID int64, ip string) *model.Server {
	return &model.Server{
		ID:               id,
		OwnerID:          ownerID,
		IP:               ip,
		CPUTotal:         1.0,
		RAMTotal:         1.0,
		NETTotal:         1.0,
		Online:           true,
		MaxConnections:   16,
		PasswordHash:     "$2a$10$fixture",
		PasswordStrength: 40,
	}
}

// NewCracker returns a cracker software fixture on the given server.
func NewCracker(id, ownerID, serverID int64, effectiveness int) *model.Software {
	return &model.Software{
		ID:            id,
		OwnerID:       ownerID,
		ServerID:      serverID,
		Type:          model.SoftwareCracker,
		Name:          "crack.exe",
		Version:       1,
		SizeMB:        12,
		Effectiveness: effectiveness,
		Reliability:   80,
	}
}
