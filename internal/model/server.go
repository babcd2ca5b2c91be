package model

import "time"

// Server is a virtual host processes run against. OwnerID is 0 for NPC
// servers. Capacities are the budget the resource accountant enforces.
type Server struct {
	ID      int64
	OwnerID int64
	IP      string // unique

	CPUTotal float64
	RAMTotal float64
	NETTotal float64

	FirewallLevel    int
	MonitoringLevel  int
	PasswordHash     string // empty = open
	PasswordStrength int

	Online bool

	CurrentConnections int
	MaxConnections     int

	Location string
}

// HasPassword reports whether the server requires cracking.
func (s *Server) HasPassword() bool {
	return s.PasswordHash != ""
}

// Credential is a transient access grant produced by a successful crack.
type Credential struct {
	PlayerID  int64
	ServerID  int64
	GrantedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the credential is usable at now.
func (c *Credential) Valid(now time.Time) bool {
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}
