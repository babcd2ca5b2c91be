// Package session issues and validates bearer tokens shared by the
// HTTP API and the WebSocket auth handshake.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/udisondev/hackgrid/internal/clock"
)

// DefaultTTL is how long an issued token stays valid without renewal.
const DefaultTTL = 24 * time.Hour

// Info is one live session.
type Info struct {
	Token     string
	PlayerID  int64
	Login     string
	CreatedAt time.Time
}

// Manager is a thread-safe token store. sync.Map keeps the hot
// Validate path lock-free.
type Manager struct {
	sessions sync.Map // map[string]*Info
	byPlayer sync.Map // map[int64]string, latest token per player
	clk      clock.Clock
	ttl      time.Duration
}

// NewManager creates a session manager. ttl <= 0 falls back to
// DefaultTTL.
func NewManager(clk clock.Clock, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{clk: clk, ttl: ttl}
}

// Issue creates a session for the player and returns its token. Any
// previous session of the same player is revoked: one device at a time.
func (m *Manager) Issue(playerID int64, login string) (*Info, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	info := &Info{
		Token:     hex.EncodeToString(buf),
		PlayerID:  playerID,
		Login:     login,
		CreatedAt: m.clk.Now(),
	}
	if prev, ok := m.byPlayer.Load(playerID); ok {
		m.sessions.Delete(prev.(string))
	}
	m.sessions.Store(info.Token, info)
	m.byPlayer.Store(playerID, info.Token)
	return info, nil
}

// Validate resolves a token to its session, nil when unknown or
// expired. Expired entries are removed on the spot.
func (m *Manager) Validate(token string) *Info {
	val, ok := m.sessions.Load(token)
	if !ok {
		return nil
	}
	info := val.(*Info)
	if m.clk.Now().Sub(info.CreatedAt) > m.ttl {
		m.sessions.Delete(token)
		m.byPlayer.CompareAndDelete(info.PlayerID, token)
		return nil
	}
	return info
}

// Revoke drops a session by token.
func (m *Manager) Revoke(token string) {
	if val, ok := m.sessions.LoadAndDelete(token); ok {
		info := val.(*Info)
		m.byPlayer.CompareAndDelete(info.PlayerID, token)
	}
}

// CleanExpired drops sessions older than the TTL. Run periodically.
func (m *Manager) CleanExpired() {
	now := m.clk.Now()
	m.sessions.Range(func(key, value any) bool {
		info := value.(*Info)
		if now.Sub(info.CreatedAt) > m.ttl {
			m.sessions.Delete(key)
			m.byPlayer.CompareAndDelete(info.PlayerID, key.(string))
		}
		return true
	})
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	count := 0
	m.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches the stored hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
