// Package world holds the in-memory view of servers, software and
// credentials. The engine and effect layer mutate it, HTTP handlers and
// the bus read it, so access is guarded by a RWMutex.
package world

import (
	"fmt"
	"sync"
	"time"

	"github.com/udisondev/hackgrid/internal/model"
)

// Cache is the live world state. Durable writes happen in the effect
// layer; the cache mirrors them for cheap reads.
type Cache struct {
	mu          sync.RWMutex
	servers     map[int64]*model.Server
	serversByIP map[string]int64
	software    map[int64]*model.Software
	players     map[int64]*model.Player
	credentials map[credKey]*model.Credential
}

type credKey struct {
	playerID int64
	serverID int64
}

// NewCache returns an empty world cache.
func NewCache() *Cache {
	return &Cache{
		servers:     make(map[int64]*model.Server),
		serversByIP: make(map[string]int64),
		software:    make(map[int64]*model.Software),
		players:     make(map[int64]*model.Player),
		credentials: make(map[credKey]*model.Credential),
	}
}

// PutServer inserts or replaces a server.
func (c *Cache) PutServer(s *model.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.servers[s.ID]; ok {
		delete(c.serversByIP, old.IP)
	}
	c.servers[s.ID] = s
	c.serversByIP[s.IP] = s.ID
}

// Server returns a snapshot copy of the server.
func (c *Cache) Server(id int64) (model.Server, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.servers[id]
	if !ok {
		return model.Server{}, false
	}
	return *s, true
}

// ServerByIP resolves an IP to a server snapshot.
func (c *Cache) ServerByIP(ip string) (model.Server, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.serversByIP[ip]
	if !ok {
		return model.Server{}, false
	}
	return *c.servers[id], true
}

// ServersOwnedBy returns snapshots of every server owned by the player.
func (c *Cache) ServersOwnedBy(playerID int64) []model.Server {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Server
	for _, s := range c.servers {
		if s.OwnerID == playerID {
			out = append(out, *s)
		}
	}
	return out
}

// Servers returns snapshots of every server.
func (c *Cache) Servers() []model.Server {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Server, 0, len(c.servers))
	for _, s := range c.servers {
		out = append(out, *s)
	}
	return out
}

// SetServerOnline flips the online flag.
func (c *Cache) SetServerOnline(id int64, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[id]; ok {
		s.Online = online
	}
}

// AddConnection reserves a connection slot on the server. Paused
// processes keep their slot; it is returned only on terminal release.
func (c *Cache) AddConnection(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[id]
	if !ok {
		return fmt.Errorf("server %d not found", id)
	}
	if s.MaxConnections > 0 && s.CurrentConnections >= s.MaxConnections {
		return fmt.Errorf("server %d at connection limit (%d)", id, s.MaxConnections)
	}
	s.CurrentConnections++
	return nil
}

// DropConnection returns a connection slot.
func (c *Cache) DropConnection(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[id]; ok && s.CurrentConnections > 0 {
		s.CurrentConnections--
	}
}

// PutSoftware inserts or replaces a software instance.
func (c *Cache) PutSoftware(s *model.Software) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.software[s.ID] = s
}

// RemoveSoftware deletes a software instance (uninstall / quarantine).
func (c *Cache) RemoveSoftware(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.software, id)
}

// Software returns a snapshot copy of the software instance.
func (c *Cache) Software(id int64) (model.Software, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.software[id]
	if !ok {
		return model.Software{}, false
	}
	return *s, true
}

// SoftwareOnServer returns snapshots of software resident on the server.
func (c *Cache) SoftwareOnServer(serverID int64) []model.Software {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Software
	for _, s := range c.software {
		if s.ServerID == serverID {
			out = append(out, *s)
		}
	}
	return out
}

// SoftwareOwnedBy returns snapshots of every program the player owns,
// wherever it is installed.
func (c *Cache) SoftwareOwnedBy(playerID int64) []model.Software {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Software
	for _, s := range c.software {
		if s.OwnerID == playerID {
			out = append(out, *s)
		}
	}
	return out
}

// PutPlayer inserts or replaces a player.
func (c *Cache) PutPlayer(p *model.Player) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.players[p.ID] = p
}

// Player returns a snapshot copy of the player.
func (c *Cache) Player(id int64) (model.Player, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.players[id]
	if !ok {
		return model.Player{}, false
	}
	return *p, true
}

// AdjustPlayer applies fn to the live player under the write lock.
// Used by the effect layer to mirror committed wallet/xp changes.
func (c *Cache) AdjustPlayer(id int64, fn func(p *model.Player)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.players[id]; ok {
		fn(p)
	}
}

// IsClanMember reports whether the player belongs to the clan. The bus
// consults this before authorising a clan channel subscription.
func (c *Cache) IsClanMember(playerID, clanID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.players[playerID]
	return ok && p.ClanID == clanID
}

// GrantCredential records a transient access grant on the target.
func (c *Cache) GrantCredential(cred *model.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials[credKey{cred.PlayerID, cred.ServerID}] = cred
}

// RevokeCredentials drops every credential on the server (password
// change).
func (c *Cache) RevokeCredentials(serverID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.credentials {
		if k.serverID == serverID {
			delete(c.credentials, k)
		}
	}
}

// HasCredential reports whether the player holds a live credential on
// the server at now.
func (c *Cache) HasCredential(playerID, serverID int64, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.credentials[credKey{playerID, serverID}]
	return ok && cred.Valid(now)
}
