package api

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/session"
)

const connectLogLimit = 50

type softwareView struct {
	ID            int64   `json:"id"`
	ServerID      int64   `json:"server_id"`
	Type          string  `json:"type"`
	Name          string  `json:"name"`
	Version       int     `json:"version"`
	SizeMB        float64 `json:"size_mb"`
	Effectiveness int     `json:"effectiveness"`
	Stealth       int     `json:"stealth"`
	Reliability   int     `json:"reliability"`
	YieldPerHour  int64   `json:"yield_per_hour,omitempty"`
}

func softwareViewOf(s *model.Software) softwareView {
	return softwareView{
		ID:            s.ID,
		ServerID:      s.ServerID,
		Type:          string(s.Type),
		Name:          s.Name,
		Version:       s.Version,
		SizeMB:        s.SizeMB,
		Effectiveness: s.Effectiveness,
		Stealth:       s.Stealth,
		Reliability:   s.Reliability,
		YieldPerHour:  s.YieldPerHour,
	}
}

func (a *API) handleInstalledSoftware(w http.ResponseWriter, _ *http.Request, sess *session.Info) {
	owned := a.world.SoftwareOwnedBy(sess.PlayerID)
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	views := make([]softwareView, 0, len(owned))
	for i := range owned {
		views = append(views, softwareViewOf(&owned[i]))
	}
	respond(w, http.StatusOK, map[string]any{"software": views})
}

type hardwareView struct {
	ID             int64   `json:"id"`
	IP             string  `json:"ip"`
	Online         bool    `json:"online"`
	Location       string  `json:"location"`
	CPUTotal       float64 `json:"cpu_total"`
	RAMTotal       float64 `json:"ram_total"`
	NETTotal       float64 `json:"net_total"`
	CPUUsed        float64 `json:"cpu_used"`
	RAMUsed        float64 `json:"ram_used"`
	NETUsed        float64 `json:"net_used"`
	Connections    int     `json:"connections"`
	MaxConnections int     `json:"max_connections"`
}

func (a *API) handleOwnedHardware(w http.ResponseWriter, _ *http.Request, sess *session.Info) {
	owned := a.world.ServersOwnedBy(sess.PlayerID)
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	views := make([]hardwareView, 0, len(owned))
	for i := range owned {
		s := &owned[i]
		used := a.acct.Used(s.ID)
		views = append(views, hardwareView{
			ID:             s.ID,
			IP:             s.IP,
			Online:         s.Online,
			Location:       s.Location,
			CPUTotal:       s.CPUTotal,
			RAMTotal:       s.RAMTotal,
			NETTotal:       s.NETTotal,
			CPUUsed:        used.CPU,
			RAMUsed:        used.RAM,
			NETUsed:        used.NET,
			Connections:    s.CurrentConnections,
			MaxConnections: s.MaxConnections,
		})
	}
	respond(w, http.StatusOK, map[string]any{"servers": views})
}

type publicServerView struct {
	IP            string `json:"ip"`
	Online        bool   `json:"online"`
	Location      string `json:"location"`
	FirewallLevel int    `json:"firewall_level"`
	HasPassword   bool   `json:"has_password"`
	NPC           bool   `json:"npc"`
}

// handleAvailableServers lists the network as outsiders see it: the
// caller's own machines are excluded, internals are not exposed.
func (a *API) handleAvailableServers(w http.ResponseWriter, _ *http.Request, sess *session.Info) {
	all := a.world.Servers()
	sort.Slice(all, func(i, j int) bool { return all[i].IP < all[j].IP })
	views := make([]publicServerView, 0, len(all))
	for i := range all {
		s := &all[i]
		if s.OwnerID == sess.PlayerID {
			continue
		}
		views = append(views, publicServerView{
			IP:            s.IP,
			Online:        s.Online,
			Location:      s.Location,
			FirewallLevel: s.FirewallLevel,
			HasPassword:   s.HasPassword(),
			NPC:           s.OwnerID == 0,
		})
	}
	respond(w, http.StatusOK, map[string]any{"servers": views})
}

type connectRequest struct {
	IP string `json:"ip"`
}

// handleConnectServer opens an interactive view of a server the caller
// has access to: open box, own box, or a live cracked credential.
func (a *API) handleConnectServer(w http.ResponseWriter, r *http.Request, sess *session.Info) {
	var req connectRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	target, ok := a.world.ServerByIP(req.IP)
	if !ok {
		fail(w, http.StatusNotFound, "unknown_target", "no server at that address")
		return
	}
	if !target.Online {
		fail(w, http.StatusConflict, "offline", "server is offline")
		return
	}

	now := a.clk.Now()
	owner := target.OwnerID == sess.PlayerID
	if !owner && target.HasPassword() && !a.world.HasCredential(sess.PlayerID, target.ID, now) {
		fail(w, http.StatusForbidden, "access_denied", "no valid credential for this server")
		return
	}

	// Hidden software stays invisible to intruders.
	var software []softwareView
	for _, s := range a.world.SoftwareOnServer(target.ID) {
		if s.Hidden && s.OwnerID != sess.PlayerID {
			continue
		}
		software = append(software, softwareViewOf(&s))
	}

	var logs []map[string]any
	entries, err := a.logs.ByServer(r.Context(), target.ID, connectLogLimit)
	if err != nil {
		slog.Warn("loading server logs", "server_id", target.ID, "err", err)
	}
	for _, e := range entries {
		logs = append(logs, map[string]any{
			"id":         e.ID,
			"type":       string(e.Type),
			"message":    e.Message,
			"created_at": e.CreatedAt.Unix(),
		})
	}

	respond(w, http.StatusOK, map[string]any{
		"server": map[string]any{
			"id":               target.ID,
			"ip":               target.IP,
			"location":         target.Location,
			"cpu_total":        target.CPUTotal,
			"ram_total":        target.RAMTotal,
			"net_total":        target.NETTotal,
			"firewall_level":   target.FirewallLevel,
			"monitoring_level": target.MonitoringLevel,
			"owner":            owner,
		},
		"software": software,
		"logs":     logs,
	})
}

// handleSync flushes the engine queue and returns a consistent snapshot
// of everything a freshly connected client needs.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request, sess *session.Info) {
	if err := a.eng.Sync(r.Context()); err != nil {
		fail(w, http.StatusServiceUnavailable, "engine_unavailable", "engine is not running")
		return
	}

	player, ok := a.world.Player(sess.PlayerID)
	if !ok {
		fail(w, http.StatusNotFound, "not_found", "player not in world")
		return
	}

	active := a.eng.Store().ActiveByCreator(sess.PlayerID)
	processes := make([]processView, 0, len(active))
	for i := range active {
		processes = append(processes, a.processView(&active[i]))
	}

	owned := a.world.ServersOwnedBy(sess.PlayerID)
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	servers := make([]map[string]any, 0, len(owned))
	for i := range owned {
		servers = append(servers, map[string]any{
			"id":     owned[i].ID,
			"ip":     owned[i].IP,
			"online": owned[i].Online,
		})
	}

	software := a.world.SoftwareOwnedBy(sess.PlayerID)
	sort.Slice(software, func(i, j int) bool { return software[i].ID < software[j].ID })
	programs := make([]softwareView, 0, len(software))
	for i := range software {
		programs = append(programs, softwareViewOf(&software[i]))
	}

	respond(w, http.StatusOK, map[string]any{
		"player": map[string]any{
			"player_id":  player.ID,
			"login":      player.Login,
			"wallet":     player.Wallet,
			"crypto":     player.Crypto,
			"experience": player.Experience,
			"level":      player.Level(),
			"reputation": player.Reputation,
		},
		"processes": processes,
		"servers":   servers,
		"software":  programs,
	})
}
