package api

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/resource"
	"github.com/udisondev/hackgrid/internal/session"
)

// Starting loadout for a fresh account.
const (
	startingWallet = 1000
	homeCPU        = 10.0
	homeRAM        = 8.0
	homeNET        = 100.0
	homeMaxConns   = 16
)

type registerRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	req.Login = strings.ToLower(strings.TrimSpace(req.Login))
	if len(req.Login) < 3 || len(req.Login) > 32 {
		fail(w, http.StatusBadRequest, "bad_login", "login must be 3-32 characters")
		return
	}
	if len(req.Password) < 6 {
		fail(w, http.StatusBadRequest, "bad_password", "password must be at least 6 characters")
		return
	}

	ctx := r.Context()
	if existing, err := a.players.GetByLogin(ctx, req.Login); err != nil {
		slog.Error("register lookup", "login", req.Login, "err", err)
		fail(w, http.StatusInternalServerError, "internal", "registration unavailable")
		return
	} else if existing != nil {
		fail(w, http.StatusConflict, "login_taken", "login already registered")
		return
	}

	hash, err := session.HashPassword(req.Password)
	if err != nil {
		fail(w, http.StatusInternalServerError, "internal", "registration unavailable")
		return
	}

	now := a.clk.Now()
	player := &model.Player{
		Login:        req.Login,
		PasswordHash: hash,
		Wallet:       startingWallet,
		CreatedAt:    now,
	}
	if err := a.players.Create(ctx, player); err != nil {
		slog.Error("creating player", "login", req.Login, "err", err)
		fail(w, http.StatusInternalServerError, "internal", "registration unavailable")
		return
	}

	home := &model.Server{
		OwnerID:        player.ID,
		IP:             a.freshIP(),
		CPUTotal:       homeCPU,
		RAMTotal:       homeRAM,
		NETTotal:       homeNET,
		Online:         true,
		MaxConnections: homeMaxConns,
		Location:       "home",
	}
	if err := a.servers.Create(ctx, home); err != nil {
		slog.Error("creating home server", "login", req.Login, "err", err)
		fail(w, http.StatusInternalServerError, "internal", "registration unavailable")
		return
	}
	if err := a.players.SetHomeServer(ctx, player.ID, home.ID); err != nil {
		slog.Error("linking home server", "login", req.Login, "err", err)
		fail(w, http.StatusInternalServerError, "internal", "registration unavailable")
		return
	}
	player.HomeServerID = home.ID

	a.world.PutPlayer(player)
	a.world.PutServer(home)
	a.acct.SetBudget(home.ID, resource.Triple{CPU: home.CPUTotal, RAM: home.RAMTotal, NET: home.NETTotal})

	info, err := a.sessions.Issue(player.ID, player.Login)
	if err != nil {
		fail(w, http.StatusInternalServerError, "internal", "registration unavailable")
		return
	}

	slog.Info("player registered", "login", player.Login, "player_id", player.ID, "home_ip", home.IP)
	respond(w, http.StatusCreated, map[string]any{
		"token":     info.Token,
		"player_id": player.ID,
		"login":     player.Login,
		"home_ip":   home.IP,
	})
}

// freshIP picks an unused address in the simulation's 10.0.0.0/8 space.
func (a *API) freshIP() string {
	for {
		ip := fmt.Sprintf("10.%d.%d.%d", rand.IntN(256), rand.IntN(256), 1+rand.IntN(254))
		if _, taken := a.world.ServerByIP(ip); !taken {
			return ip
		}
	}
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	ctx := r.Context()
	player, err := a.players.GetByLogin(ctx, strings.ToLower(strings.TrimSpace(req.Login)))
	if err != nil {
		slog.Error("login lookup", "err", err)
		fail(w, http.StatusInternalServerError, "internal", "login unavailable")
		return
	}
	if player == nil || !session.CheckPassword(player.PasswordHash, req.Password) {
		fail(w, http.StatusUnauthorized, "invalid_credentials", "login or password incorrect")
		return
	}
	if player.Banned {
		fail(w, http.StatusForbidden, "banned", "account is banned")
		return
	}

	if err := a.players.TouchLastSeen(ctx, player.ID, a.clk.Now()); err != nil {
		slog.Warn("touching last_seen", "player_id", player.ID, "err", err)
	}

	info, err := a.sessions.Issue(player.ID, player.Login)
	if err != nil {
		fail(w, http.StatusInternalServerError, "internal", "login unavailable")
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"token":     info.Token,
		"player_id": player.ID,
		"login":     player.Login,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, _ *http.Request, sess *session.Info) {
	a.sessions.Revoke(sess.Token)
	respond(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (a *API) handleProfile(w http.ResponseWriter, _ *http.Request, sess *session.Info) {
	player, ok := a.world.Player(sess.PlayerID)
	if !ok {
		fail(w, http.StatusNotFound, "not_found", "player not in world")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"player_id":      player.ID,
		"login":          player.Login,
		"wallet":         player.Wallet,
		"crypto":         player.Crypto,
		"experience":     player.Experience,
		"level":          player.Level(),
		"reputation":     player.Reputation,
		"premium":        player.Premium,
		"clan_id":        player.ClanID,
		"home_server_id": player.HomeServerID,
	})
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request, sess *session.Info) {
	player, ok := a.world.Player(sess.PlayerID)
	if !ok {
		fail(w, http.StatusNotFound, "not_found", "player not in world")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"level":            player.Level(),
		"experience":       player.Experience,
		"reputation":       player.Reputation,
		"wallet":           player.Wallet,
		"crypto":           player.Crypto,
		"active_processes": len(a.eng.Store().ActiveByCreator(player.ID)),
		"servers_owned":    len(a.world.ServersOwnedBy(player.ID)),
		"software_owned":   len(a.world.SoftwareOwnedBy(player.ID)),
		"online":           a.hubOnline(player.ID),
	})
}

func (a *API) hubOnline(playerID int64) bool {
	if a.hub == nil {
		return false
	}
	return a.hub.Online(playerID)
}
