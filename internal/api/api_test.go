package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/hackgrid/internal/api"
	"github.com/udisondev/hackgrid/internal/engine"
	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/resource"
	"github.com/udisondev/hackgrid/internal/session"
	"github.com/udisondev/hackgrid/internal/testutil"
	"github.com/udisondev/hackgrid/internal/world"
)

// memPlayers is an in-memory PlayerStore.
type memPlayers struct {
	mu      sync.Mutex
	nextID  int64
	byLogin map[string]*model.Player
	byID    map[int64]*model.Player
}

func newMemPlayers() *memPlayers {
	return &memPlayers{byLogin: make(map[string]*model.Player), byID: make(map[int64]*model.Player)}
}

func (m *memPlayers) GetByLogin(_ context.Context, login string) (*model.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byLogin[login]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memPlayers) Create(_ context.Context, p *model.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	cp := *p
	m.byLogin[p.Login] = &cp
	m.byID[p.ID] = &cp
	return nil
}

func (m *memPlayers) SetHomeServer(_ context.Context, playerID, serverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[playerID]; ok {
		p.HomeServerID = serverID
	}
	return nil
}

func (m *memPlayers) TouchLastSeen(_ context.Context, playerID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[playerID]; ok {
		p.LastSeen = at
	}
	return nil
}

func (m *memPlayers) setBanned(login string, banned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byLogin[login]; ok {
		p.Banned = banned
	}
}

// memServers is an in-memory ServerStore.
type memServers struct {
	mu     sync.Mutex
	nextID int64
}

func (m *memServers) Create(_ context.Context, s *model.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = 100 + m.nextID
	return nil
}

// memLogs is an in-memory LogStore with canned entries per server.
type memLogs struct {
	mu      sync.Mutex
	entries map[int64][]model.LogEntry
}

func (m *memLogs) ByServer(_ context.Context, serverID int64, limit int) ([]model.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.entries[serverID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// apiHarness is an httptest server over a live engine with in-memory
// stores. Seed data matches the engine harness: player 1 "neo" (home
// server 1), player 2 "smith" (server 2 at 203.0.113.10, password
// strength 40), cracker 100 owned by neo.
type apiHarness struct {
	t        *testing.T
	srv      *httptest.Server
	clk      *testutil.Clock
	world    *world.Cache
	players  *memPlayers
	logs     *memLogs
	sessions *session.Manager
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	clk := testutil.NewClock(testutil.T0)
	wc := world.NewCache()
	acct := resource.New()
	writer := testutil.NewMemWriter()
	pub := testutil.NewCapturePublisher()
	applier := testutil.NewFakeApplier()

	wc.PutPlayer(testutil.NewPlayer(1, "neo", 1))
	wc.PutPlayer(testutil.NewPlayer(2, "smith", 2))
	home := testutil.NewServer(1, 1, "10.0.0.1")
	target := testutil.NewServer(2, 2, "203.0.113.10")
	wc.PutServer(home)
	wc.PutServer(target)
	acct.SetBudget(1, resource.Triple{CPU: home.CPUTotal, RAM: home.RAMTotal, NET: home.NETTotal})
	acct.SetBudget(2, resource.Triple{CPU: target.CPUTotal, RAM: target.RAMTotal, NET: target.NETTotal})
	wc.PutSoftware(testutil.NewCracker(100, 1, 1, 50))
	wc.PutSoftware(&model.Software{
		ID: 101, OwnerID: 1, ServerID: 1,
		Type: model.SoftwareScanner, Name: "portmap", Version: 1,
		SizeMB: 5, Effectiveness: 50, Reliability: 90,
	})

	eng := engine.New(engine.Config{SnapshotInterval: 5 * time.Second},
		clk, acct, engine.NewStore(writer), wc, applier, pub)
	eng.SetRand(func() float64 { return 1 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	players := newMemPlayers()
	players.nextID = 2 // ids 1 and 2 are seeded in the world
	logs := &memLogs{entries: make(map[int64][]model.LogEntry)}
	sessions := session.NewManager(clk, time.Hour)

	a := api.New(eng, wc, acct, sessions, players, &memServers{}, logs, nil, clk)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	return &apiHarness{t: t, srv: srv, clk: clk, world: wc,
		players: players, logs: logs, sessions: sessions}
}

// token issues a session for a seeded world player.
func (h *apiHarness) token(playerID int64, login string) string {
	h.t.Helper()
	info, err := h.sessions.Issue(playerID, login)
	require.NoError(h.t, err)
	return info.Token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// call performs one request and decodes the envelope.
func (h *apiHarness) call(method, path, token string, body any) (int, envelope) {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func unmarshalData(t *testing.T, env envelope, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	status, env := h.call(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestAuthRequired(t *testing.T) {
	h := newAPIHarness(t)

	status, env := h.call(http.MethodGet, "/user/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", env.Code)

	status, _ = h.call(http.MethodGet, "/user/profile", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRegisterLoginLogout(t *testing.T) {
	h := newAPIHarness(t)

	status, env := h.call(http.MethodPost, "/auth/register", "",
		map[string]string{"login": "Trinity", "password": "whiterabbit"})
	require.Equal(t, http.StatusCreated, status)
	var reg struct {
		Token    string `json:"token"`
		PlayerID int64  `json:"player_id"`
		Login    string `json:"login"`
		HomeIP   string `json:"home_ip"`
	}
	unmarshalData(t, env, &reg)
	assert.Equal(t, "trinity", reg.Login)
	assert.NotEmpty(t, reg.Token)
	assert.NotEmpty(t, reg.HomeIP)

	// The home server is live in the world.
	homeSrv, ok := h.world.ServerByIP(reg.HomeIP)
	require.True(t, ok)
	assert.Equal(t, reg.PlayerID, homeSrv.OwnerID)

	// Registration token works immediately.
	status, env = h.call(http.MethodGet, "/user/profile", reg.Token, nil)
	require.Equal(t, http.StatusOK, status)
	var profile struct {
		Login  string `json:"login"`
		Wallet int64  `json:"wallet"`
		Level  int    `json:"level"`
	}
	unmarshalData(t, env, &profile)
	assert.Equal(t, "trinity", profile.Login)
	assert.Equal(t, int64(1000), profile.Wallet)
	assert.Equal(t, 1, profile.Level)

	// Duplicate login is rejected.
	status, env = h.call(http.MethodPost, "/auth/register", "",
		map[string]string{"login": "trinity", "password": "whiterabbit"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "login_taken", env.Code)

	// Fresh login works, wrong password does not.
	status, _ = h.call(http.MethodPost, "/auth/login", "",
		map[string]string{"login": "trinity", "password": "whiterabbit"})
	assert.Equal(t, http.StatusOK, status)
	status, env = h.call(http.MethodPost, "/auth/login", "",
		map[string]string{"login": "trinity", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", env.Code)

	// Banned accounts cannot log in.
	h.players.setBanned("trinity", true)
	status, env = h.call(http.MethodPost, "/auth/login", "",
		map[string]string{"login": "trinity", "password": "whiterabbit"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "banned", env.Code)

	// Logout invalidates the token.
	status, _ = h.call(http.MethodPost, "/auth/logout", reg.Token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.call(http.MethodGet, "/user/profile", reg.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRegisterValidation(t *testing.T) {
	h := newAPIHarness(t)

	status, env := h.call(http.MethodPost, "/auth/register", "",
		map[string]string{"login": "ab", "password": "whiterabbit"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_login", env.Code)

	status, env = h.call(http.MethodPost, "/auth/register", "",
		map[string]string{"login": "morpheus", "password": "abc"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_password", env.Code)
}

func TestProcessLifecycle(t *testing.T) {
	h := newAPIHarness(t)
	tok := h.token(1, "neo")

	status, env := h.call(http.MethodPost, "/processes/start", tok, map[string]any{
		"action":      "crack",
		"target_ip":   "203.0.113.10",
		"software_id": 100,
		"priority":    5,
	})
	require.Equal(t, http.StatusOK, status)
	var started struct {
		PID int64 `json:"pid"`
	}
	unmarshalData(t, env, &started)
	require.NotZero(t, started.PID)

	status, env = h.call(http.MethodGet, "/processes/active", tok, nil)
	require.Equal(t, http.StatusOK, status)
	// The data payload is the process array itself, not a wrapper.
	var listing []struct {
		PID      int64   `json:"pid"`
		Action   string  `json:"action"`
		TargetIP string  `json:"target_ip"`
		State    string  `json:"state"`
		Progress float64 `json:"progress"`
		CPUShare float64 `json:"cpu_share"`
	}
	unmarshalData(t, env, &listing)
	require.Len(t, listing, 1)
	assert.Equal(t, started.PID, listing[0].PID)
	assert.Equal(t, "crack", listing[0].Action)
	assert.Equal(t, "203.0.113.10", listing[0].TargetIP)
	assert.Equal(t, "RUNNING", listing[0].State)
	assert.InDelta(t, 0.4, listing[0].CPUShare, 0.001)

	pidPath := fmt.Sprintf("/processes/%d", started.PID)

	status, env = h.call(http.MethodPost, pidPath+"/pause", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var state struct {
		State string `json:"state"`
	}
	unmarshalData(t, env, &state)
	assert.Equal(t, "PAUSED", state.State)

	// Pausing twice conflicts.
	status, env = h.call(http.MethodPost, pidPath+"/pause", tok, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_running", env.Code)

	status, env = h.call(http.MethodPost, pidPath+"/resume", tok, nil)
	require.Equal(t, http.StatusOK, status)
	unmarshalData(t, env, &state)
	assert.Equal(t, "RUNNING", state.State)

	status, env = h.call(http.MethodPost, pidPath+"/kill", tok, nil)
	require.Equal(t, http.StatusOK, status)
	unmarshalData(t, env, &state)
	assert.Equal(t, "CANCELLED", state.State)

	status, env = h.call(http.MethodGet, "/processes/active", tok, nil)
	require.Equal(t, http.StatusOK, status)
	listing = nil
	unmarshalData(t, env, &listing)
	assert.Empty(t, listing)
}

func TestStartProcessFailures(t *testing.T) {
	h := newAPIHarness(t)
	tok := h.token(1, "neo")

	status, env := h.call(http.MethodPost, "/processes/start", tok, map[string]any{
		"action": "crack", "target_ip": "198.51.100.99", "software_id": 100,
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_target", env.Code)

	status, env = h.call(http.MethodPost, "/processes/start", tok, map[string]any{
		"action": "warp_drive", "target_ip": "203.0.113.10",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_action", env.Code)

	// Crack requires an owned cracker; smith has none.
	smith := h.token(2, "smith")
	status, env = h.call(http.MethodPost, "/processes/start", smith, map[string]any{
		"action": "crack", "target_ip": "10.0.0.1", "software_id": 100,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(model.FailSoftwareUninstalled), env.Code)
}

func TestLifecycleRequiresOwnership(t *testing.T) {
	h := newAPIHarness(t)
	neo := h.token(1, "neo")
	smith := h.token(2, "smith")

	status, env := h.call(http.MethodPost, "/processes/start", neo, map[string]any{
		"action": "crack", "target_ip": "203.0.113.10", "software_id": 100,
	})
	require.Equal(t, http.StatusOK, status)
	var started struct {
		PID int64 `json:"pid"`
	}
	unmarshalData(t, env, &started)

	status, env = h.call(http.MethodPost,
		fmt.Sprintf("/processes/%d/kill", started.PID), smith, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_pid", env.Code)
}

func TestNetworkScanStartsPortScan(t *testing.T) {
	h := newAPIHarness(t)
	tok := h.token(1, "neo")

	status, env := h.call(http.MethodPost, "/network/scan", tok,
		map[string]any{"target_ip": "203.0.113.10", "software_id": 101})
	require.Equal(t, http.StatusOK, status)
	var started struct {
		PID int64 `json:"pid"`
	}
	unmarshalData(t, env, &started)
	require.NotZero(t, started.PID)

	status, env = h.call(http.MethodGet, "/processes/active", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var listing []struct {
		Action string `json:"action"`
	}
	unmarshalData(t, env, &listing)
	require.Len(t, listing, 1)
	assert.Equal(t, "port_scan", listing[0].Action)
}

func TestConnectServer(t *testing.T) {
	h := newAPIHarness(t)
	tok := h.token(1, "neo")
	h.logs.entries[1] = []model.LogEntry{
		{ID: 7, Type: model.LogHacking, ServerID: 1, Message: "login from 203.0.113.10", CreatedAt: testutil.T0},
	}

	// Own server: always accessible, logs included.
	status, env := h.call(http.MethodPost, "/servers/connect", tok,
		map[string]string{"ip": "10.0.0.1"})
	require.Equal(t, http.StatusOK, status)
	var view struct {
		Server struct {
			IP    string `json:"ip"`
			Owner bool   `json:"owner"`
		} `json:"server"`
		Logs []struct {
			Message string `json:"message"`
		} `json:"logs"`
	}
	unmarshalData(t, env, &view)
	assert.True(t, view.Server.Owner)
	require.Len(t, view.Logs, 1)
	assert.Equal(t, "login from 203.0.113.10", view.Logs[0].Message)

	// Password-protected foreign server without a credential.
	status, env = h.call(http.MethodPost, "/servers/connect", tok,
		map[string]string{"ip": "203.0.113.10"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "access_denied", env.Code)

	// With a live credential the view opens.
	h.world.GrantCredential(&model.Credential{
		PlayerID: 1, ServerID: 2,
		GrantedAt: h.clk.Now(), ExpiresAt: h.clk.Now().Add(time.Hour),
	})
	status, env = h.call(http.MethodPost, "/servers/connect", tok,
		map[string]string{"ip": "203.0.113.10"})
	require.Equal(t, http.StatusOK, status)
	unmarshalData(t, env, &view)
	assert.False(t, view.Server.Owner)

	// Offline servers refuse connections.
	h.world.SetServerOnline(2, false)
	status, env = h.call(http.MethodPost, "/servers/connect", tok,
		map[string]string{"ip": "203.0.113.10"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "offline", env.Code)
}

func TestAvailableServersHideOwn(t *testing.T) {
	h := newAPIHarness(t)
	tok := h.token(1, "neo")

	status, env := h.call(http.MethodGet, "/servers/available", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var listing struct {
		Servers []struct {
			IP          string `json:"ip"`
			HasPassword bool   `json:"has_password"`
			NPC         bool   `json:"npc"`
		} `json:"servers"`
	}
	unmarshalData(t, env, &listing)
	require.Len(t, listing.Servers, 1)
	assert.Equal(t, "203.0.113.10", listing.Servers[0].IP)
	assert.True(t, listing.Servers[0].HasPassword)
	assert.False(t, listing.Servers[0].NPC)
}

func TestSyncSnapshot(t *testing.T) {
	h := newAPIHarness(t)
	tok := h.token(1, "neo")

	status, _ := h.call(http.MethodPost, "/processes/start", tok, map[string]any{
		"action": "crack", "target_ip": "203.0.113.10", "software_id": 100,
	})
	require.Equal(t, http.StatusOK, status)

	status, env := h.call(http.MethodGet, "/sync", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var snap struct {
		Player struct {
			Login string `json:"login"`
			Level int    `json:"level"`
		} `json:"player"`
		Processes []struct {
			Action string `json:"action"`
		} `json:"processes"`
		Servers []struct {
			IP string `json:"ip"`
		} `json:"servers"`
		Software []struct {
			Type string `json:"type"`
		} `json:"software"`
	}
	unmarshalData(t, env, &snap)
	assert.Equal(t, "neo", snap.Player.Login)
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, "crack", snap.Processes[0].Action)
	require.Len(t, snap.Servers, 1)
	assert.Equal(t, "10.0.0.1", snap.Servers[0].IP)
	require.Len(t, snap.Software, 2)
	assert.Equal(t, "cracker", snap.Software[0].Type)
	assert.Equal(t, "scanner", snap.Software[1].Type)
}

func TestHardwareReportsUsage(t *testing.T) {
	h := newAPIHarness(t)
	smith := h.token(2, "smith")
	neo := h.token(1, "neo")

	// Neo's crack reserves compute on smith's server.
	status, _ := h.call(http.MethodPost, "/processes/start", neo, map[string]any{
		"action": "crack", "target_ip": "203.0.113.10", "software_id": 100,
		"priority": 5,
	})
	require.Equal(t, http.StatusOK, status)

	status, env := h.call(http.MethodGet, "/hardware/owned", smith, nil)
	require.Equal(t, http.StatusOK, status)
	var listing struct {
		Servers []struct {
			IP      string  `json:"ip"`
			CPUUsed float64 `json:"cpu_used"`
		} `json:"servers"`
	}
	unmarshalData(t, env, &listing)
	require.Len(t, listing.Servers, 1)
	assert.Equal(t, "203.0.113.10", listing.Servers[0].IP)
	assert.Greater(t, listing.Servers[0].CPUUsed, 0.0)
}
