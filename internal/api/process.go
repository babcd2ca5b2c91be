package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/udisondev/hackgrid/internal/engine"
	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/session"
)

// processView is the wire shape of one in-flight process.
type processView struct {
	PID              int64   `json:"pid"`
	Action           string  `json:"action"`
	TargetIP         string  `json:"target_ip"`
	State            string  `json:"state"`
	Progress         float64 `json:"progress"`
	SecondsRemaining float64 `json:"seconds_remaining"`
	CPUShare         float64 `json:"cpu_share"`
	RAMShare         float64 `json:"ram_share"`
	NETShare         float64 `json:"net_share"`
	Priority         int     `json:"priority"`
	CreatedAt        int64   `json:"created_at"`
}

func (a *API) processView(p *model.Process) processView {
	now := a.clk.Now()
	ip := ""
	if target, ok := a.world.Server(p.TargetServer); ok {
		ip = target.IP
	}
	return processView{
		PID:              p.PID,
		Action:           string(p.Action),
		TargetIP:         ip,
		State:            p.State.String(),
		Progress:         p.Progress(now),
		SecondsRemaining: p.RemainingSeconds(now),
		CPUShare:         p.CPUReq,
		RAMShare:         p.RAMReq,
		NETShare:         p.NETReq,
		Priority:         p.Priority,
		CreatedAt:        p.CreatedAt.Unix(),
	}
}

func (a *API) handleActiveProcesses(w http.ResponseWriter, _ *http.Request, sess *session.Info) {
	active := a.eng.Store().ActiveByCreator(sess.PlayerID)
	views := make([]processView, 0, len(active))
	for i := range active {
		views = append(views, a.processView(&active[i]))
	}
	respond(w, http.StatusOK, views)
}

type startProcessRequest struct {
	Action     string          `json:"action"`
	TargetIP   string          `json:"target_ip"`
	SoftwareID int64           `json:"software_id"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
	Stealth    int             `json:"stealth"`
}

func (a *API) handleStartProcess(w http.ResponseWriter, r *http.Request, sess *session.Info) {
	var req startProcessRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	a.startProcess(w, r, sess, req)
}

// startProcess resolves the target and dispatches an engine Start. The
// scan endpoint funnels through here with a fixed action.
func (a *API) startProcess(w http.ResponseWriter, r *http.Request, sess *session.Info, req startProcessRequest) {
	target, ok := a.world.ServerByIP(req.TargetIP)
	if !ok {
		fail(w, http.StatusNotFound, "unknown_target", "no server at that address")
		return
	}

	pid, err := a.eng.Start(r.Context(), engine.StartRequest{
		CreatorID:    sess.PlayerID,
		TargetServer: target.ID,
		Action:       model.Action(req.Action),
		SoftwareID:   req.SoftwareID,
		Payload:      req.Payload,
		Priority:     req.Priority,
		Stealth:      req.Stealth,
	})
	if err != nil {
		var start *engine.StartError
		switch {
		case errors.As(err, &start):
			fail(w, http.StatusConflict, string(start.Reason), "process could not start")
		case errors.Is(err, engine.ErrUnknownAction):
			fail(w, http.StatusBadRequest, "unknown_action", "unsupported action")
		default:
			fail(w, http.StatusInternalServerError, "internal", "process could not start")
		}
		return
	}
	respond(w, http.StatusOK, map[string]any{"pid": pid})
}

func pidVar(r *http.Request) int64 {
	pid, _ := strconv.ParseInt(mux.Vars(r)["pid"], 10, 64)
	return pid
}

// ownsProcess gates lifecycle commands to the creator.
func (a *API) ownsProcess(pid, playerID int64) bool {
	p, ok := a.eng.Store().Get(pid)
	return ok && p.CreatorID == playerID
}

func (a *API) handleKill(w http.ResponseWriter, r *http.Request, sess *session.Info) {
	pid := pidVar(r)
	if !a.ownsProcess(pid, sess.PlayerID) {
		fail(w, http.StatusNotFound, "unknown_pid", "no such process")
		return
	}
	a.lifecycleResult(w, pid, a.eng.Cancel(r.Context(), pid))
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request, sess *session.Info) {
	pid := pidVar(r)
	if !a.ownsProcess(pid, sess.PlayerID) {
		fail(w, http.StatusNotFound, "unknown_pid", "no such process")
		return
	}
	a.lifecycleResult(w, pid, a.eng.Pause(r.Context(), pid, model.PauseManual))
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request, sess *session.Info) {
	pid := pidVar(r)
	if !a.ownsProcess(pid, sess.PlayerID) {
		fail(w, http.StatusNotFound, "unknown_pid", "no such process")
		return
	}
	a.lifecycleResult(w, pid, a.eng.Resume(r.Context(), pid))
}

func (a *API) lifecycleResult(w http.ResponseWriter, pid int64, err error) {
	switch {
	case err == nil:
		p, _ := a.eng.Store().Get(pid)
		respond(w, http.StatusOK, map[string]any{"pid": pid, "state": p.State.String()})
	case errors.Is(err, engine.ErrUnknownPID):
		fail(w, http.StatusNotFound, "unknown_pid", "no such process")
	case errors.Is(err, engine.ErrNotRunning):
		fail(w, http.StatusConflict, "not_running", "process is not running")
	case errors.Is(err, engine.ErrNotPaused):
		fail(w, http.StatusConflict, "not_paused", "process is not paused")
	default:
		fail(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

type scanRequest struct {
	TargetIP   string `json:"target_ip"`
	SoftwareID int64  `json:"software_id"`
	Stealth    int    `json:"stealth"`
}

func (a *API) handleNetworkScan(w http.ResponseWriter, r *http.Request, sess *session.Info) {
	var req scanRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	a.startProcess(w, r, sess, startProcessRequest{
		Action:     string(model.ActionPortScan),
		TargetIP:   req.TargetIP,
		SoftwareID: req.SoftwareID,
		Stealth:    req.Stealth,
	})
}
