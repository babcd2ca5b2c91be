package engine

import (
	"log/slog"

	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/resource"
)

// Recover re-materialises persisted non-terminal processes after a
// restart: reservations are rebuilt through the accountant, timers are
// rescheduled, and accumulated work is taken from the stored values —
// the crash gap is never extrapolated into progress.
//
// Must run before Run; it executes on the caller's goroutine while the
// engine is not yet accepting commands.
func (e *Engine) Recover(procs []model.Process) error {
	now := e.clk.Now()
	var maxPID int64

	for i := range procs {
		p := procs[i]
		if p.PID > maxPID {
			maxPID = p.PID
		}
		if p.Terminal() {
			e.store.Attach(&p)
			continue
		}

		req := resource.Triple{CPU: p.CPUReq, RAM: p.RAMReq, NET: p.NETReq}
		if err := e.acct.TryAdmit(p.TargetServer, p.PID, req, p.Priority, p.CreatedAt); err != nil {
			// Budgets changed underneath us; the reservation no longer
			// fits. Fail the process rather than violate conservation.
			slog.Error("recovery admission failed", "pid", p.PID, "err", err)
			p.State = model.StateCompletedFail
			p.FailReason = model.FailNoResources
			p.CompletedAt = now
			if _, aerr := e.effects.ApplyTerminal(e.effectCtx(), &p); aerr != nil {
				slog.Error("persisting recovery failure", "pid", p.PID, "err", aerr)
			}
			e.store.Attach(&p)
			continue
		}
		if err := e.world.AddConnection(p.TargetServer); err != nil {
			slog.Warn("recovery connection slot", "pid", p.PID, "err", err)
		}

		switch p.State {
		case model.StateRunning:
			// Stored WorkedSeconds is the last acknowledged value; the
			// current stretch restarts now.
			p.RunStart = now
			e.store.Attach(&p)
			e.scheduleWake(&p, now)
			runningProcesses.Inc()
		case model.StatePaused:
			e.acct.PauseCompute(p.TargetServer, p.PID)
			e.store.Attach(&p)
		default:
			// PENDING never persists outside the Start command.
			slog.Warn("unexpected recovered state", "pid", p.PID, "state", p.State.String())
			e.store.Attach(&p)
		}
	}

	e.SetNextPID(maxPID)
	slog.Info("engine recovery complete",
		"processes", len(procs),
		"live", e.store.NonTerminalCount(),
		"next_pid", maxPID+1)
	return nil
}
