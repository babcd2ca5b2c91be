// Package engine owns every in-flight process: the state machine, the
// scheduler, resource admission and completion dispatch. All state
// mutations funnel through a single command queue; timer fires share
// that queue's ordering, which gives a total order on process
// transitions without locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/udisondev/hackgrid/internal/bus"
	"github.com/udisondev/hackgrid/internal/clock"
	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/resource"
	"github.com/udisondev/hackgrid/internal/world"
)

// EffectApplier is the transactional bridge between a terminal
// transition and durable state. It commits the terminal row together
// with the action's effects, idempotent by pid, and returns the staged
// bus events. The engine publishes them only after the commit.
type EffectApplier interface {
	ApplyTerminal(ctx context.Context, p *model.Process) ([]bus.Event, error)
}

// Config holds engine tuning knobs.
type Config struct {
	// SnapshotInterval bounds the rate of coarse process_update ticks
	// and detection rolls per running process.
	SnapshotInterval time.Duration
	// EffectTimeout bounds one effect transaction attempt.
	EffectTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: 5 * time.Second,
		EffectTimeout:    5 * time.Second,
	}
}

// Engine is the process engine. Construct with New, drive with Run.
type Engine struct {
	cfg     Config
	clk     clock.Clock
	wheel   *clock.Wheel
	acct    *resource.Accountant
	store   *Store
	world   *world.Cache
	effects EffectApplier
	pub     bus.Publisher
	rng     func() float64

	cmds    chan command
	stopped chan struct{}
	runCtx  context.Context

	// timers holds the single live timer per running pid.
	timers  map[int64]clock.Handle
	nextPID int64
}

// New wires an engine from its capabilities.
func New(cfg Config, clk clock.Clock, acct *resource.Accountant, store *Store, wc *world.Cache, effects EffectApplier, pub bus.Publisher) *Engine {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultConfig().SnapshotInterval
	}
	if cfg.EffectTimeout <= 0 {
		cfg.EffectTimeout = DefaultConfig().EffectTimeout
	}
	return &Engine{
		cfg:     cfg,
		clk:     clk,
		wheel:   clock.NewWheel(),
		acct:    acct,
		store:   store,
		world:   wc,
		effects: effects,
		pub:     pub,
		rng:     rand.Float64,
		cmds:    make(chan command),
		stopped: make(chan struct{}),
		timers:  make(map[int64]clock.Handle),
	}
}

// SetRand replaces the detection roll source. Tests inject a
// deterministic sequence. Must be called before Run.
func (e *Engine) SetRand(fn func() float64) { e.rng = fn }

// Store exposes the process table for read-side adapters.
func (e *Engine) Store() *Store { return e.store }

// Accountant exposes resource state for read-side adapters.
func (e *Engine) Accountant() *resource.Accountant { return e.acct }

// Run executes the single-writer loop until ctx is cancelled. The only
// suspension point is the queue head, with a timeout equal to the next
// scheduled timer.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	defer close(e.stopped)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	slog.Info("process engine started", "snapshot_interval", e.cfg.SnapshotInterval)

	for {
		e.drainDue(e.clk.Now())

		var timerC <-chan time.Time
		if dl, ok := e.wheel.NextDeadline(); ok {
			d := dl.Sub(e.clk.Now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer, timerC)
			slog.Info("process engine stopping")
			return ctx.Err()
		case c := <-e.cmds:
			stopTimer(timer, timerC)
			commandsProcessed.WithLabelValues(c.kind()).Inc()
			c.execute(e, e.clk.Now())
		case <-timerC:
			// drained at the top of the loop
		}
	}
}

func stopTimer(t *time.Timer, c <-chan time.Time) {
	if c == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// drainDue fires every timer due at now. Processes completing at the
// same instant on the same server are handled in (priority desc, pid
// asc) order.
func (e *Engine) drainDue(now time.Time) {
	type due struct {
		fire clock.Fire
		prio int
	}
	var batch []due
	for {
		f, ok := e.wheel.NextFire(now)
		if !ok {
			break
		}
		prio := 0
		if p, ok := e.store.Get(f.Key); ok {
			prio = p.Priority
		}
		batch = append(batch, due{fire: f, prio: prio})
	}
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].fire.At.Equal(batch[j].fire.At) {
			return batch[i].fire.At.Before(batch[j].fire.At)
		}
		if batch[i].prio != batch[j].prio {
			return batch[i].prio > batch[j].prio
		}
		return batch[i].fire.Key < batch[j].fire.Key
	})
	for _, d := range batch {
		e.handleTick(d.fire.Key, now)
	}
}

// handleTick is the Tick command: recompute progress, complete or
// emit a coarse snapshot and reschedule.
func (e *Engine) handleTick(pid int64, now time.Time) {
	p, ok := e.store.Get(pid)
	if !ok || p.State != model.StateRunning {
		// Raced with pause/cancel; the stale fire is a no-op.
		delete(e.timers, pid)
		return
	}
	delete(e.timers, pid)

	if p.Progress(now) >= 1 {
		e.complete(&p, now)
		return
	}

	e.publishProcessUpdate(&p, now)
	e.rollDetection(&p, now)
	e.scheduleWake(&p, now)
}

// handleStart implements the Start command.
func (e *Engine) handleStart(req StartRequest, now time.Time) (int64, error) {
	spec, ok := LookupAction(req.Action)
	if !ok {
		return 0, ErrUnknownAction
	}
	creator, ok := e.world.Player(req.CreatorID)
	if !ok {
		return 0, fmt.Errorf("unknown creator %d", req.CreatorID)
	}
	target, ok := e.world.Server(req.TargetServer)
	if !ok {
		return 0, fmt.Errorf("unknown target server %d", req.TargetServer)
	}

	var software model.Software
	if spec.Software != "" {
		software, ok = e.world.Software(req.SoftwareID)
		if !ok || software.Type != spec.Software || software.OwnerID != creator.ID {
			return e.failStart(req, now, model.FailSoftwareUninstalled)
		}
	}

	request := req.Request
	if request == (resource.Triple{}) {
		request = spec.DefaultRequest
	}
	priority := req.Priority
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	actx := ActionContext{
		Now:      now,
		Creator:  creator,
		Target:   target,
		Software: software,
		Payload:  req.Payload,
		Request:  request,
		World:    e.world,
	}
	if reason := spec.Precheck(actx); reason != "" {
		return e.failStart(req, now, reason)
	}

	duration := spec.Duration(actx)
	if duration < 1 {
		duration = 1
	}

	pid := e.allocPID()

	if err := e.admitWithEviction(req.TargetServer, pid, request, priority, now); err != nil {
		return e.failStartPid(req, pid, now, model.FailNoResources)
	}
	if err := e.world.AddConnection(req.TargetServer); err != nil {
		e.acct.Release(req.TargetServer, pid)
		e.resumeEligible(req.TargetServer, now)
		return e.failStartPid(req, pid, now, model.FailNoResources)
	}

	p := &model.Process{
		PID:             pid,
		CreatorID:       req.CreatorID,
		TargetServer:    req.TargetServer,
		Action:          req.Action,
		SoftwareID:      req.SoftwareID,
		CPUReq:          request.CPU,
		RAMReq:          request.RAM,
		NETReq:          request.NET,
		Priority:        priority,
		StealthLevel:    req.Stealth,
		DurationSeconds: duration,
		State:           model.StateRunning,
		RunStart:        now,
		Payload:         req.Payload,
		CreatedAt:       now,
	}
	wctx, cancel := e.writeCtx()
	err := e.store.Insert(wctx, p)
	cancel()
	if err != nil {
		slog.Error("durable insert failed", "pid", pid, "err", err)
		e.acct.Release(req.TargetServer, pid)
		e.world.DropConnection(req.TargetServer)
		e.resumeEligible(req.TargetServer, now)
		return pid, &StartError{Reason: model.FailDurableStoreUnavailable}
	}

	runningProcesses.Inc()
	e.scheduleWake(p, now)
	e.publishProcessUpdate(p, now)
	e.publishAttackStarted(p, &creator, &target)

	slog.Info("process started",
		"pid", pid,
		"action", string(req.Action),
		"creator", creator.Login,
		"target", target.IP,
		"duration_s", duration,
		"priority", priority)
	return pid, nil
}

// failStart persists a COMPLETED_FAIL row for an admission or
// precondition failure and surfaces it to the caller.
func (e *Engine) failStart(req StartRequest, now time.Time, reason model.FailReason) (int64, error) {
	return e.failStartPid(req, e.allocPID(), now, reason)
}

func (e *Engine) failStartPid(req StartRequest, pid int64, now time.Time, reason model.FailReason) (int64, error) {
	p := &model.Process{
		PID:          pid,
		CreatorID:    req.CreatorID,
		TargetServer: req.TargetServer,
		Action:       req.Action,
		SoftwareID:   req.SoftwareID,
		Priority:     req.Priority,
		State:        model.StateCompletedFail,
		FailReason:   reason,
		Payload:      req.Payload,
		CreatedAt:    now,
		CompletedAt:  now,
	}
	wctx, cancel := e.writeCtx()
	if err := e.store.Insert(wctx, p); err != nil {
		slog.Error("persisting failed start", "pid", pid, "err", err)
	}
	cancel()
	processesCompleted.WithLabelValues(string(reason)).Inc()
	return pid, &StartError{Reason: reason}
}

// admitWithEviction tries to admit, pausing lower-priority RUNNING
// processes (lowest priority, oldest first) until the request fits. RAM
// shortfalls cannot be resolved this way: paused processes keep RAM.
func (e *Engine) admitWithEviction(serverID, pid int64, req resource.Triple, priority int, now time.Time) error {
	err := e.acct.TryAdmit(serverID, pid, req, priority, now)
	if err == nil {
		return nil
	}
	var ins *resource.InsufficientError
	if !errors.As(err, &ins) || ins.RAM() {
		return err
	}

	candidates := e.acct.ListByPriority(serverID)
	for i := len(candidates) - 1; i >= 0; i-- {
		victim, ok := e.store.Get(candidates[i])
		if !ok || victim.State != model.StateRunning || victim.Priority >= priority {
			continue
		}
		if perr := e.handlePause(victim.PID, model.PauseResource, now); perr != nil {
			slog.Warn("eviction pause failed", "pid", victim.PID, "err", perr)
			continue
		}
		evictionPauses.Inc()
		slog.Info("evicted for admission", "paused_pid", victim.PID, "incoming_priority", priority)

		err = e.acct.TryAdmit(serverID, pid, req, priority, now)
		if err == nil {
			return nil
		}
		if errors.As(err, &ins) && ins.RAM() {
			break
		}
	}
	// Give back what eviction freed: the admit still failed, so paused
	// processes may resume immediately.
	e.resumeEligible(serverID, now)
	return err
}

// handlePause implements Pause: permitted only from RUNNING.
func (e *Engine) handlePause(pid int64, reason model.PauseReason, now time.Time) error {
	p, ok := e.store.Get(pid)
	if !ok {
		return ErrUnknownPID
	}
	if p.State != model.StateRunning {
		return ErrNotRunning
	}

	e.cancelWake(pid)
	p.WorkedSeconds += now.Sub(p.RunStart).Seconds()
	p.State = model.StatePaused
	p.PausedAt = now
	p.AutoResume = reason.AutoResumable()

	wctx, cancel := e.writeCtx()
	err := e.store.Update(wctx, &p)
	cancel()
	if err != nil {
		// Memory state unchanged (Update did not acknowledge); put the
		// timer back so the process keeps running.
		live, _ := e.store.Get(pid)
		e.scheduleWake(&live, now)
		return fmt.Errorf("pausing pid %d: %w", pid, err)
	}
	e.acct.PauseCompute(p.TargetServer, pid)
	runningProcesses.Dec()
	e.publishProcessUpdate(&p, now)

	slog.Info("process paused", "pid", pid, "reason", string(reason), "worked_s", p.WorkedSeconds)
	return nil
}

// handleResume implements Resume: permitted only from PAUSED, and only
// if the accountant can re-admit the compute share.
func (e *Engine) handleResume(pid int64, now time.Time) error {
	p, ok := e.store.Get(pid)
	if !ok {
		return ErrUnknownPID
	}
	if p.State != model.StatePaused {
		return ErrNotPaused
	}

	if err := e.acct.ResumeCompute(p.TargetServer, pid); err != nil {
		return fmt.Errorf("resuming pid %d: %w", pid, err)
	}

	p.State = model.StateRunning
	p.RunStart = now
	p.PausedAt = time.Time{}
	p.AutoResume = false

	wctx, cancel := e.writeCtx()
	err := e.store.Update(wctx, &p)
	cancel()
	if err != nil {
		e.acct.PauseCompute(p.TargetServer, pid)
		return fmt.Errorf("resuming pid %d: %w", pid, err)
	}
	runningProcesses.Inc()
	e.scheduleWake(&p, now)
	e.publishProcessUpdate(&p, now)

	slog.Info("process resumed", "pid", pid, "remaining_s", p.RemainingSeconds(now))
	return nil
}

// handleCancel implements Cancel: accepted from any non-terminal state;
// terminal pids absorb the command as a no-op.
func (e *Engine) handleCancel(pid int64, now time.Time) error {
	p, ok := e.store.Get(pid)
	if !ok {
		return ErrUnknownPID
	}
	if p.Terminal() {
		return nil
	}

	e.cancelWake(pid)
	if p.State == model.StateRunning {
		p.WorkedSeconds += now.Sub(p.RunStart).Seconds()
		runningProcesses.Dec()
	}
	p.State = model.StateCancelled
	p.CompletedAt = now

	e.applyTerminal(&p, now)
	slog.Info("process cancelled", "pid", pid)
	return nil
}

// complete finishes a RUNNING process whose progress reached 1. The
// completion-time precondition check decides OK vs typed failure.
func (e *Engine) complete(p *model.Process, now time.Time) {
	p.WorkedSeconds = p.WorkedAt(now)
	p.CompletedAt = now
	runningProcesses.Dec()

	reason := e.recheck(p, now)
	if reason == "" {
		p.State = model.StateCompletedOK
	} else {
		p.State = model.StateCompletedFail
		p.FailReason = reason
	}

	e.applyTerminal(p, now)
	slog.Info("process completed",
		"pid", p.PID,
		"action", string(p.Action),
		"state", p.State.String(),
		"reason", string(p.FailReason))
}

// recheck re-evaluates action preconditions at completion time.
func (e *Engine) recheck(p *model.Process, now time.Time) model.FailReason {
	spec, ok := LookupAction(p.Action)
	if !ok {
		return model.FailInvalidState
	}
	creator, ok := e.world.Player(p.CreatorID)
	if !ok {
		return model.FailInvalidState
	}
	target, ok := e.world.Server(p.TargetServer)
	if !ok {
		return model.FailTargetGone
	}
	var software model.Software
	if spec.Software != "" {
		software, ok = e.world.Software(p.SoftwareID)
		if !ok {
			return model.FailSoftwareUninstalled
		}
	}
	return spec.Precheck(ActionContext{
		Now:      now,
		Creator:  creator,
		Target:   target,
		Software: software,
		Payload:  p.Payload,
		Request:  resource.Triple{CPU: p.CPUReq, RAM: p.RAMReq, NET: p.NETReq},
		World:    e.world,
	})
}

// applyTerminal runs the effect transaction, publishes staged events,
// releases the reservation and scans for auto-resume.
func (e *Engine) applyTerminal(p *model.Process, now time.Time) {
	events, err := e.effects.ApplyTerminal(e.effectCtx(), p)
	if err != nil {
		slog.Error("effect transaction failed", "pid", p.PID, "err", err)
		p.State = model.StateCompletedFail
		p.FailReason = model.FailDurableStoreUnavailable
		wctx, cancel := e.writeCtx()
		if uerr := e.store.Update(wctx, p); uerr != nil {
			slog.Error("persisting durable failure state", "pid", p.PID, "err", uerr)
			e.store.MarkTerminal(p)
		}
		cancel()
		e.pub.Publish(bus.Event{
			Channel:  bus.UserChannel(p.CreatorID),
			Type:     bus.TypeSecurity,
			Critical: true,
			Payload: map[string]any{
				"message": "a process could not be committed; its effects were rolled back",
				"pid":     p.PID,
			},
		})
	} else {
		e.store.MarkTerminal(p)
		for _, ev := range events {
			e.pub.Publish(ev)
		}
	}
	processesCompleted.WithLabelValues(terminalLabel(p)).Inc()

	e.acct.Release(p.TargetServer, p.PID)
	e.world.DropConnection(p.TargetServer)
	e.resumeEligible(p.TargetServer, now)
}

func terminalLabel(p *model.Process) string {
	switch p.State {
	case model.StateCompletedOK:
		return "ok"
	case model.StateCancelled:
		return "cancelled"
	default:
		return string(p.FailReason)
	}
}

// resumeEligible scans the server's auto-resumable PAUSED processes in
// priority order and resumes each until the first admission failure.
func (e *Engine) resumeEligible(serverID int64, now time.Time) {
	for _, p := range e.store.PausedAutoResumable(serverID) {
		if err := e.handleResume(p.PID, now); err != nil {
			var ins *resource.InsufficientError
			if errors.As(err, &ins) {
				return
			}
			slog.Warn("auto-resume failed", "pid", p.PID, "err", err)
			return
		}
	}
}

// rollDetection runs the per-tick detection roll. Detection only
// informs the victim; it never pauses or cancels the process.
func (e *Engine) rollDetection(p *model.Process, now time.Time) {
	spec, ok := LookupAction(p.Action)
	if !ok || spec.Sensitivity == 0 {
		return
	}
	target, ok := e.world.Server(p.TargetServer)
	if !ok || target.OwnerID == 0 || target.OwnerID == p.CreatorID {
		return
	}

	chance := spec.Sensitivity * (1 + float64(target.MonitoringLevel)/10) /
		((1 + float64(p.StealthLevel)/5) * 100)
	if e.rng() >= chance {
		return
	}

	detectionTriggers.Inc()
	p.DetectionRisk += chance
	e.store.Refresh(p)

	e.pub.Publish(bus.Event{
		Channel:  bus.UserChannel(target.OwnerID),
		Type:     bus.TypeSecurity,
		Critical: true,
		Payload: map[string]any{
			"server_ip": target.IP,
			"action":    string(p.Action),
			"message":   "suspicious activity detected",
		},
	})
	slog.Debug("detection triggered", "pid", p.PID, "victim", target.OwnerID)
}

// scheduleWake registers the single timer for a running pid: the
// projected completion instant, or the next coarse snapshot tick if
// that comes first.
func (e *Engine) scheduleWake(p *model.Process, now time.Time) {
	if h, ok := e.timers[p.PID]; ok {
		e.wheel.Cancel(h)
	}
	at := now.Add(time.Duration(p.RemainingSeconds(now) * float64(time.Second)))
	if snap := now.Add(e.cfg.SnapshotInterval); snap.Before(at) {
		at = snap
	}
	e.timers[p.PID] = e.wheel.Schedule(at, p.PID)
}

func (e *Engine) cancelWake(pid int64) {
	if h, ok := e.timers[pid]; ok {
		e.wheel.Cancel(h)
		delete(e.timers, pid)
	}
}

func (e *Engine) allocPID() int64 {
	e.nextPID++
	return e.nextPID
}

// SetNextPID seeds pid allocation above every persisted pid. Called by
// recovery before the engine runs.
func (e *Engine) SetNextPID(maxPID int64) {
	if maxPID > e.nextPID {
		e.nextPID = maxPID
	}
}

func (e *Engine) effectCtx() context.Context {
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// writeCtx bounds one durable write so a hung store cannot stall the
// command loop. The effect layer bounds its own transaction attempts.
func (e *Engine) writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.effectCtx(), e.cfg.EffectTimeout)
}

func (e *Engine) publishProcessUpdate(p *model.Process, now time.Time) {
	payload := map[string]any{
		"pid":            p.PID,
		"progress":       p.Progress(now),
		"time_remaining": p.RemainingSeconds(now),
		"state":          p.State.String(),
	}
	e.pub.Publish(bus.Event{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeProcessUpdate,
		Payload: payload,
	})
	if target, ok := e.world.Server(p.TargetServer); ok && target.OwnerID != 0 && target.OwnerID != p.CreatorID {
		e.pub.Publish(bus.Event{
			Channel: bus.UserChannel(target.OwnerID),
			Type:    bus.TypeProcessUpdate,
			Payload: payload,
		})
	}
}

func (e *Engine) publishAttackStarted(p *model.Process, creator *model.Player, target *model.Server) {
	if target.OwnerID == 0 || target.OwnerID == creator.ID {
		return
	}
	e.pub.Publish(bus.Event{
		Channel: bus.UserChannel(target.OwnerID),
		Type:    bus.TypeAttackStarted,
		Payload: map[string]any{
			"attacker_name": creator.Login,
			"target_name":   target.IP,
		},
	})
}
