package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/udisondev/hackgrid/internal/model"
	"github.com/udisondev/hackgrid/internal/resource"
)

// Errors surfaced synchronously by engine commands.
var (
	ErrUnknownPID     = errors.New("unknown pid")
	ErrUnknownAction  = errors.New("unknown action")
	ErrNotRunning     = errors.New("process is not running")
	ErrNotPaused      = errors.New("process is not paused")
	ErrEngineStopped  = errors.New("engine is not running")
)

// StartError is the typed admission/precondition failure returned by
// Start. The process row is persisted terminal before this surfaces.
type StartError struct {
	Reason model.FailReason
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start failed: %s", e.Reason)
}

// StartRequest carries everything needed to construct a process.
// Request may be zero to use the action's default resource profile.
type StartRequest struct {
	CreatorID    int64
	TargetServer int64
	Action       model.Action
	SoftwareID   int64
	Payload      json.RawMessage
	Priority     int
	Stealth      int
	Request      resource.Triple
}

// command is one entry of the engine's single-writer queue. Timer fires
// share the queue ordering with external commands.
type command interface {
	execute(e *Engine, now time.Time)
	kind() string
}

type startCmd struct {
	req   StartRequest
	reply chan startReply
}

type startReply struct {
	pid int64
	err error
}

func (c *startCmd) kind() string { return "start" }
func (c *startCmd) execute(e *Engine, now time.Time) {
	pid, err := e.handleStart(c.req, now)
	c.reply <- startReply{pid: pid, err: err}
}

type pauseCmd struct {
	pid    int64
	reason model.PauseReason
	reply  chan error
}

func (c *pauseCmd) kind() string { return "pause" }
func (c *pauseCmd) execute(e *Engine, now time.Time) {
	c.reply <- e.handlePause(c.pid, c.reason, now)
}

type resumeCmd struct {
	pid   int64
	reply chan error
}

func (c *resumeCmd) kind() string { return "resume" }
func (c *resumeCmd) execute(e *Engine, now time.Time) {
	c.reply <- e.handleResume(c.pid, now)
}

type cancelCmd struct {
	pid   int64
	reply chan error
}

func (c *cancelCmd) kind() string { return "cancel" }
func (c *cancelCmd) execute(e *Engine, now time.Time) {
	c.reply <- e.handleCancel(c.pid, now)
}

// syncCmd is a barrier: it drains every timer due at now and replies.
// Tests use it to observe a quiescent engine after advancing the clock.
type syncCmd struct {
	reply chan struct{}
}

func (c *syncCmd) kind() string { return "sync" }
func (c *syncCmd) execute(e *Engine, now time.Time) {
	e.drainDue(now)
	close(c.reply)
}

// Start constructs a process and admits it. On success the process is
// RUNNING and its pid is returned. Admission and precondition failures
// return a *StartError after the terminal row is persisted.
func (e *Engine) Start(ctx context.Context, req StartRequest) (int64, error) {
	c := &startCmd{req: req, reply: make(chan startReply, 1)}
	if err := e.send(ctx, c); err != nil {
		return 0, err
	}
	select {
	case r := <-c.reply:
		return r.pid, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Pause suspends a RUNNING process for the given reason.
func (e *Engine) Pause(ctx context.Context, pid int64, reason model.PauseReason) error {
	c := &pauseCmd{pid: pid, reason: reason, reply: make(chan error, 1)}
	return e.roundTrip(ctx, c, c.reply)
}

// Resume restarts a PAUSED process if its compute share can be
// re-admitted.
func (e *Engine) Resume(ctx context.Context, pid int64) error {
	c := &resumeCmd{pid: pid, reply: make(chan error, 1)}
	return e.roundTrip(ctx, c, c.reply)
}

// Cancel terminates a non-terminal process. Cancelling a terminal pid
// is a no-op: terminal states absorb further commands.
func (e *Engine) Cancel(ctx context.Context, pid int64) error {
	c := &cancelCmd{pid: pid, reply: make(chan error, 1)}
	return e.roundTrip(ctx, c, c.reply)
}

// Sync blocks until every timer due at the engine's current time has
// been processed.
func (e *Engine) Sync(ctx context.Context) error {
	c := &syncCmd{reply: make(chan struct{})}
	if err := e.send(ctx, c); err != nil {
		return err
	}
	select {
	case <-c.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) send(ctx context.Context, c command) error {
	select {
	case e.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}
}

func (e *Engine) roundTrip(ctx context.Context, c command, reply chan error) error {
	if err := e.send(ctx, c); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
