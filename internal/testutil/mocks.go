package testutil

import (
	"context"
	"sync"

	"github.com/udisondev/hackgrid/internal/bus"
	"github.com/udisondev/hackgrid/internal/model"
)

// MemWriter is an in-memory ProcessWriter: every acknowledged
// write-through is recorded so tests can assert durable state.
type MemWriter struct {
	mu      sync.Mutex
	rows    map[int64]model.Process
	writes  int
	failErr error
}

// NewMemWriter returns an empty writer.
func NewMemWriter() *MemWriter {
	return &MemWriter{rows: make(map[int64]model.Process)}
}

// FailWith makes every subsequent write return err (nil to heal).
func (w *MemWriter) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failErr = err
}

// Insert implements engine.ProcessWriter.
func (w *MemWriter) Insert(_ context.Context, p *model.Process) error {
	return w.store(p)
}

// Update implements engine.ProcessWriter.
func (w *MemWriter) Update(_ context.Context, p *model.Process) error {
	return w.store(p)
}

func (w *MemWriter) store(p *model.Process) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failErr != nil {
		return w.failErr
	}
	w.rows[p.PID] = *p
	w.writes++
	return nil
}

// Row returns the last acknowledged durable state of pid.
func (w *MemWriter) Row(pid int64) (model.Process, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.rows[pid]
	return p, ok
}

// Rows returns a copy of every durable row.
func (w *MemWriter) Rows() []model.Process {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Process, 0, len(w.rows))
	for _, p := range w.rows {
		out = append(out, p)
	}
	return out
}

// Writes returns the number of acknowledged writes.
func (w *MemWriter) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

// CapturePublisher records every published event.
type CapturePublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

// NewCapturePublisher returns an empty capture publisher.
func NewCapturePublisher() *CapturePublisher {
	return &CapturePublisher{}
}

// Publish implements bus.Publisher.
func (c *CapturePublisher) Publish(ev bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything published so far.
func (c *CapturePublisher) Events() []bus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bus.Event, len(c.events))
	copy(out, c.events)
	return out
}

// ByType filters captured events by frame type.
func (c *CapturePublisher) ByType(typ string) []bus.Event {
	var out []bus.Event
	for _, ev := range c.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Reset discards captured events.
func (c *CapturePublisher) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// FakeApplier is an EffectApplier double: it records terminal
// processes and emits a process_complete event per application, like
// the real effect layer.
type FakeApplier struct {
	mu      sync.Mutex
	applied []model.Process
	failErr error
}

// NewFakeApplier returns an empty applier.
func NewFakeApplier() *FakeApplier {
	return &FakeApplier{}
}

// FailWith makes every subsequent apply return err (nil to heal).
func (a *FakeApplier) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failErr = err
}

// ApplyTerminal implements engine.EffectApplier.
func (a *FakeApplier) ApplyTerminal(_ context.Context, p *model.Process) ([]bus.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failErr != nil {
		return nil, a.failErr
	}
	a.applied = append(a.applied, *p)

	if p.State == model.StateCancelled {
		return []bus.Event{{
			Channel: bus.UserChannel(p.CreatorID),
			Type:    bus.TypeNotification,
			Payload: map[string]any{"title": "Process", "message": "Process cancelled", "level": "info"},
		}}, nil
	}
	result := "ok"
	if p.State == model.StateCompletedFail {
		result = string(p.FailReason)
	}
	return []bus.Event{{
		Channel: bus.UserChannel(p.CreatorID),
		Type:    bus.TypeProcessComplete,
		Payload: map[string]any{"pid": p.PID, "action": string(p.Action), "result": result},
	}}, nil
}

// Applied returns a copy of every terminal process applied.
func (a *FakeApplier) Applied() []model.Process {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Process, len(a.applied))
	copy(out, a.applied)
	return out
}
