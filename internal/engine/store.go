package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/udisondev/hackgrid/internal/model"
)

// ProcessWriter is the durable side of the process store. Every state
// mutation is write-through: the store acknowledges the engine only
// after the durable store accepted the row. Terminal transitions with
// effects bypass this writer — their row is committed inside the effect
// transaction instead.
type ProcessWriter interface {
	Insert(ctx context.Context, p *model.Process) error
	Update(ctx context.Context, p *model.Process) error
}

// Store is the canonical in-memory process table. The engine is the
// single writer; HTTP handlers read snapshots concurrently, hence the
// RWMutex.
type Store struct {
	mu        sync.RWMutex
	byPID     map[int64]*model.Process
	byCreator map[int64]map[int64]struct{}
	byServer  map[int64]map[int64]struct{}

	writer ProcessWriter
}

// NewStore returns an empty store writing through to writer.
func NewStore(writer ProcessWriter) *Store {
	return &Store{
		byPID:     make(map[int64]*model.Process),
		byCreator: make(map[int64]map[int64]struct{}),
		byServer:  make(map[int64]map[int64]struct{}),
		writer:    writer,
	}
}

// Insert persists a new process and adds it to the table.
func (s *Store) Insert(ctx context.Context, p *model.Process) error {
	if err := s.writer.Insert(ctx, p); err != nil {
		return err
	}
	s.put(p)
	return nil
}

// Update persists the process's current state and publishes it to
// readers. The caller mutates the live row before calling Update; reads
// during the durable write still see the previous acknowledged copy
// because readers get snapshots taken under the lock here.
func (s *Store) Update(ctx context.Context, p *model.Process) error {
	if err := s.writer.Update(ctx, p); err != nil {
		return err
	}
	s.put(p)
	return nil
}

// Attach adds a recovered process to the table without a durable write.
func (s *Store) Attach(p *model.Process) {
	s.put(p)
}

// Refresh publishes a memory-only field change (detection risk) without
// a durable write; the value rides along with the next write-through.
func (s *Store) Refresh(p *model.Process) {
	s.put(p)
}

// MarkTerminal updates indices after a terminal row was committed by
// the effect transaction. No durable write happens here.
func (s *Store) MarkTerminal(p *model.Process) {
	s.put(p)
}

func (s *Store) put(p *model.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.byPID[p.PID] = &cp
	if s.byCreator[p.CreatorID] == nil {
		s.byCreator[p.CreatorID] = make(map[int64]struct{})
	}
	s.byCreator[p.CreatorID][p.PID] = struct{}{}
	if s.byServer[p.TargetServer] == nil {
		s.byServer[p.TargetServer] = make(map[int64]struct{})
	}
	s.byServer[p.TargetServer][p.PID] = struct{}{}
}

// Get returns a snapshot of the process.
func (s *Store) Get(pid int64) (model.Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byPID[pid]
	if !ok {
		return model.Process{}, false
	}
	return *p, true
}

// ActiveByCreator returns snapshots of the creator's non-terminal
// processes, ordered by pid.
func (s *Store) ActiveByCreator(creatorID int64) []model.Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Process
	for pid := range s.byCreator[creatorID] {
		if p := s.byPID[pid]; !p.Terminal() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// NonTerminalByServer returns snapshots of non-terminal processes
// targeting the server, ordered by pid.
func (s *Store) NonTerminalByServer(serverID int64) []model.Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Process
	for pid := range s.byServer[serverID] {
		if p := s.byPID[pid]; !p.Terminal() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// PausedAutoResumable returns pids of auto-resumable paused processes
// on the server in resume order: priority descending, pid ascending.
func (s *Store) PausedAutoResumable(serverID int64) []model.Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Process
	for pid := range s.byServer[serverID] {
		p := s.byPID[pid]
		if p.State == model.StatePaused && p.AutoResume {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].PID < out[j].PID
	})
	return out
}

// NonTerminalCount returns the number of live processes.
func (s *Store) NonTerminalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.byPID {
		if !p.Terminal() {
			n++
		}
	}
	return n
}
