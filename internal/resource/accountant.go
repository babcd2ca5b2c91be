// Package resource implements the per-server CPU/RAM/NET accountant.
// It is pure bookkeeping over engine state: the engine is the only
// caller, so there is no locking here. The accountant reports pressure;
// pausing processes to relieve it is the engine's decision.
package resource

import (
	"fmt"
	"sort"
	"time"
)

// Epsilon absorbs float drift when summing shares against a budget.
const Epsilon = 1e-9

// Dimensions reported by InsufficientError.
const (
	DimCPU = "cpu"
	DimRAM = "ram"
	DimNET = "net"
)

// Triple is a (cpu, ram, net) capacity or reservation.
type Triple struct {
	CPU float64
	RAM float64
	NET float64
}

// Sub returns t minus o, floored at zero per dimension.
func (t Triple) Sub(o Triple) Triple {
	f := func(a, b float64) float64 {
		if a-b < 0 {
			return 0
		}
		return a - b
	}
	return Triple{CPU: f(t.CPU, o.CPU), RAM: f(t.RAM, o.RAM), NET: f(t.NET, o.NET)}
}

// InsufficientError reports the first dimension that could not be
// satisfied and by how much.
type InsufficientError struct {
	Dimension string
	Deficit   float64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient %s: short by %.3f", e.Dimension, e.Deficit)
}

// RAM reports whether the shortfall is in RAM. RAM is held through
// PAUSED, so a RAM shortfall cannot be resolved by eviction.
func (e *InsufficientError) RAM() bool { return e.Dimension == DimRAM }

type allocation struct {
	pid      int64
	req      Triple
	priority int
	since    time.Time
	// computeHeld is false while the process is paused: CPU and NET are
	// released on pause, RAM is kept so resume cannot fail on memory.
	computeHeld bool
}

// Accountant tracks budgets and live reservations for every server.
type Accountant struct {
	budgets map[int64]Triple
	allocs  map[int64]map[int64]*allocation
}

// New returns an empty accountant.
func New() *Accountant {
	return &Accountant{
		budgets: make(map[int64]Triple),
		allocs:  make(map[int64]map[int64]*allocation),
	}
}

// SetBudget registers (or updates) a server's hardware capacity.
func (a *Accountant) SetBudget(serverID int64, budget Triple) {
	a.budgets[serverID] = budget
}

// Budget returns the server's capacity triple.
func (a *Accountant) Budget(serverID int64) (Triple, bool) {
	b, ok := a.budgets[serverID]
	return b, ok
}

// Used returns the live usage triple: RAM of every non-terminal
// reservation, CPU/NET only of those whose compute is held.
func (a *Accountant) Used(serverID int64) Triple {
	var used Triple
	for _, al := range a.allocs[serverID] {
		used.RAM += al.req.RAM
		if al.computeHeld {
			used.CPU += al.req.CPU
			used.NET += al.req.NET
		}
	}
	return used
}

// Free returns current free capacity.
func (a *Accountant) Free(serverID int64) Triple {
	return a.budgets[serverID].Sub(a.Used(serverID))
}

// TryAdmit strictly allocates the full requested share for pid. It does
// not downscale. On failure nothing is reserved and the returned error
// is an *InsufficientError naming the first short dimension.
func (a *Accountant) TryAdmit(serverID, pid int64, req Triple, priority int, since time.Time) error {
	budget, ok := a.budgets[serverID]
	if !ok {
		return fmt.Errorf("no budget registered for server %d", serverID)
	}
	if _, dup := a.allocs[serverID][pid]; dup {
		return fmt.Errorf("pid %d already holds a reservation on server %d", pid, serverID)
	}

	used := a.Used(serverID)
	if err := fits(budget, used, req); err != nil {
		return err
	}

	if a.allocs[serverID] == nil {
		a.allocs[serverID] = make(map[int64]*allocation)
	}
	a.allocs[serverID][pid] = &allocation{
		pid:         pid,
		req:         req,
		priority:    priority,
		since:       since,
		computeHeld: true,
	}
	return nil
}

// PauseCompute releases pid's CPU and NET but keeps its RAM. No-op if
// the pid holds no reservation.
func (a *Accountant) PauseCompute(serverID, pid int64) {
	if al, ok := a.allocs[serverID][pid]; ok {
		al.computeHeld = false
	}
}

// ResumeCompute re-admits pid's CPU and NET. RAM is already held, so
// only compute dimensions can fail.
func (a *Accountant) ResumeCompute(serverID, pid int64) error {
	al, ok := a.allocs[serverID][pid]
	if !ok {
		return fmt.Errorf("pid %d holds no reservation on server %d", pid, serverID)
	}
	if al.computeHeld {
		return nil
	}
	budget := a.budgets[serverID]
	used := a.Used(serverID)
	if used.CPU+al.req.CPU > budget.CPU+Epsilon {
		return &InsufficientError{Dimension: DimCPU, Deficit: used.CPU + al.req.CPU - budget.CPU}
	}
	if used.NET+al.req.NET > budget.NET+Epsilon {
		return &InsufficientError{Dimension: DimNET, Deficit: used.NET + al.req.NET - budget.NET}
	}
	al.computeHeld = true
	return nil
}

// Release returns pid's entire reservation. Idempotent.
func (a *Accountant) Release(serverID, pid int64) {
	delete(a.allocs[serverID], pid)
}

// Reservation returns pid's reserved triple, if any.
func (a *Accountant) Reservation(serverID, pid int64) (Triple, bool) {
	al, ok := a.allocs[serverID][pid]
	if !ok {
		return Triple{}, false
	}
	return al.req, true
}

// ListByPriority returns pids holding reservations on the server in
// eviction-walk order: priority descending, then admission time
// ascending. Eviction candidates are taken from the tail.
func (a *Accountant) ListByPriority(serverID int64) []int64 {
	allocs := a.allocs[serverID]
	out := make([]*allocation, 0, len(allocs))
	for _, al := range allocs {
		out = append(out, al)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		if !out[i].since.Equal(out[j].since) {
			return out[i].since.Before(out[j].since)
		}
		return out[i].pid < out[j].pid
	})
	pids := make([]int64, len(out))
	for i, al := range out {
		pids[i] = al.pid
	}
	return pids
}

func fits(budget, used, req Triple) error {
	if used.CPU+req.CPU > budget.CPU+Epsilon {
		return &InsufficientError{Dimension: DimCPU, Deficit: used.CPU + req.CPU - budget.CPU}
	}
	if used.RAM+req.RAM > budget.RAM+Epsilon {
		return &InsufficientError{Dimension: DimRAM, Deficit: used.RAM + req.RAM - budget.RAM}
	}
	if used.NET+req.NET > budget.NET+Epsilon {
		return &InsufficientError{Dimension: DimNET, Deficit: used.NET + req.NET - budget.NET}
	}
	return nil
}
