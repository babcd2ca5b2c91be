package resource

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestAccountant() *Accountant {
	a := New()
	a.SetBudget(1, Triple{CPU: 1.0, RAM: 1.0, NET: 1.0})
	return a
}

func TestTryAdmit_Strict(t *testing.T) {
	a := newTestAccountant()

	if err := a.TryAdmit(1, 10, Triple{CPU: 0.6, RAM: 0.4, NET: 0.2}, 5, t0); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	err := a.TryAdmit(1, 11, Triple{CPU: 0.5, RAM: 0.1, NET: 0.1}, 5, t0)
	var ins *InsufficientError
	if !errors.As(err, &ins) {
		t.Fatalf("expected InsufficientError, got %v", err)
	}
	if ins.Dimension != DimCPU {
		t.Errorf("dimension = %s, want cpu", ins.Dimension)
	}
	// Failed admit must reserve nothing.
	free := a.Free(1)
	if free.RAM != 0.6 {
		t.Errorf("free ram after failed admit = %v, want 0.6", free.RAM)
	}
}

func TestTryAdmit_DuplicatePid(t *testing.T) {
	a := newTestAccountant()
	if err := a.TryAdmit(1, 10, Triple{CPU: 0.1, RAM: 0.1, NET: 0.1}, 1, t0); err != nil {
		t.Fatal(err)
	}
	if err := a.TryAdmit(1, 10, Triple{CPU: 0.1, RAM: 0.1, NET: 0.1}, 1, t0); err == nil {
		t.Fatal("duplicate admit for same pid must fail")
	}
}

func TestPauseKeepsRAM(t *testing.T) {
	a := newTestAccountant()
	if err := a.TryAdmit(1, 10, Triple{CPU: 0.7, RAM: 0.5, NET: 0.3}, 5, t0); err != nil {
		t.Fatal(err)
	}

	a.PauseCompute(1, 10)
	free := a.Free(1)
	if free.CPU != 1.0 || free.NET != 1.0 {
		t.Errorf("compute not released on pause: free = %+v", free)
	}
	if free.RAM != 0.5 {
		t.Errorf("ram released on pause: free ram = %v, want 0.5", free.RAM)
	}

	// Resume cannot fail on RAM because it was never given back.
	if err := a.ResumeCompute(1, 10); err != nil {
		t.Fatalf("resume: %v", err)
	}
	free = a.Free(1)
	if free.CPU > 0.3+Epsilon || free.CPU < 0.3-Epsilon {
		t.Errorf("free cpu after resume = %v, want 0.3", free.CPU)
	}
}

func TestResumeCompute_Blocked(t *testing.T) {
	a := newTestAccountant()
	if err := a.TryAdmit(1, 10, Triple{CPU: 0.6, RAM: 0.2, NET: 0.1}, 5, t0); err != nil {
		t.Fatal(err)
	}
	a.PauseCompute(1, 10)
	if err := a.TryAdmit(1, 11, Triple{CPU: 0.8, RAM: 0.2, NET: 0.1}, 7, t0); err != nil {
		t.Fatal(err)
	}

	err := a.ResumeCompute(1, 10)
	var ins *InsufficientError
	if !errors.As(err, &ins) || ins.Dimension != DimCPU {
		t.Fatalf("expected cpu InsufficientError, got %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	a := newTestAccountant()
	if err := a.TryAdmit(1, 10, Triple{CPU: 0.5, RAM: 0.5, NET: 0.5}, 5, t0); err != nil {
		t.Fatal(err)
	}
	a.Release(1, 10)
	a.Release(1, 10)
	free := a.Free(1)
	if free.CPU != 1.0 || free.RAM != 1.0 || free.NET != 1.0 {
		t.Errorf("free after release = %+v, want full budget", free)
	}
}

func TestListByPriority_EvictionOrder(t *testing.T) {
	a := newTestAccountant()
	// priority 3 admitted first, then 5, then 3 again later.
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(a.TryAdmit(1, 1, Triple{CPU: 0.2, RAM: 0.1, NET: 0.1}, 3, t0))
	must(a.TryAdmit(1, 2, Triple{CPU: 0.2, RAM: 0.1, NET: 0.1}, 5, t0.Add(time.Second)))
	must(a.TryAdmit(1, 3, Triple{CPU: 0.2, RAM: 0.1, NET: 0.1}, 3, t0.Add(2*time.Second)))

	got := a.ListByPriority(1)
	want := []int64{2, 1, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("eviction order = %v, want %v", got, want)
		}
	}
}

func TestTryAdmit_RAMDeficitReported(t *testing.T) {
	a := newTestAccountant()
	if err := a.TryAdmit(1, 1, Triple{CPU: 0.1, RAM: 0.9, NET: 0.1}, 5, t0); err != nil {
		t.Fatal(err)
	}
	err := a.TryAdmit(1, 2, Triple{CPU: 0.1, RAM: 0.5, NET: 0.1}, 9, t0)
	var ins *InsufficientError
	if !errors.As(err, &ins) || !ins.RAM() {
		t.Fatalf("expected RAM InsufficientError, got %v", err)
	}
	if ins.Deficit < 0.4-Epsilon || ins.Deficit > 0.4+Epsilon {
		t.Errorf("deficit = %v, want 0.4", ins.Deficit)
	}
}
