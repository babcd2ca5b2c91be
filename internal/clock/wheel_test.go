package clock

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestWheel_FireOrder(t *testing.T) {
	w := NewWheel()
	w.Schedule(t0.Add(30*time.Second), 3)
	w.Schedule(t0.Add(10*time.Second), 1)
	w.Schedule(t0.Add(20*time.Second), 2)

	now := t0.Add(time.Minute)
	var keys []int64
	for {
		f, ok := w.NextFire(now)
		if !ok {
			break
		}
		keys = append(keys, f.Key)
	}
	if len(keys) != 3 || keys[0] != 1 || keys[1] != 2 || keys[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", keys)
	}
}

func TestWheel_NotDueYet(t *testing.T) {
	w := NewWheel()
	w.Schedule(t0.Add(time.Minute), 7)

	if _, ok := w.NextFire(t0); ok {
		t.Fatal("timer fired before its instant")
	}
	dl, ok := w.NextDeadline()
	if !ok || !dl.Equal(t0.Add(time.Minute)) {
		t.Fatalf("NextDeadline = %v %v, want %v", dl, ok, t0.Add(time.Minute))
	}
	if _, ok := w.NextFire(t0.Add(time.Minute)); !ok {
		t.Fatal("timer did not fire at its instant")
	}
}

func TestWheel_Cancel(t *testing.T) {
	w := NewWheel()
	h := w.Schedule(t0.Add(time.Second), 1)
	w.Schedule(t0.Add(2*time.Second), 2)

	w.Cancel(h)
	w.Cancel(h) // idempotent

	f, ok := w.NextFire(t0.Add(time.Minute))
	if !ok || f.Key != 2 {
		t.Fatalf("got %v %v, want key 2", f, ok)
	}
	if _, ok := w.NextFire(t0.Add(time.Minute)); ok {
		t.Fatal("cancelled timer fired")
	}
	if w.Len() != 0 {
		t.Fatalf("Len = %d, want 0", w.Len())
	}
}

func TestWheel_CancelZeroHandle(t *testing.T) {
	w := NewWheel()
	w.Cancel(Handle{}) // must not panic
	if w.Len() != 0 {
		t.Fatal("zero handle affected the wheel")
	}
}

func TestWheel_EqualInstants_InsertionOrder(t *testing.T) {
	w := NewWheel()
	at := t0.Add(time.Second)
	w.Schedule(at, 10)
	w.Schedule(at, 20)

	f1, _ := w.NextFire(at)
	f2, _ := w.NextFire(at)
	if f1.Key != 10 || f2.Key != 20 {
		t.Fatalf("tie order = %d,%d want 10,20", f1.Key, f2.Key)
	}
}
