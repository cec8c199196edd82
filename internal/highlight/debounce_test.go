package highlight

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalescesToLastCall(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)

	var fired int32
	var got atomic.Value
	for _, v := range []string{"first", "second", "third"} {
		v := v
		d.Call(func() {
			atomic.AddInt32(&fired, 1)
			got.Store(v)
		})
	}

	time.Sleep(80 * time.Millisecond)

	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
	if v := got.Load(); v != "third" {
		t.Fatalf("fired with %v, want the last call", v)
	}
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)

	var fired int32
	d.Call(func() { atomic.AddInt32(&fired, 1) })
	d.Cancel()

	time.Sleep(40 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("fired %d times after Cancel, want 0", n)
	}

	// Cancel does not poison the debouncer.
	d.Call(func() { atomic.AddInt32(&fired, 1) })
	time.Sleep(40 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("fired %d times after re-Call, want 1", n)
	}
}

func TestDebouncerStopRejectsFutureCalls(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)

	var fired int32
	d.Call(func() { atomic.AddInt32(&fired, 1) })
	d.Stop()
	d.Call(func() { atomic.AddInt32(&fired, 1) })

	time.Sleep(40 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("fired %d times after Stop, want 0", n)
	}
}
