package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebounceCollapsesBurst(t *testing.T) {
	d := New(50 * time.Millisecond)
	var calls atomic.Int32
	var last atomic.Int32

	for i := 1; i <= 5; i++ {
		n := int32(i)
		d.Debounce("drain", func() {
			calls.Add(1)
			last.Store(n)
		})
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("Expected 1 call, got %d", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("Expected the last registered function to run, got #%d", got)
	}
	if d.Pending("drain") {
		t.Error("Nothing should be pending after the call ran")
	}
}

func TestDebounceKeysAreIndependent(t *testing.T) {
	d := New(30 * time.Millisecond)
	var a, b atomic.Int32

	d.Debounce("a", func() { a.Add(1) })
	d.Debounce("b", func() { b.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if a.Load() != 1 || b.Load() != 1 {
		t.Errorf("Expected one call per key, got a=%d b=%d", a.Load(), b.Load())
	}
}

func TestCancelAndClear(t *testing.T) {
	d := New(30 * time.Millisecond)
	var calls atomic.Int32

	d.Debounce("a", func() { calls.Add(1) })
	if !d.Pending("a") {
		t.Fatal("Expected a to be pending")
	}
	d.Cancel("a")

	d.Debounce("b", func() { calls.Add(1) })
	d.Debounce("c", func() { calls.Add(1) })
	d.Clear()

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("Expected no calls after cancel/clear, got %d", got)
	}
}
