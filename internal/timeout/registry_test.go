package timeout

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSetFiresOnce(t *testing.T) {
	r := NewRegistry()
	var fired int32

	r.Set("k", 10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("expected callback to fire exactly once, fired %d times", n)
	}
	if r.Len() != 0 {
		t.Errorf("expected registry to be empty after fire, got %d entries", r.Len())
	}
}

func TestSetReplacesPriorTimer(t *testing.T) {
	r := NewRegistry()
	var first, second int32

	r.Set("k", 20*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	r.Set("k", 20*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&first) != 0 {
		t.Error("superseded timer fired")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Error("replacement timer did not fire")
	}
}

func TestClearCancelsTimer(t *testing.T) {
	r := NewRegistry()
	var fired int32

	r.Set("k", 20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	r.Clear("k")

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("cleared timer fired")
	}
}

func TestClearUnknownKeyIsNoop(t *testing.T) {
	r := NewRegistry()

	// Should not panic or affect other keys.
	r.Clear("does-not-exist")

	var fired int32
	r.Set("k", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	r.Clear("other")

	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Error("unrelated Clear cancelled the timer")
	}
}

func TestClearAll(t *testing.T) {
	r := NewRegistry()
	var fired int32

	for _, key := range []string{"a", "b", "c"} {
		r.Set(key, 20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 pending timers, got %d", r.Len())
	}

	r.ClearAll()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Errorf("expected no callbacks after ClearAll, got %d", atomic.LoadInt32(&fired))
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d entries", r.Len())
	}
}

func TestRearmAfterFire(t *testing.T) {
	r := NewRegistry()
	var fired int32

	r.Set("k", 5*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	time.Sleep(30 * time.Millisecond)

	r.Set("k", 5*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	time.Sleep(30 * time.Millisecond)

	if n := atomic.LoadInt32(&fired); n != 2 {
		t.Fatalf("expected 2 fires after re-arm, got %d", n)
	}
}

func TestIndependentKeys(t *testing.T) {
	r := NewRegistry()
	var a, b int32

	r.Set("a", 10*time.Millisecond, func() { atomic.AddInt32(&a, 1) })
	r.Set("b", 10*time.Millisecond, func() { atomic.AddInt32(&b, 1) })

	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&a) != 1 || atomic.LoadInt32(&b) != 1 {
		t.Errorf("expected both keys to fire, got a=%d b=%d", a, b)
	}
}
