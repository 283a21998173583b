package tracker

import (
	"testing"
	"time"
)

func TestIncrementRejectedWhileDraining(t *testing.T) {
	tr := New()
	if !tr.Increment() {
		t.Fatalf("expected increment to succeed before draining")
	}
	tr.Decrement()

	tr.StartDraining()
	if tr.Increment() {
		t.Fatalf("expected increment to fail while draining")
	}
}

func TestStartDrainingResolvesWhenEmpty(t *testing.T) {
	tr := New()
	done := tr.StartDraining()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected drain to resolve immediately for an empty tracker")
	}
}

func TestStartDrainingWaitsForInFlight(t *testing.T) {
	tr := New()
	tr.Increment()
	done := tr.StartDraining()

	select {
	case <-done:
		t.Fatalf("expected drain to wait for in-flight request")
	case <-time.After(20 * time.Millisecond):
	}

	tr.Decrement()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected drain to resolve after last request finished")
	}
}
