package cancel

import (
	"context"
	"testing"
	"time"
)

func TestSleepCompletesNaturally(t *testing.T) {
	tok := New()
	start := time.Now()
	ok := tok.Sleep(context.Background(), 50*time.Millisecond)
	if !ok {
		t.Fatalf("expected Sleep to complete without cancellation")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Errorf("Sleep returned before its duration elapsed")
	}
}

func TestSleepReturnsEarlyOnCancel(t *testing.T) {
	tok := New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		tok.Cancel()
	}()

	start := time.Now()
	ok := tok.Sleep(context.Background(), 2*time.Second)
	if ok {
		t.Fatalf("expected Sleep to report cancellation")
	}
	if time.Since(start) > 1*time.Second {
		t.Errorf("Sleep took too long to notice cancellation")
	}
}

func TestCancelIsMonotonic(t *testing.T) {
	tok := New()
	tok.Cancel()
	tok.Cancel()
	if !tok.Cancelled() {
		t.Fatalf("expected token to remain cancelled")
	}
}
