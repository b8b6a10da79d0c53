package upload

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingSweeper struct {
	mu      sync.Mutex
	sweeps  int
	running int
	overlap bool
	result  SweepResult
}

func (c *countingSweeper) Sweep(context.Context) SweepResult {
	c.mu.Lock()
	c.sweeps++
	c.running++
	if c.running > 1 {
		c.overlap = true
	}
	c.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	c.mu.Lock()
	c.running--
	c.mu.Unlock()
	return c.result
}

func (c *countingSweeper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweeps
}

func TestScanner_StartAndStop(t *testing.T) {
	sw := &countingSweeper{result: SweepResult{Total: 1, Failed: 1}}
	scanner := NewScanner(sw, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	scanner.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for sw.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 sweeps, got %d", sw.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		scanner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop")
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.overlap {
		t.Error("sweeps overlapped")
	}
}

func TestScanner_DrivesCoordinator(t *testing.T) {
	f := newRetryFixture(t, CoordinatorOptions{})
	queueFailed(t, f.queue)

	scanner := NewScanner(f.coord, time.Minute)
	scanner.scan(context.Background())

	if f.queue.Len() != 0 {
		t.Errorf("expected queue drained, got %d", f.queue.Len())
	}
	if f.sender.calls() != 1 {
		t.Errorf("expected 1 delivery, got %d", f.sender.calls())
	}
}

func TestScanner_EmptyQueue(t *testing.T) {
	f := newRetryFixture(t, CoordinatorOptions{})
	NewScanner(f.coord, time.Minute).scan(context.Background())
	if f.sender.calls() != 0 {
		t.Errorf("expected no deliveries, got %d", f.sender.calls())
	}
}

func TestScanner_SweepsImmediatelyOnStart(t *testing.T) {
	sw := &countingSweeper{}
	scanner := NewScanner(sw, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	scanner.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for sw.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("expected a sweep before the first tick")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	scanner.Wait()

	if sw.count() != 1 {
		t.Errorf("expected exactly 1 sweep, got %d", sw.count())
	}
}
