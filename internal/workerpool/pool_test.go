package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool() *Pool {
	cfg := DefaultConfig()
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 4
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.DefaultTimeout = time.Second
	return New(cfg)
}

func TestSubmitRunsHandler(t *testing.T) {
	p := newTestPool()
	defer p.Close()

	done := make(chan string, 1)
	p.RegisterHandler("echo", func(ctx context.Context, t *Task) (interface{}, error) {
		done <- t.Payload.(string)
		return nil, nil
	})

	p.Submit(&Task{ID: "t1", Type: "echo", Payload: "hello"})

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestDependencyGating(t *testing.T) {
	p := newTestPool()
	defer p.Close()

	var mu sync.Mutex
	var order []string
	wait := make(chan struct{})
	p.RegisterHandler("step", func(ctx context.Context, t *Task) (interface{}, error) {
		mu.Lock()
		order = append(order, t.ID)
		done := len(order) == 2
		mu.Unlock()
		if done {
			close(wait)
		}
		return nil, nil
	})

	p.Submit(&Task{ID: "child", Type: "step", Dependencies: []string{"parent"}})
	p.Submit(&Task{ID: "parent", Type: "step"})

	select {
	case <-wait:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "parent" || order[1] != "child" {
		t.Fatalf("expected parent before child, got %v", order)
	}
}

func TestRetryOnFailure(t *testing.T) {
	p := newTestPool()
	defer p.Close()

	var attempts int32
	okCh := make(chan struct{})
	p.RegisterHandler("flaky", func(ctx context.Context, t *Task) (interface{}, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("transient")
		}
		close(okCh)
		return nil, nil
	})

	p.Submit(&Task{ID: "flaky-1", Type: "flaky", MaxRetries: 5})

	select {
	case <-okCh:
	case <-time.After(2 * time.Second):
		t.Fatal("never succeeded after retries")
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestMissingHandlerFails(t *testing.T) {
	p := newTestPool()
	defer p.Close()

	p.Submit(&Task{ID: "orphan", Type: "nonexistent"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st, ok := p.Status("orphan"); ok && st == StatusFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected orphan task to fail")
}

func TestSubmitBurstRunsIndependently(t *testing.T) {
	p := newTestPool()
	defer p.Close()

	done := make(chan struct{})
	p.SubmitBurst(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("burst task never ran")
	}
}

func TestRetiresWorkerAfterConsecutiveErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 4
	cfg.MaxConsecutiveErr = 3
	cfg.DefaultTimeout = time.Second
	p := New(cfg)
	defer p.Close()

	p.RegisterHandler("boom", func(ctx context.Context, t *Task) (interface{}, error) {
		return nil, errors.New("boom")
	})

	for i := 0; i < 20; i++ {
		p.Submit(&Task{ID: taskID(i), Type: "boom"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().Failed >= 20 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// allow retirement/replacement goroutines to settle
	time.Sleep(100 * time.Millisecond)
	if w := p.Stats().Workers; w > cfg.MaxWorkers {
		t.Fatalf("worker count grew past MaxWorkers after sustained errors: %d", w)
	}
}

func taskID(i int) string {
	return "err-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestCancelPendingTask(t *testing.T) {
	p := newTestPool()
	defer p.Close()

	p.RegisterHandler("noop", func(ctx context.Context, t *Task) (interface{}, error) { return nil, nil })
	p.Submit(&Task{ID: "blocked", Type: "noop", Dependencies: []string{"never-arrives"}})

	if ok := p.Cancel("blocked"); !ok {
		t.Fatal("expected cancel of pending task to succeed")
	}
	st, ok := p.Status("blocked")
	if !ok || st != StatusCancelled {
		t.Fatalf("expected cancelled status, got %v ok=%v", st, ok)
	}
}
