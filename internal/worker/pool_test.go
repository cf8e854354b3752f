package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// stubResult implements Result
type stubResult struct{ err error }

func (r *stubResult) Err() error { return r.err }

// stubJob implements Job
type stubJob struct {
	delay    time.Duration
	fail     bool
	executed *atomic.Int32
}

func (j *stubJob) Execute(ctx context.Context) Result {
	if j.executed != nil {
		j.executed.Add(1)
	}
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return &stubResult{err: ctx.Err()}
		}
	}
	if j.fail {
		return &stubResult{err: errors.New("job failed")}
	}
	return &stubResult{}
}

func TestNewPool(t *testing.T) {
	tests := []struct {
		workers int
		want    int
	}{
		{5, 5},
		{0, 1},
		{-3, 1},
	}
	for _, tt := range tests {
		if got := NewPool(context.Background(), tt.workers).workers; got != tt.want {
			t.Errorf("NewPool(%d): expected %d workers, got %d", tt.workers, tt.want, got)
		}
	}
}

func TestPool_RunsEveryJob(t *testing.T) {
	pool := NewPool(context.Background(), 3)
	pool.Start()

	var executed atomic.Int32
	go func() {
		defer pool.Close()
		for range 20 {
			pool.Submit(&stubJob{executed: &executed})
		}
	}()

	n := 0
	for r := range pool.Results() {
		if r.Err() != nil {
			t.Errorf("unexpected error: %v", r.Err())
		}
		n++
	}

	if n != 20 {
		t.Errorf("expected 20 results, got %d", n)
	}
	if got := executed.Load(); got != 20 {
		t.Errorf("expected 20 executed jobs, got %d", got)
	}
}

func TestPool_ReportsErrors(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()
	pool.Submit(&stubJob{})
	pool.Submit(&stubJob{fail: true})
	pool.Submit(&stubJob{})

	failed := 0
	for _, r := range pool.Wait() {
		if r.Err() != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected 1 failed job, got %d", failed)
	}
}

func TestPool_Shutdown(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	pool.Start()
	pool.Submit(&stubJob{delay: time.Second})

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("shutdown did not interrupt the running job")
	}
	if pool.Submit(&stubJob{}) {
		t.Error("submit after shutdown should be refused")
	}
}

func TestPool_ParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()
	cancel()
	if pool.Submit(&stubJob{}) {
		t.Error("submit after parent cancel should be refused")
	}
	pool.Shutdown()
}
