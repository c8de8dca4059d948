package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

const testKind Kind = "test"

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestQueueRunsJob(t *testing.T) {
	q := NewQueue(16)
	var ran atomic.Int32
	q.Register(testKind, func(ctx context.Context, job *Job) error {
		ran.Add(1)
		return nil
	}, nil, nil, 0)
	q.Start(2)
	defer q.Stop()

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "a"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return ran.Load() == 1 })
}

func TestQueueRejectsUnregisteredKind(t *testing.T) {
	q := NewQueue(16)
	if err := q.Enqueue(&Job{Kind: "nope"}); err == nil {
		t.Error("expected an error for an unregistered kind")
	}
}

func TestQueueRetriesWithBackoff(t *testing.T) {
	q := NewQueue(16)
	var attempts atomic.Int32
	q.Register(testKind, func(ctx context.Context, job *Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, 0)
	q.Start(1)
	defer q.Stop()

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "a"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return attempts.Load() == 3 })
}

func TestQueueFailureHandlerAfterExhaustion(t *testing.T) {
	q := NewQueue(16)
	var attempts atomic.Int32
	var failed atomic.Int32
	q.Register(testKind, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return errors.New("permanent")
	}, func(ctx context.Context, job *Job, cause error) {
		failed.Add(1)
	}, []time.Duration{time.Millisecond, time.Millisecond}, 0)
	q.Start(1)
	defer q.Stop()

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "a"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return failed.Load() == 1 })
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want initial try plus two retries", got)
	}
}

func TestQueueSkipDoesNotFail(t *testing.T) {
	q := NewQueue(16)
	var failed atomic.Int32
	var ran atomic.Int32
	q.Register(testKind, func(ctx context.Context, job *Job) error {
		ran.Add(1)
		return ErrSkip
	}, func(ctx context.Context, job *Job, cause error) {
		failed.Add(1)
	}, []time.Duration{time.Millisecond}, 0)
	q.Start(1)

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "a"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return ran.Load() == 1 })
	q.Stop()

	if ran.Load() != 1 {
		t.Errorf("skipped job ran %d times, want 1", ran.Load())
	}
	if failed.Load() != 0 {
		t.Error("skip must not invoke the failure handler")
	}
}

func TestQueueRequeueDoesNotConsumeRetries(t *testing.T) {
	q := NewQueue(16)
	var calls atomic.Int32
	q.Register(testKind, func(ctx context.Context, job *Job) error {
		// Requeue more times than the backoff schedule allows, then
		// succeed. A requeue must not burn scheduled retries.
		if calls.Add(1) < 5 {
			return &RequeueError{Delay: time.Millisecond}
		}
		if job.Attempt() != 0 {
			return errors.New("requeue incremented the attempt counter")
		}
		return nil
	}, nil, []time.Duration{time.Millisecond}, 0)
	q.Start(1)
	defer q.Stop()

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "a"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 5 })
}

func TestQueueDeadlineStopsRequeues(t *testing.T) {
	q := NewQueue(16)
	var failed atomic.Int32
	q.Register(testKind, func(ctx context.Context, job *Job) error {
		return &RequeueError{Delay: 50 * time.Millisecond}
	}, func(ctx context.Context, job *Job, cause error) {
		failed.Add(1)
	}, nil, 20*time.Millisecond)
	q.Start(1)
	defer q.Stop()

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "a"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return failed.Load() == 1 })
}

func TestQueuePermanentErrorSkipsRetries(t *testing.T) {
	q := NewQueue(16)
	var attempts atomic.Int32
	var failed atomic.Int32
	q.Register(testKind, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return &PermanentError{Err: errors.New("source gone")}
	}, func(ctx context.Context, job *Job, cause error) {
		failed.Add(1)
	}, []time.Duration{time.Millisecond, time.Millisecond}, 0)
	q.Start(1)
	defer q.Stop()

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "a"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return failed.Load() == 1 })
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, permanent errors must not be retried", attempts.Load())
	}
}

func TestStopDrainsInFlightAndQueuedJobs(t *testing.T) {
	q := NewQueue(16)
	started := make(chan struct{})
	var completed atomic.Int32
	var ctxCancelled atomic.Int32
	q.Register(testKind, func(ctx context.Context, job *Job) error {
		if job.StagedID == "first" {
			close(started)
			time.Sleep(50 * time.Millisecond)
		}
		if ctx.Err() != nil {
			ctxCancelled.Add(1)
		}
		completed.Add(1)
		return nil
	}, nil, nil, 0)
	q.Start(1)

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "second"}); err != nil {
		t.Fatal(err)
	}

	<-started
	q.Stop()

	if completed.Load() != 2 {
		t.Errorf("completed = %d, want both the in-flight and the queued job drained", completed.Load())
	}
	if ctxCancelled.Load() != 0 {
		t.Error("handler context must stay live while Stop drains work")
	}

	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "late"}); err == nil {
		t.Error("expected an error enqueueing after Stop")
	}
}

func TestQueueFullReturnsError(t *testing.T) {
	q := NewQueue(1)
	q.Register(testKind, func(ctx context.Context, job *Job) error { return nil }, nil, nil, 0)
	// Not started, so the buffer fills immediately.
	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(&Job{Kind: testKind, StagedID: "b"}); err == nil {
		t.Error("expected an error when the queue is full")
	}
}
