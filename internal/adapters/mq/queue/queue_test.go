package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func noop(context.Context) error { return nil }

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if c := q.Cap(); c != 2 {
		t.Errorf("expected capacity 2, got %d", c)
	}

	if err := q.Enqueue(ctx, NewJob("users/u1/transcripts/t1", noop)); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	job := <-q.Dequeue()
	if job.Key != "users/u1/transcripts/t1" {
		t.Errorf("expected key users/u1/transcripts/t1, got %v", job.Key)
	}
	if job.EnqueuedAt.IsZero() {
		t.Error("expected enqueue time to be set")
	}
	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for i := range 2 {
		if err := q.Enqueue(ctx, NewJob(fmt.Sprintf("k%d", i), noop)); err != nil {
			t.Fatalf("expected enqueue to succeed, got %v", err)
		}
	}

	if err := q.Enqueue(ctx, NewJob("k2", noop)); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if l := q.Len(); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Enqueue(ctx, NewJob("k", noop)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInMemoryQueue_FIFO(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100), WithName("lane-0"))
	ctx := context.Background()

	for i := range 50 {
		if err := q.Enqueue(ctx, NewJob(fmt.Sprintf("k%02d", i), noop)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := range 50 {
		job := <-q.Dequeue()
		if want := fmt.Sprintf("k%02d", i); job.Key != want {
			t.Fatalf("expected %s, got %s", want, job.Key)
		}
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	numGoroutines := 10
	numJobs := 100

	var producers sync.WaitGroup
	for i := range numGoroutines {
		producers.Add(1)
		go func(id int) {
			defer producers.Done()
			for j := range numJobs {
				job := NewJob(fmt.Sprintf("k%d_%d", id, j), noop)
				for q.Enqueue(ctx, job) != nil {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	received := 0
	done := make(chan struct{})
	go func() {
		producers.Wait()
		_ = q.Close()
		close(done)
	}()
	for range q.Dequeue() {
		received++
	}
	<-done

	if received != numGoroutines*numJobs {
		t.Errorf("expected %d jobs, got %d", numGoroutines*numJobs, received)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if err := q.Enqueue(ctx, NewJob("k1", noop)); err != nil {
		t.Fatal(err)
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if err := q.Enqueue(ctx, NewJob("k2", noop)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Jobs queued before Close are still delivered.
	job, ok := <-q.Dequeue()
	if !ok || job.Key != "k1" {
		t.Errorf("expected k1 before close, got %v (ok=%v)", job.Key, ok)
	}
	if _, ok := <-q.Dequeue(); ok {
		t.Error("expected dequeue channel to be closed")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}

func TestJob_Finish(t *testing.T) {
	job := NewJob("k", noop)
	boom := errors.New("boom")
	job.Finish(boom)
	job.Finish(nil) // second result is dropped

	if err := <-job.Done; !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
