package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func getWithin(t *testing.T, q *passQueue, d time.Duration) (ReconcileRequest, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Get(ctx)
}

func TestPassQueue_AddAndGet(t *testing.T) {
	q := newPassQueue()
	q.Add(ReconcileRequest{Environment: "dev", Attempt: 1})

	if q.Len() != 1 {
		t.Errorf("expected 1 ready environment, got %d", q.Len())
	}

	got, ok := getWithin(t, q, time.Second)
	if !ok {
		t.Fatal("expected a request")
	}
	if got.Environment != "dev" || got.Attempt != 1 {
		t.Errorf("unexpected request %+v", got)
	}
	q.Done(got)
}

func TestPassQueue_MergesRequestsOfOneEnvironment(t *testing.T) {
	q := newPassQueue()
	lastErr := errors.New("engine unreachable")

	q.Add(ReconcileRequest{Environment: "dev", Attempt: 3, LastError: lastErr})
	q.Add(ReconcileRequest{Environment: "dev", Attempt: 1})
	q.Add(ReconcileRequest{Environment: "test", Attempt: 1})

	if q.Len() != 2 {
		t.Errorf("expected 2 ready environments, got %d", q.Len())
	}

	got, _ := getWithin(t, q, time.Second)
	if got.Environment != "dev" || got.Attempt != 3 || got.LastError != lastErr {
		t.Errorf("expected the retry to survive the tick, got %+v", got)
	}
}

func TestPassQueue_OnePassPerEnvironment(t *testing.T) {
	q := newPassQueue()
	q.Add(ReconcileRequest{Environment: "dev", Attempt: 1})

	first, ok := getWithin(t, q, time.Second)
	if !ok {
		t.Fatal("expected a request")
	}

	q.Add(ReconcileRequest{Environment: "dev", Attempt: 1})
	if q.Len() != 0 {
		t.Errorf("expected dev to be parked while its pass runs, got %d ready", q.Len())
	}
	if _, ok := getWithin(t, q, 50*time.Millisecond); ok {
		t.Fatal("got a second dev pass while the first was running")
	}

	q.Done(first)
	if _, ok := getWithin(t, q, time.Second); !ok {
		t.Fatal("expected the parked request after Done")
	}
}

func TestPassQueue_RetryRunsAfterDelay(t *testing.T) {
	q := newPassQueue()
	start := time.Now()
	delay := 100 * time.Millisecond

	q.AddAfter(ReconcileRequest{Environment: "dev", Attempt: 2}, delay)
	if !q.Retrying("dev") {
		t.Error("expected a scheduled retry")
	}

	got, ok := getWithin(t, q, time.Second)
	if !ok {
		t.Fatal("expected the retry")
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("retry returned after %v, before its delay of %v", elapsed, delay)
	}
	if got.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", got.Attempt)
	}
	if q.Retrying("dev") {
		t.Error("expected the retry to be consumed")
	}
}

func TestPassQueue_TickCarriesScheduledRetry(t *testing.T) {
	q := newPassQueue()
	q.AddAfter(ReconcileRequest{Environment: "dev", Attempt: 4}, time.Hour)

	q.Add(ReconcileRequest{Environment: "dev", Attempt: 1})
	if q.Retrying("dev") {
		t.Error("expected the tick to take over the retry")
	}

	got, _ := getWithin(t, q, time.Second)
	if got.Attempt != 4 {
		t.Errorf("expected attempt 4, got %d", got.Attempt)
	}
}

func TestPassQueue_RetryDuringPassRidesOnParkedRequest(t *testing.T) {
	q := newPassQueue()
	q.Add(ReconcileRequest{Environment: "dev", Attempt: 1})
	running, _ := getWithin(t, q, time.Second)

	// a tick arrives, then the running pass fails
	q.Add(ReconcileRequest{Environment: "dev", Attempt: 1})
	q.AddAfter(ReconcileRequest{Environment: "dev", Attempt: 2}, time.Hour)
	if q.Retrying("dev") {
		t.Error("expected no timer when a request is already parked")
	}

	q.Done(running)
	got, ok := getWithin(t, q, time.Second)
	if !ok || got.Attempt != 2 {
		t.Errorf("expected attempt 2, got %+v (ok=%v)", got, ok)
	}
}

func TestPassQueue_ShutdownReleasesGet(t *testing.T) {
	q := newPassQueue()

	done := make(chan bool)
	go func() {
		_, ok := q.Get(context.Background())
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	q.Shutdown()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Get to fail after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not return after shutdown")
	}
}

func TestPassQueue_ShutdownCancelsRetries(t *testing.T) {
	q := newPassQueue()
	q.AddAfter(ReconcileRequest{Environment: "dev", Attempt: 2}, 10*time.Millisecond)
	q.Shutdown()

	if q.Retrying("dev") {
		t.Error("expected retries to be cancelled")
	}
	time.Sleep(30 * time.Millisecond)
	if q.Len() != 0 {
		t.Errorf("expected nothing ready after shutdown, got %d", q.Len())
	}
	q.Add(ReconcileRequest{Environment: "dev", Attempt: 1})
	if q.Len() != 0 {
		t.Error("expected Add to be ignored after shutdown")
	}
}

func TestPassQueue_ConcurrentEnvironments(t *testing.T) {
	q := newPassQueue()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				q.Add(ReconcileRequest{Environment: fmt.Sprintf("env-%d-%d", producer, j), Attempt: 1})
			}
		}(i)
	}

	consumed := 0
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			req, ok := getWithin(t, q, 200*time.Millisecond)
			if !ok {
				return
			}
			consumed++
			q.Done(req)
		}
	}()

	wg.Wait()
	<-consumerDone

	if consumed != 50 {
		t.Errorf("expected 50 passes, got %d", consumed)
	}
}
