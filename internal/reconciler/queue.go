package reconciler

import (
	"context"
	"sync"
	"time"
)

// passQueue schedules reconciliation passes by environment.
//
// At most one request per environment is waiting at any time; further
// requests are merged into it. An environment whose pass is running is not
// handed out again until Done, so passes of one environment never overlap.
// A retry scheduled with AddAfter is merged into the next request for its
// environment, whichever comes first: the retry timer or a tick.
type passQueue struct {
	mu sync.Mutex

	// ready lists environments that can be handed out, oldest first.
	ready []string

	// waiting holds the request of every ready or parked environment.
	waiting map[string]ReconcileRequest

	running map[string]bool
	retries map[string]scheduledRetry
	seq     uint64

	// wake is closed and replaced whenever ready grows or the queue closes.
	wake   chan struct{}
	closed bool
}

type scheduledRetry struct {
	req   ReconcileRequest
	timer *time.Timer
	seq   uint64
}

func newPassQueue() *passQueue {
	return &passQueue{
		waiting: make(map[string]ReconcileRequest),
		running: make(map[string]bool),
		retries: make(map[string]scheduledRetry),
		wake:    make(chan struct{}),
	}
}

// mergeRequests keeps the request that is further into its retry sequence.
func mergeRequests(a, b ReconcileRequest) ReconcileRequest {
	if b.Attempt > a.Attempt {
		return b
	}
	return a
}

// Add requests a pass for req.Environment.
func (q *passQueue) Add(req ReconcileRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.add(req)
}

func (q *passQueue) add(req ReconcileRequest) {
	if q.closed {
		return
	}
	env := req.Environment

	if r, ok := q.retries[env]; ok {
		r.timer.Stop()
		delete(q.retries, env)
		req = mergeRequests(req, r.req)
	}

	if prev, ok := q.waiting[env]; ok {
		q.waiting[env] = mergeRequests(prev, req)
		return
	}
	q.waiting[env] = req
	if !q.running[env] {
		q.ready = append(q.ready, env)
		q.signal()
	}
}

// AddAfter schedules a retry of req after delay. A request already waiting
// for the environment carries the retry instead.
func (q *passQueue) AddAfter(req ReconcileRequest, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	env := req.Environment

	if prev, ok := q.waiting[env]; ok {
		q.waiting[env] = mergeRequests(prev, req)
		return
	}
	if r, ok := q.retries[env]; ok {
		r.timer.Stop()
		req = mergeRequests(req, r.req)
	}

	q.seq++
	seq := q.seq
	timer := time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		r, ok := q.retries[env]
		if !ok || r.seq != seq {
			return
		}
		delete(q.retries, env)
		q.add(r.req)
	})
	q.retries[env] = scheduledRetry{req: req, timer: timer, seq: seq}
}

// Get blocks until an environment is ready, ctx is done or the queue is
// shut down.
func (q *passQueue) Get(ctx context.Context) (ReconcileRequest, bool) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			env := q.ready[0]
			q.ready = q.ready[1:]
			req := q.waiting[env]
			delete(q.waiting, env)
			q.running[env] = true
			q.mu.Unlock()
			return req, true
		}
		if q.closed {
			q.mu.Unlock()
			return ReconcileRequest{}, false
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ReconcileRequest{}, false
		case <-wake:
		}
	}
}

// Done ends the pass of req.Environment and releases a request that arrived
// meanwhile.
func (q *passQueue) Done(req ReconcileRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	env := req.Environment
	delete(q.running, env)
	if _, ok := q.waiting[env]; ok && !q.closed {
		q.ready = append(q.ready, env)
		q.signal()
	}
}

// Len returns the number of environments ready to run.
func (q *passQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Retrying reports whether a retry is scheduled for env.
func (q *passQueue) Retrying(env string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.retries[env]
	return ok
}

// Shutdown cancels scheduled retries and releases blocked Get calls.
func (q *passQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for env, r := range q.retries {
		r.timer.Stop()
		delete(q.retries, env)
	}
	q.ready = nil
	q.signal()
}

func (q *passQueue) signal() {
	close(q.wake)
	q.wake = make(chan struct{})
}
