package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"karavan/pkg/logging"
)

const busSubsystem = "EventBus"

// ErrBusStopped is returned when publishing on a bus that is not running.
var ErrBusStopped = errors.New("event bus is not running")

// BusConfig holds configuration for the Bus.
type BusConfig struct {
	// MaxConcurrent bounds concurrent deliveries to unordered subscriptions.
	// Defaults to 32.
	MaxConcurrent int64

	// HandlerTimeout bounds a single delivery. Zero means no bound.
	HandlerTimeout time.Duration
}

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*subscription)

// WithOrdering makes a subscription process events with the same key one at
// a time and in publish order.
func WithOrdering() SubscriptionOption {
	return func(s *subscription) {
		s.ordered = true
	}
}

type subscription struct {
	name    string
	topics  []Topic
	handler Handler
	ordered bool
	lanes   *lanes
}

// BusStats counts deliveries since start.
type BusStats struct {
	Published int64
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Bus is an in-process topic based publish/subscribe bus.
type Bus struct {
	mu sync.RWMutex

	config BusConfig
	subs   map[Topic][]*subscription
	sem    *semaphore.Weighted

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a bus. Subscriptions may be added before or after Start.
func NewBus(config BusConfig) *Bus {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 32
	}
	return &Bus{
		config: config,
		subs:   make(map[Topic][]*subscription),
		sem:    semaphore.NewWeighted(config.MaxConcurrent),
	}
}

// Subscribe registers handler for topic under a descriptive name.
func (b *Bus) Subscribe(topic Topic, name string, handler Handler, opts ...SubscriptionOption) {
	b.SubscribeMany([]Topic{topic}, name, handler, opts...)
}

// SubscribeMany registers one handler for several topics. Ordered
// subscriptions share their per-key lanes across all of their topics.
func (b *Bus) SubscribeMany(topics []Topic, name string, handler Handler, opts ...SubscriptionOption) {
	sub := &subscription{
		name:    name,
		topics:  topics,
		handler: handler,
	}
	for _, opt := range opts {
		opt(sub)
	}
	if sub.ordered {
		sub.lanes = newLanes()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], sub)
	}
	logging.Debug(busSubsystem, "Subscribed %s to %v (ordered=%t)", name, topics, sub.ordered)
}

// Start enables publishing. Deliveries run under a context derived from ctx.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	b.ctx, b.cancelFunc = context.WithCancel(ctx)
	b.running = true
	logging.Info(busSubsystem, "Started")
	return nil
}

// Stop rejects further publishes, cancels in-flight deliveries and waits
// for all delivery goroutines to return.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.cancelFunc()
	b.mu.Unlock()

	b.wg.Wait()
	logging.Info(busSubsystem, "Stopped")
}

// Wait blocks until every delivery started so far has finished.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Publish hands ev to every subscription of its topic and returns without
// waiting for handlers.
func (b *Bus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.running {
		b.dropped.Add(1)
		return fmt.Errorf("%w: dropping %s", ErrBusStopped, ev.Topic)
	}
	b.published.Add(1)

	for _, sub := range b.subs[ev.Topic] {
		if sub.ordered {
			if sub.lanes.push(ev) {
				b.wg.Add(1)
				go b.drain(sub, ev.Key)
			} else {
				logging.Debug(busSubsystem, "Queued %s for %s behind %d event(s)", ev.Topic, ev.Key, sub.lanes.depth(ev.Key))
			}
			continue
		}

		b.wg.Add(1)
		go func(sub *subscription) {
			defer b.wg.Done()
			if err := b.sem.Acquire(b.ctx, 1); err != nil {
				b.dropped.Add(1)
				return
			}
			defer b.sem.Release(1)
			b.deliver(sub, ev)
		}(sub)
	}
	return nil
}

// drain delivers the events of one lane until it is empty.
func (b *Bus) drain(sub *subscription, key string) {
	defer b.wg.Done()
	for {
		ev, ok := sub.lanes.next(key)
		if !ok {
			return
		}
		b.deliver(sub, ev)
	}
}

// deliver runs the handler, converting errors and panics into log entries.
func (b *Bus) deliver(sub *subscription, ev Event) {
	ctx := b.ctx
	if b.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			logging.Error(busSubsystem, fmt.Errorf("panic: %v", r), "Handler %s panicked on %s for %s\n%s", sub.name, ev.Topic, ev.Key, debug.Stack())
		}
	}()

	if err := sub.handler(ctx, ev); err != nil {
		b.failed.Add(1)
		logging.Error(busSubsystem, err, "Handler %s failed on %s for %s", sub.name, ev.Topic, ev.Key)
		return
	}
	b.delivered.Add(1)
}

// Stats returns delivery counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}
