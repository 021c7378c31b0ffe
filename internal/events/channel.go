package events

import (
	"context"
	"sync"

	"github.com/systmms/drops/internal/logging"
)

const (
	// DefaultQueueSize is the maximum number of requests that can be queued.
	DefaultQueueSize = 64

	// DefaultMaxDeliveryAttempts is how many times a request is handed to the
	// handler before it is moved to the dead-letter list.
	DefaultMaxDeliveryAttempts = 3
)

// Handler consumes a failover request. A non-nil error triggers redelivery
// until the attempt budget is spent.
type Handler func(ctx context.Context, req FailoverRequest) error

// DeadLetter records a request that exhausted its delivery attempts.
type DeadLetter struct {
	Request  FailoverRequest
	Attempts int
	LastErr  error
}

// Channel delivers failover requests to a handler with at-least-once
// semantics. Requests that keep failing end up on the dead-letter list
// instead of being retried forever.
type Channel struct {
	queue       chan delivery
	maxAttempts int
	logger      *logging.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	done    chan struct{}

	deadMu       sync.Mutex
	dead         []DeadLetter
	onDeadLetter func(DeadLetter)

	droppedMu    sync.Mutex
	droppedCount int64
}

type delivery struct {
	req     FailoverRequest
	attempt int
}

// NewChannel creates a request channel with the specified queue size.
// If queueSize is 0, DefaultQueueSize is used.
func NewChannel(queueSize int, logger *logging.Logger) *Channel {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Channel{
		queue:       make(chan delivery, queueSize),
		maxAttempts: DefaultMaxDeliveryAttempts,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// SetMaxAttempts overrides the per-request delivery budget. Must be called
// before Start.
func (c *Channel) SetMaxAttempts(n int) {
	if n > 0 {
		c.maxAttempts = n
	}
}

// OnDeadLetter registers a callback invoked whenever a request is moved to
// the dead-letter list. Must be called before Start.
func (c *Channel) OnDeadLetter(fn func(DeadLetter)) {
	c.onDeadLetter = fn
}

// Start begins the background delivery goroutine.
func (c *Channel) Start(ctx context.Context, handler Handler) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.worker(ctx, handler)
}

// Stop shuts the channel down and waits for the in-flight delivery to finish.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
}

// Publish queues a request for delivery. It never blocks: when the queue is
// full the request is counted as dropped and the caller gets false.
func (c *Channel) Publish(req FailoverRequest) bool {
	c.mu.RLock()
	if !c.running {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	select {
	case c.queue <- delivery{req: req, attempt: 0}:
		return true
	default:
		c.droppedMu.Lock()
		c.droppedCount++
		c.droppedMu.Unlock()
		if c.logger != nil {
			c.logger.Warn("request queue full, dropped failover request %s for pair %s", req.ID, req.Pair)
		}
		return false
	}
}

// DroppedCount returns how many requests were rejected by a full queue.
func (c *Channel) DroppedCount() int64 {
	c.droppedMu.Lock()
	defer c.droppedMu.Unlock()
	return c.droppedCount
}

// DeadLetters returns a copy of the requests that exhausted their attempts.
func (c *Channel) DeadLetters() []DeadLetter {
	c.deadMu.Lock()
	defer c.deadMu.Unlock()
	out := make([]DeadLetter, len(c.dead))
	copy(out, c.dead)
	return out
}

func (c *Channel) worker(ctx context.Context, handler Handler) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case d := <-c.queue:
			c.deliver(ctx, handler, d)
		}
	}
}

func (c *Channel) deliver(ctx context.Context, handler Handler, d delivery) {
	d.attempt++
	err := handler(ctx, d.req)
	if err == nil {
		return
	}

	if c.logger != nil {
		c.logger.Warn("delivery attempt %d/%d for request %s failed: %v",
			d.attempt, c.maxAttempts, d.req.ID, err)
	}

	if d.attempt >= c.maxAttempts {
		c.bury(DeadLetter{Request: d.req, Attempts: d.attempt, LastErr: err})
		if c.logger != nil {
			c.logger.Error("request %s for pair %s moved to dead letters after %d attempts",
				d.req.ID, d.req.Pair, d.attempt)
		}
		return
	}

	// Requeue for another attempt. If the queue is full the request goes
	// straight to the dead-letter list rather than being lost.
	select {
	case c.queue <- d:
	default:
		c.bury(DeadLetter{Request: d.req, Attempts: d.attempt, LastErr: err})
	}
}

func (c *Channel) bury(letter DeadLetter) {
	c.deadMu.Lock()
	c.dead = append(c.dead, letter)
	c.deadMu.Unlock()
	if c.onDeadLetter != nil {
		c.onDeadLetter(letter)
	}
}
