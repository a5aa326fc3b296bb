package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ticker-provisioner/internal/observability"
)

// Dispatcher defaults.
const (
	DefaultQueueSize      = 256
	DefaultDeliverTimeout = 15 * time.Second
	DefaultRetries        = 2
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	QueueSize      int
	DeliverTimeout time.Duration
	Retries        int
	RetryDelay     time.Duration
	Logger         zerolog.Logger
}

type job struct {
	to  Notifier
	msg Message
}

// Dispatcher delivers messages asynchronously on a single worker goroutine.
// Enqueue never blocks; when the queue is full the message is dropped and counted.
type Dispatcher struct {
	queue   chan job
	opts    DispatcherOptions
	log     zerolog.Logger
	dropped atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewDispatcher starts a dispatcher worker.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = DefaultDeliverTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}

	d := &Dispatcher{
		queue: make(chan job, opts.QueueSize),
		opts:  opts,
		log:   opts.Logger.With().Str("component", "notify").Logger(),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue schedules msg for delivery to n. It reports false if the message was dropped.
func (d *Dispatcher) Enqueue(n Notifier, msg Message) bool {
	if n == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(n)
		return false
	}
	select {
	case d.queue <- job{to: n, msg: msg}:
		return true
	default:
		d.drop(n)
		return false
	}
}

func (d *Dispatcher) drop(n Notifier) {
	d.dropped.Add(1)
	observability.RecordNotification(channelName(n), "dropped")
}

// Dropped returns the number of messages discarded because the queue was full or closed.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Failed returns the number of messages whose delivery failed after retries.
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }

// Close stops accepting messages and waits for the queue to drain or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	channel := channelName(j.to)
	var lastErr error
	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.opts.RetryDelay * time.Duration(1<<uint(attempt-1)))
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.DeliverTimeout)
		lastErr = j.to.Deliver(ctx, j.msg)
		cancel()
		if lastErr == nil {
			observability.RecordNotification(channel, "delivered")
			return
		}
		d.log.Debug().Err(lastErr).Str("channel", channel).Int("attempt", attempt+1).Msg("notification attempt failed")
	}
	d.failed.Add(1)
	observability.RecordNotification(channel, "failed")
	d.log.Warn().Err(lastErr).Str("channel", channel).Str("title", j.msg.Title).Msg("notification delivery failed")
}
