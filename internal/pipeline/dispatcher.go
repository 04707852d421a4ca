package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"dogsense/ingestion/internal/metrics"
)

// Dispatcher fans messages out to a fixed set of workers. Messages are sharded
// by the device id in the topic, so each device is handled by one worker in
// arrival order while different devices run in parallel. Handlers drop
// payloads whose device_id differs from the topic device, which keeps that
// ordering true for the device actually stored.
type Dispatcher struct {
	shards         []chan Message
	process        HandlerFunc
	handlerTimeout time.Duration
	logger         *slog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(process HandlerFunc, workers, queueSize int, handlerTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		shards:         make([]chan Message, workers),
		process:        process,
		handlerTimeout: handlerTimeout,
		logger:         logger,
	}
	for i := range d.shards {
		d.shards[i] = make(chan Message, queueSize)
	}
	return d
}

// Start launches one worker per shard.
func (d *Dispatcher) Start() {
	for i, ch := range d.shards {
		d.wg.Add(1)
		go d.work(i, ch)
	}
}

func (d *Dispatcher) work(shard int, ch <-chan Message) {
	defer d.wg.Done()
	for msg := range ch {
		d.handle(msg)
	}
	d.logger.Debug("dispatcher worker drained", slog.Int("shard", shard))
}

// handle runs each message on its own deadline, detached from the caller, so
// shutdown never cancels a write in progress.
func (d *Dispatcher) handle(msg Message) {
	ctx := context.Background()
	if d.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.handlerTimeout)
		defer cancel()
	}
	_ = d.process(ctx, msg)
}

// Submit queues msg on its device's shard. It blocks while that queue is full
// until ctx is done, then returns ErrQueueFull. After Stop it returns ErrStopped.
func (d *Dispatcher) Submit(ctx context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	ch := d.shards[d.shardOf(msg.Topic)]
	select {
	case ch <- msg:
		return nil
	default:
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		metrics.QueueRejects.Add(1)
		return ErrQueueFull
	}
}

func (d *Dispatcher) shardOf(topic string) int {
	return int(xxhash.Sum64String(TopicDevice(topic)) % uint64(len(d.shards)))
}

// Stop rejects new messages, lets the workers drain what is queued and waits
// for them until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for _, ch := range d.shards {
			close(ch)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending is the number of queued messages across all shards.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, ch := range d.shards {
		n += len(ch)
	}
	return n
}
