package kv

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultOutboxSize = 256

type outboxItem struct {
	key string
	raw json.RawMessage
}

// Outbox delivers writes to a remote tier on a single background worker.
// Enqueue never blocks: a full queue drops the write and logs it. Local state
// remains the source of truth, so a dropped remote write is repaired by the next Put.
type Outbox struct {
	target  Store
	log     zerolog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan outboxItem
	done   chan struct{}

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewOutbox starts a worker writing to target.
func NewOutbox(target Store, size int, log zerolog.Logger) *Outbox {
	if size <= 0 {
		size = defaultOutboxSize
	}
	o := &Outbox{
		target:  target,
		log:     log,
		timeout: 10 * time.Second,
		queue:   make(chan outboxItem, size),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

// Enqueue snapshots v and schedules it for delivery. It reports whether the
// write was accepted.
func (o *Outbox) Enqueue(key string, v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		o.log.Error().Err(err).Str("key", key).Msg("outbox: encode")
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.dropped.Add(1)
		return false
	}
	select {
	case o.queue <- outboxItem{key: key, raw: raw}:
		return true
	default:
		o.dropped.Add(1)
		o.log.Warn().Str("key", key).Msg("outbox: queue full, dropping remote write")
		return false
	}
}

func (o *Outbox) run() {
	defer close(o.done)
	for item := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err := o.target.SetJSON(ctx, item.key, item.raw)
		cancel()
		if err != nil {
			o.failed.Add(1)
			o.log.Warn().Err(err).Str("key", item.key).Msg("outbox: remote write failed")
			continue
		}
		o.sent.Add(1)
	}
}

// Close stops accepting writes and waits for queued ones to drain or ctx to end.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OutboxStats counts delivery outcomes since start.
type OutboxStats struct {
	Sent, Failed, Dropped int64
}

// Stats returns delivery counters.
func (o *Outbox) Stats() OutboxStats {
	return OutboxStats{Sent: o.sent.Load(), Failed: o.failed.Load(), Dropped: o.dropped.Load()}
}
