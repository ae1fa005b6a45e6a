package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer fans messages out to a fixed pool of workers. Messages with the same key
// always land on the same worker, so per-key order is kept. A failed message is retried
// in place, and offsets are committed per partition only up to the oldest message still
// in flight.
type Consumer struct {
	r          messageReader
	workers    int
	backoff    time.Duration
	maxBackoff time.Duration
	log        *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, backoff: 200 * time.Millisecond, maxBackoff: 10 * time.Second, log: log}
}

// Start blocks until ctx is cancelled or the reader fails. Workers are drained
// before it returns.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	offsets := newOffsetTracker()
	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, h, m) {
					continue
				}
				if next, ok := offsets.done(m); ok {
					c.commit(ctx, offsets, next)
				}
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		offsets.track(m)
		q := queues[xxhash.Sum64(m.Key)%uint64(len(queues))]
		select {
		case q <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// handle runs h until it succeeds or ctx ends, backing off between attempts. It
// reports whether m was processed.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := h(extractTrace(ctx, m.Headers), m)
		if err == nil {
			return true
		}
		c.log.Warn("handle message",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		}
		wait = min(2*wait, c.maxBackoff)
	}
}

func (c *Consumer) commit(ctx context.Context, offsets *offsetTracker, m kafka.Message) {
	offsets.commitMu.Lock()
	defer offsets.commitMu.Unlock()
	if !offsets.advance(m) {
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Warn("commit message", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

// offsetTracker follows in-flight offsets per partition. A partition's committable
// offset is the newest message such that it and every older fetched message are done.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionOffsets

	commitMu  sync.Mutex
	committed map[partitionKey]int64
}

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	pending []kafka.Message // fetch order
	done    map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		partitions: make(map[partitionKey]*partitionOffsets),
		committed:  make(map[partitionKey]int64),
	}
}

func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partitionKey{m.Topic, m.Partition}
	p, ok := t.partitions[k]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.partitions[k] = p
	}
	p.pending = append(p.pending, m)
}

// done marks m handled and returns the newest message of its partition that may now be
// committed, if the oldest pending message moved.
func (t *offsetTracker) done(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[partitionKey{m.Topic, m.Partition}]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = true

	var last kafka.Message
	moved := false
	for len(p.pending) > 0 && p.done[p.pending[0].Offset] {
		last = p.pending[0]
		delete(p.done, last.Offset)
		p.pending = p.pending[1:]
		moved = true
	}
	return last, moved
}

// advance records m as committed unless a newer offset of its partition already was.
// The caller holds commitMu.
func (t *offsetTracker) advance(m kafka.Message) bool {
	k := partitionKey{m.Topic, m.Partition}
	if prev, ok := t.committed[k]; ok && prev >= m.Offset {
		return false
	}
	t.committed[k] = m.Offset
	return true
}

// extractTrace continues the producer's trace from the message headers.
func extractTrace(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, hd := range headers {
		carrier[hd.Key] = string(hd.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
