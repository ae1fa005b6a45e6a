package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

type fakeWriter struct {
	mu      sync.Mutex
	written []kafka.Message
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) topics() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, m := range w.written {
		out = append(out, m.Topic)
	}
	return out
}

func TestProducerFlushesOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{}
	p := newProducer(w, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	for _, topic := range []string{"a", "b", "c"} {
		require.NoError(t, p.Publish(context.Background(), kafka.Message{Topic: topic}))
	}
	cancel()
	p.WaitClosed()

	assert.Equal(t, []string{"a", "b", "c"}, w.topics())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), kafka.Message{Topic: "late"}), ErrProducerClosed)
}

func TestProducerPublishHonoursContext(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, nil)
	// not started: the queue fills up and Publish must give up with the caller
	require.NoError(t, p.Publish(context.Background(), kafka.Message{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Publish(ctx, kafka.Message{}), context.DeadlineExceeded)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			m := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerKeepsPerKeyOrderAndCommitsHandledMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{}
	for i := 0; i < 20; i++ {
		key := []byte{byte('a' + i%3)}
		r.queue = append(r.queue, kafka.Message{Key: key, Offset: int64(i)})
	}
	c := newConsumer(r, 4, nil)

	var mu sync.Mutex
	seen := map[string][]int64{}
	handled := make(chan struct{}, 20)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			mu.Lock()
			seen[string(m.Key)] = append(seen[string(m.Key)], m.Offset)
			mu.Unlock()
			handled <- struct{}{}
			return nil
		})
	}()
	for i := 0; i < 20; i++ {
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatal("messages not handled")
		}
	}
	cancel()
	require.NoError(t, <-errc)

	for key, offsets := range seen {
		assert.IsIncreasing(t, offsets, key)
	}
	commits := r.commits()
	require.NotEmpty(t, commits)
	assert.IsIncreasing(t, commits)
	assert.Equal(t, int64(19), commits[len(commits)-1])
	assert.True(t, r.closed)
}

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{queue: []kafka.Message{
		{Key: []byte("p1"), Offset: 0},
		{Key: []byte("p1"), Offset: 1},
	}}
	c := newConsumer(r, 1, nil)
	c.backoff = time.Millisecond

	var mu sync.Mutex
	calls := map[int64]int{}
	var order []int64
	done := make(chan struct{}, 3)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			defer func() { done <- struct{}{} }()
			mu.Lock()
			defer mu.Unlock()
			calls[m.Offset]++
			order = append(order, m.Offset)
			if m.Offset == 0 && calls[0] == 1 {
				return errors.New("transient")
			}
			return nil
		})
	}()
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("messages not handled")
		}
	}
	cancel()
	require.NoError(t, <-errc)

	assert.Equal(t, map[int64]int{0: 2, 1: 1}, calls)
	assert.Equal(t, []int64{0, 0, 1}, order)
	assert.Equal(t, []int64{0, 1}, r.commits())
}

func TestConsumerCommitsOnlyBelowOldestPendingMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	// two keys routed to different workers
	keys := [][]byte{}
	buckets := map[uint64]bool{}
	for i := 0; len(keys) < 2; i++ {
		k := []byte{byte('a' + i)}
		b := xxhash.Sum64(k) % 2
		if !buckets[b] {
			buckets[b] = true
			keys = append(keys, k)
		}
	}
	r := &fakeReader{queue: []kafka.Message{
		{Key: keys[0], Offset: 0},
		{Key: keys[1], Offset: 1},
	}}
	c := newConsumer(r, 2, nil)

	release := make(chan struct{})
	handled := make(chan int64, 2)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			if m.Offset == 0 {
				<-release
			}
			handled <- m.Offset
			return nil
		})
	}()

	select {
	case off := <-handled:
		require.Equal(t, int64(1), off)
	case <-time.After(5 * time.Second):
		t.Fatal("offset 1 not handled")
	}
	assert.Never(t, func() bool { return len(r.commits()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	<-handled
	assert.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, []int64{1}, r.commits())
}

func TestConsumerStopsRetryingOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{queue: []kafka.Message{{Offset: 7}}}
	c := newConsumer(r, 1, nil)
	c.backoff = time.Millisecond
	c.maxBackoff = 4 * time.Millisecond

	attempts := make(chan struct{}, 100)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- c.Start(ctx, func(context.Context, kafka.Message) error {
			select {
			case attempts <- struct{}{}:
			default:
			}
			return errors.New("down")
		})
	}()
	for i := 0; i < 3; i++ {
		<-attempts
	}
	cancel()
	require.NoError(t, <-errc)
	assert.Empty(t, r.commits())
}

type capturePublisher struct {
	msgs []kafka.Message
}

func (c *capturePublisher) Publish(_ context.Context, m kafka.Message) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestEventPublisherEnvelope(t *testing.T) {
	out := &capturePublisher{}
	p := newEventPublisher(out, "order-api")
	p.newID = func() string { return "evt-1" }
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	o := &orders.Order{ID: "o1", Status: orders.StatusConfirmed}
	err := p.PublishOrderEvent(context.Background(), orders.Event{
		Type:           orders.EventStatusChanged,
		OrderID:        "o1",
		PreviousStatus: orders.StatusPending,
		Status:         orders.StatusConfirmed,
		Order:          o,
		OccurredAt:     at,
	})
	require.NoError(t, err)
	require.Len(t, out.msgs, 1)

	m := out.msgs[0]
	assert.Equal(t, orders.TopicOrderStatusChanged, m.Topic)
	assert.Equal(t, "o1", string(m.Key))
	assert.Equal(t, orders.EventStatusChanged, header(m, "x-event-type"))
	assert.Equal(t, "1", header(m, "x-event-version"))

	env, err := DecodeEnvelope(m.Value)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, "order-api", env.Producer)
	assert.Equal(t, "o1", env.CorrelationID)
	assert.True(t, at.Equal(env.OccurredAt))

	payload, err := UnwrapPayload[orders.OrderSnapshotPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, payload.PreviousStatus)
	assert.Equal(t, orders.StatusConfirmed, payload.Status)
}

func TestEventPublisherKeysStockEventsByProduct(t *testing.T) {
	out := &capturePublisher{}
	p := newEventPublisher(out, "order-api")
	ctx := context.Background()

	require.NoError(t, p.PublishOrderEvent(ctx, orders.Event{
		Type:         orders.EventStockAdjusted,
		Reason:       orders.StockReasonRestock,
		StockChanges: []orders.StockChange{{ProductID: "p9", Delta: 3, Stock: 3}},
	}))
	require.NoError(t, p.PublishOrderEvent(ctx, orders.Event{
		Type:    orders.EventStockWarning,
		Warning: &orders.ConsistencyWarning{ProductID: "p7", Stock: 1, Reserved: 2, Available: -1},
	}))
	// unrouted types are skipped
	require.NoError(t, p.PublishOrderEvent(ctx, orders.Event{Type: orders.EventCatalogProductUpdated}))

	require.Len(t, out.msgs, 2)
	assert.Equal(t, "p9", string(out.msgs[0].Key))
	assert.Equal(t, orders.TopicStockAdjusted, out.msgs[0].Topic)
	assert.Equal(t, "p7", string(out.msgs[1].Key))

	env, err := DecodeEnvelope(out.msgs[1].Value)
	require.NoError(t, err)
	var payload orders.StockWarningPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, -1, payload.Warning.Available)
}

func TestEventPublisherRejectsIncompleteEvents(t *testing.T) {
	p := newEventPublisher(&capturePublisher{}, "order-api")
	err := p.PublishOrderEvent(context.Background(), orders.Event{Type: orders.EventOrderCreated, OrderID: "o1"})
	assert.ErrorContains(t, err, "missing order snapshot")
	err = p.PublishOrderEvent(context.Background(), orders.Event{Type: orders.EventProductChanged})
	assert.ErrorContains(t, err, "missing product")
}
