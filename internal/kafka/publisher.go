package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

const eventVersion = 1

type messagePublisher interface {
	Publish(ctx context.Context, m kafka.Message) error
}

// EventPublisher turns engine events into versioned envelopes on their topics.
type EventPublisher struct {
	out     messagePublisher
	service string
	newID   func() string
	clock   func() time.Time
}

func NewEventPublisher(out *Producer, service string) *EventPublisher {
	return newEventPublisher(out, service)
}

func newEventPublisher(out messagePublisher, service string) *EventPublisher {
	return &EventPublisher{
		out:     out,
		service: service,
		newID:   uuid.NewString,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func (p *EventPublisher) PublishOrderEvent(ctx context.Context, ev orders.Event) error {
	topic := orders.TopicFor(ev.Type)
	if topic == "" {
		return nil
	}
	payload, key, err := encodePayload(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = p.clock()
	}
	env := orders.Envelope{
		EventID:       p.newID(),
		EventType:     ev.Type,
		EventVersion:  eventVersion,
		OccurredAt:    occurred,
		Producer:      p.service,
		CorrelationID: key,
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	headers := []kafka.Header{
		{Key: "x-event-type", Value: []byte(ev.Type)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return p.out.Publish(ctx, kafka.Message{
		Topic:   topic,
		Key:     orders.PartitionKey(key),
		Value:   b,
		Headers: headers,
	})
}

// encodePayload returns the payload of ev and the key its partition is chosen by.
func encodePayload(ev orders.Event) (json.RawMessage, string, error) {
	var v any
	key := ev.OrderID
	switch ev.Type {
	case orders.EventOrderDeleted:
		v = orders.OrderDeletedPayload{OrderID: ev.OrderID, Status: ev.Status}
	case orders.EventStockAdjusted:
		v = orders.StockAdjustedPayload{OrderID: ev.OrderID, Reason: ev.Reason, Changes: ev.StockChanges}
		if key == "" && len(ev.StockChanges) > 0 {
			key = ev.StockChanges[0].ProductID
		}
	case orders.EventStockWarning:
		if ev.Warning == nil {
			return nil, "", errors.New("missing warning")
		}
		v = orders.StockWarningPayload{Warning: *ev.Warning}
		key = ev.Warning.ProductID
	case orders.EventProductChanged:
		if ev.Product == nil {
			return nil, "", errors.New("missing product")
		}
		v = orders.ProductChangedPayload{Product: *ev.Product}
		key = ev.Product.ID
	default:
		if ev.Order == nil {
			return nil, "", errors.New("missing order snapshot")
		}
		v = orders.OrderSnapshotPayload{
			OrderID:        ev.Order.ID,
			Status:         ev.Order.Status,
			PreviousStatus: ev.PreviousStatus,
			Discount:       ev.Order.Discount,
			Total:          ev.Order.Total,
			Items:          ev.Order.Items,
		}
	}
	b, err := json.Marshal(v)
	return b, key, err
}
