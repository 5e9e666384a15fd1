package kafka

import (
	"context"
	"encoding/json"

	"github.com/BearBump/LoadTrack/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) publishJSON(ctx context.Context, topic, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	return p.Publish(ctx, topic, []byte(key), b)
}

// PublishGeofenceEvent пишет событие в geofence.events с ключом по заказу.
func (p *Producer) PublishGeofenceEvent(ctx context.Context, ev messages.GeofenceEvent) error {
	return p.publishJSON(ctx, messages.TopicGeofenceEvents, ev.OrderID, ev)
}

// PublishOrderChanged пишет запись заказа в realtime-ленту orders.changed.
func (p *Producer) PublishOrderChanged(ctx context.Context, msg messages.OrderChanged) error {
	return p.publishJSON(ctx, messages.TopicOrdersChanged, msg.OrderID, msg)
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
