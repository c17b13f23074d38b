package kafka

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/justiciasalta/sian-sync/internal/broker/messages"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafkago.Writer{
			Addr:     kafkago.TCP(brokers...),
			Balancer: &kafkago.LeastBytes{},
		},
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Close() error {
	if w, ok := p.w.(*kafkago.Writer); ok {
		return w.Close()
	}
	return nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// PublishStatusChanged emits a state-change event keyed by tracking code,
// so consumers see changes for one notification in order.
func (p *Producer) PublishStatusChanged(ctx context.Context, msg messages.StatusChanged) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal status changed")
	}
	return p.Publish(ctx, messages.TopicStatusChanged, []byte(msg.TrackingCode), value)
}
