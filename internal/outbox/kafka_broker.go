package outbox

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"scm/internal/event"
	"scm/internal/pkg/mq"
)

// KafkaBroker 按主题维护独立的 writer。
type KafkaBroker struct {
	writers map[string]*kafka.Writer
}

// NewKafkaBroker 为给定主题集合创建 broker。
func NewKafkaBroker(brokers []string, topics ...string) *KafkaBroker {
	writers := make(map[string]*kafka.Writer, len(topics))
	for _, t := range topics {
		writers[t] = mq.NewKafkaWriter(brokers, t)
	}
	return &KafkaBroker{writers: writers}
}

// Publish 发送消息，事件类型随消息头一起携带，供消费端分发。
func (b *KafkaBroker) Publish(ctx context.Context, topic string, key, value []byte, eventType string) error {
	writer, ok := b.writers[topic]
	if !ok {
		return errors.Errorf("no kafka writer configured for topic %s", topic)
	}
	return mq.ProduceMessage(ctx, writer, key, value, kafka.Header{
		Key:   event.HeaderEventType,
		Value: []byte(eventType),
	})
}

func (b *KafkaBroker) Close() error {
	var firstErr error
	for _, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
