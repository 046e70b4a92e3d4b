package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes announcements to Kafka. The message channel selects the topic.
type KafkaNotifier struct {
	writer       messageWriter
	defaultTopic string
	now          func() time.Time
}

type kafkaEnvelope struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// NewKafkaNotifier creates a notifier writing to brokers. Messages without a channel go to topic.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is empty")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newKafkaNotifier(w, topic), nil
}

func newKafkaNotifier(w messageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, defaultTopic: topic, now: time.Now}
}

func (k *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	topic := msg.Channel
	if topic == "" {
		topic = k.defaultTopic
	}
	value, err := json.Marshal(kafkaEnvelope{Title: msg.Title, Body: msg.Body, SentAt: k.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode kafka message: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(msg.Title),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
