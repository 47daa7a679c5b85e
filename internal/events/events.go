package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicUsers    = "user_events"
	TopicProducts = "product_events"
	TopicCart     = "cart_events"
	TopicOrders   = "order_events"
)

type Event struct {
	Type    string         `json:"type"`
	ActorID uint           `json:"actor_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, ev Event) error
	Close() error
}

// New returns a Kafka publisher, or a no-op one when brokers is empty.
func New(brokers []string, l *slog.Logger) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, l)
}

type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher returns an asynchronous publisher: Publish only enqueues,
// and delivery failures are reported to l once the batch gives up.
func NewKafkaPublisher(brokers []string, l *slog.Logger) *KafkaPublisher {
	if l == nil {
		l = slog.Default()
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  true,
		Completion:             completion(l),
	}}
}

func completion(l *slog.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		topics := make(map[string]int)
		for _, m := range msgs {
			topics[m.Topic]++
		}
		for topic, n := range topics {
			l.Warn("publish_failed", "topic", topic, "messages", n, "error", err)
		}
	}
}

func message(topic, key string, ev Event) (kafka.Message, error) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}
	return kafka.Message{Topic: topic, Key: []byte(key), Value: data, Time: ev.At}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, ev Event) error {
	msg, err := message(topic, key, ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write to %s failed: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

type Nop struct{}

func (Nop) Publish(context.Context, string, string, Event) error { return nil }
func (Nop) Close() error                                        { return nil }

type Published struct {
	Topic string
	Key   string
	Event Event
}

// Memory keeps published events in memory.
type Memory struct {
	mu     sync.Mutex
	events []Published
}

func (m *Memory) Publish(_ context.Context, topic, key string, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Published{Topic: topic, Key: key, Event: ev})
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Events() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.events...)
}

// Types lists the event types published to topic, in order.
func (m *Memory) Types(topic string) []string {
	var out []string
	for _, p := range m.Events() {
		if p.Topic == topic {
			out = append(out, p.Event.Type)
		}
	}
	return out
}
