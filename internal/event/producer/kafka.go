package producer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"event-pulse/internal/event/domain"
)

// firehoseMessage is the wire shape published per committed event.
type firehoseMessage struct {
	EventID    string          `json:"eventId"`
	TenantID   string          `json:"tenantId"`
	Name       string          `json:"name"`
	UserID     *string         `json:"userId,omitempty"`
	SessionID  *string         `json:"sessionId,omitempty"`
	Attributes json.RawMessage `json:"attributes"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaProducer creates a Kafka producer that publishes committed events to the given topic.
// brokers must be non-empty. Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaProducer{writer: writer, topic: topic}, nil
}

// Emit serializes the event as JSON and writes it to the Kafka topic, keyed by
// tenant so one tenant's events stay ordered within a partition.
// Uses the request context with a short timeout so slow Kafka does not block callers indefinitely.
func (p *KafkaProducer) Emit(ctx context.Context, e *domain.Event) error {
	if p == nil || p.writer == nil || e == nil {
		return nil
	}
	attrs := e.Attributes
	if attrs == nil {
		attrs = []byte("{}")
	}
	payload, err := json.Marshal(firehoseMessage{
		EventID:    e.ID,
		TenantID:   e.TenantID,
		Name:       e.Name,
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		Attributes: attrs,
		CreatedAt:  e.CreatedAt,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(e.TenantID),
		Value: payload,
	})
	if err != nil {
		log.Printf("firehose: kafka emit failed: %v", err)
		return err
	}
	return nil
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
