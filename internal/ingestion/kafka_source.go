package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"stockwise-ml/internal/domain"
)

// DefaultGroupID is the consumer group the service joins.
const DefaultGroupID = "ml-service-group"

// KafkaConfig holds Kafka consumer settings.
type KafkaConfig struct {
	Brokers []string
	GroupID string   // default: ml-service-group
	Topics  []string // default: order-events, inventory-updates
	MaxWait time.Duration
	Logger  *log.Logger
}

// KafkaSource consumes order and inventory topics through a consumer group.
// Offsets are committed only after a message is acknowledged.
type KafkaSource struct {
	reader *kafka.Reader
	logger *log.Logger
}

var _ Source = (*KafkaSource)(nil)

// NewKafkaSource creates a consumer group reader.
func NewKafkaSource(cfg KafkaConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = DefaultGroupID
	}
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{domain.TopicOrderEvents, domain.TopicInventoryUpdates}
	}
	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     maxWait,
		StartOffset: kafka.FirstOffset,
	})
	return &KafkaSource{reader: reader, logger: logger}, nil
}

// Subscribe starts fetching messages. Fetch errors other than cancellation
// are logged and retried after a short delay.
func (s *KafkaSource) Subscribe(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message, 100)

	go func() {
		defer close(out)
		for {
			km, err := s.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				s.logger.Printf("kafka fetch: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
					continue
				}
			}

			msg := Message{
				Topic:      km.Topic,
				Payload:    km.Value,
				Position:   fmt.Sprintf("%d:%d", km.Partition, km.Offset),
				ReceivedAt: km.Time,
				ack: func() error {
					return s.reader.CommitMessages(context.Background(), km)
				},
			}
			if msg.ReceivedAt.IsZero() {
				msg.ReceivedAt = time.Now()
			}

			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close closes the reader and leaves the consumer group.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
