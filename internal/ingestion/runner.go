// Package ingestion consumes upstream order and inventory messages and records
// them as inventory events.
package ingestion

import (
	"context"
	"errors"
	"log"
	"time"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/observability"
	"stockwise-ml/internal/storage"
)

// ErrSourceClosed is returned by Run when the source closes its channel
// before the context is cancelled.
var ErrSourceClosed = errors.New("source channel closed")

// EventRecorder persists an event and applies it to cached features.
type EventRecorder interface {
	Record(ctx context.Context, e *domain.Event) error
}

// StaleMarker is notified for every product that received a new event.
type StaleMarker interface {
	MarkStale(productID string)
}

// Runner drains a source into the feature store.
type Runner struct {
	source   Source
	recorder EventRecorder
	stale    StaleMarker
	logger   *log.Logger
	verbose  bool
	now      func() time.Time
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source   Source
	Recorder EventRecorder
	Stale    StaleMarker // optional
	Logger   *log.Logger
	Verbose  bool
	Clock    func() time.Time // default: time.Now
}

// Stats counts what a Runner processed.
type Stats struct {
	Messages int
	Events   int
	Dropped  int
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Runner{
		source:   opts.Source,
		recorder: opts.Recorder,
		stale:    opts.Stale,
		logger:   logger,
		verbose:  opts.Verbose,
		now:      now,
	}
}

// Run consumes messages until ctx is cancelled or the source closes its channel.
// Malformed messages are logged, counted and dropped.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	msgs, err := r.source.Subscribe(ctx)
	if err != nil {
		return stats, err
	}
	r.logger.Println("Ingestion runner started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Printf("Runner stopping: %d messages, %d events, %d dropped",
				stats.Messages, stats.Events, stats.Dropped)
			return stats, ctx.Err()

		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				return stats, ErrSourceClosed
			}
			stats.Messages++
			n, err := r.Handle(ctx, msg)
			stats.Events += n
			if err != nil {
				stats.Dropped++
			}
		}
	}
}

// Handle decodes one message and records its events. The message is
// acknowledged unless recording failed for a reason other than a duplicate,
// so a redelivery retries it. Returns the number of events recorded.
func (r *Runner) Handle(ctx context.Context, msg Message) (int, error) {
	topic := topicLabel(msg.Topic)

	events, err := Decode(msg)
	if err != nil {
		r.logger.Printf("drop message topic=%q: %v", msg.Topic, err)
		observability.RecordEventDropped(topic, "malformed")
		r.ack(msg)
		return 0, err
	}

	recorded := 0
	for _, e := range events {
		if err := r.recorder.Record(ctx, e); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				observability.RecordEventDropped(topic, "duplicate")
				continue
			}
			if errors.Is(err, storage.ErrInvalidInput) {
				observability.RecordEventDropped(topic, "invalid")
				continue
			}
			r.logger.Printf("record event %s product=%s: %v", e.ID, e.ProductID, err)
			observability.RecordEventDropped(topic, "store_error")
			return recorded, err
		}
		recorded++
		observability.RecordEventIngested(topic, float64(r.now().Unix()))
		if r.stale != nil {
			r.stale.MarkStale(e.ProductID)
		}
		if r.verbose {
			r.logger.Printf("recorded %s %d for %s", e.Action, e.Quantity, e.ProductID)
		}
	}

	r.ack(msg)
	return recorded, nil
}

func (r *Runner) ack(msg Message) {
	if err := msg.Ack(); err != nil {
		r.logger.Printf("ack message topic=%q position=%s: %v", msg.Topic, msg.Position, err)
	}
}

// topicLabel bounds metric label cardinality to the known topics.
func topicLabel(topic string) string {
	switch topic {
	case domain.TopicOrderEvents, domain.TopicInventoryUpdates:
		return topic
	default:
		return "unknown"
	}
}
