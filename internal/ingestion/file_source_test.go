package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/features"
	"stockwise-ml/internal/storage/memory"
)

const capture = `{"topic":"order-events","payload":{"event_type":"ORDER_FULFILLED","items":[{"product_id":"p1","quantity":2}]},"received_at":"2024-03-01T09:00:00Z"}

{"topic":"inventory-updates","payload":{"product_id":"p1","delta":5},"received_at":"2024-03-02T09:00:00Z"}
garbage
`

func writeCapture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func drain(t *testing.T, ch <-chan Message) []Message {
	t.Helper()
	var msgs []Message
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		case <-timeout:
			t.Fatal("capture was not drained")
		}
	}
}

func TestFileSource_ReadsEnvelopes(t *testing.T) {
	source, err := NewFileSource(writeCapture(t, capture))
	require.NoError(t, err)
	defer source.Close()

	ch, err := source.Subscribe(context.Background())
	require.NoError(t, err)
	msgs := drain(t, ch)

	require.Len(t, msgs, 3, "blank line skipped")
	assert.Equal(t, domain.TopicOrderEvents, msgs[0].Topic)
	assert.Equal(t, "capture.jsonl:1", msgs[0].Position)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), msgs[0].ReceivedAt.UTC())

	assert.Equal(t, domain.TopicInventoryUpdates, msgs[1].Topic)
	assert.Equal(t, "capture.jsonl:3", msgs[1].Position)

	assert.Empty(t, msgs[2].Topic, "undecodable line has no topic")
	_, err = Decode(msgs[2])
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestFileSource_MissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}

func TestFileSource_ReplayIsIdempotent(t *testing.T) {
	path := writeCapture(t, capture)
	events := memory.NewEventStore()
	store := features.NewStore(features.Options{
		Events: events,
		Clock:  func() time.Time { return received },
		Logger: testLogger(),
	})

	for pass := 0; pass < 2; pass++ {
		source, err := NewFileSource(path)
		require.NoError(t, err)

		runner := NewRunner(RunnerOptions{Source: source, Recorder: store, Logger: testLogger()})
		stats, err := runner.Run(context.Background())
		require.ErrorIs(t, err, ErrSourceClosed)
		require.NoError(t, source.Close())

		assert.Equal(t, 3, stats.Messages)
		assert.Equal(t, 1, stats.Dropped)
	}

	aggs, err := events.DailyAggregates(context.Background(), "p1", time.Time{})
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, 2.0, aggs[0].Sales)
	assert.Equal(t, 5.0, aggs[1].Purchases)
}
