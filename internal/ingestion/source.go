package ingestion

import "context"

// Source delivers raw upstream messages.
type Source interface {
	// Subscribe returns a channel of messages. The channel is closed when the
	// context is cancelled or the source fails permanently.
	Subscribe(ctx context.Context) (<-chan Message, error)

	// Close releases the source's connections.
	Close() error
}
