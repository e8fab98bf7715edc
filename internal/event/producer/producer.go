// Package producer defines the interface for publishing committed events to the firehose (e.g. Kafka).
package producer

import (
	"context"

	"event-pulse/internal/event/domain"
)

// Producer publishes committed events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit publishes a single event. Implementations may block briefly; call from a goroutine if needed.
	// Returns an error only on write failure; callers typically log and ignore.
	Emit(ctx context.Context, e *domain.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
