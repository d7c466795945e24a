// Package source implements the connector engine's source adapters: Mongo
// change streams, plain Kafka topic readers, and Pub/Sub streaming pull. Each
// adapter yields a uniform SourceEvent stream and an opaque CheckpointToken.
package source

import (
	"context"

	"go.flowcatalyst.tech/internal/connector"
)

// Stream is the open handle an adapter returns from Open. Next returns the
// next SourceEvent, or an error. A (nil, nil) result means no event is
// available yet (an idle poll, a canceled wait, or a closed channel); the
// driver calls Next again. Close releases adapter resources.
type Stream interface {
	Next(ctx context.Context) (*connector.SourceEvent, error)
	Close(ctx context.Context) error
}

// Adapter opens a Stream for a configured source endpoint, resuming from
// the given checkpoint when one is available.
type Adapter interface {
	Open(ctx context.Context, spec connector.EndpointSpec, checkpoint connector.CheckpointToken) (Stream, error)
}
