package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"golang.org/x/time/rate"

	"go.flowcatalyst.tech/internal/connector"
)

// PubSubAdapter performs a streaming-pull from a Pub/Sub subscription. Per
// spec.md §4.1 it has no durable resume point: checkpointing is not
// supported for this source, so Open ignores any checkpoint it is handed.
type PubSubAdapter struct {
	Client *pubsub.Client
	// MaxEventsPerSecond, when set, paces Next so a slow downstream sink
	// never has to build unbounded backpressure into the subscription's
	// own flow control. Zero means unlimited.
	MaxEventsPerSecond float64
}

func (a *PubSubAdapter) Open(ctx context.Context, spec connector.EndpointSpec, _ connector.CheckpointToken) (Stream, error) {
	if spec.InputEncoding == "" {
		return nil, connector.InternalInvariant("source.pubsub.open", fmt.Errorf("pubsub source %s requires input_encoding", spec.Ref.Resource))
	}

	sub := a.Client.Subscription(spec.Ref.Resource)

	streamCtx, cancel := context.WithCancel(context.Background())
	events := make(chan *connector.SourceEvent, 64)
	errs := make(chan error, 1)

	var once sync.Once
	done := make(chan struct{})

	go func() {
		defer close(events)
		err := sub.Receive(streamCtx, func(_ context.Context, msg *pubsub.Message) {
			attrs := make(map[string]string, len(msg.Attributes))
			for k, v := range msg.Attributes {
				attrs[k] = v
			}
			select {
			case events <- &connector.SourceEvent{
				PayloadBytes:    msg.Data,
				PayloadEncoding: spec.InputEncoding,
				Attributes:      attrs,
				SourceTS:        msg.PublishTime,
				Checkpoint:      nil,
			}:
				msg.Ack()
			case <-done:
				msg.Nack()
			}
		})
		if err != nil && streamCtx.Err() == nil {
			errs <- err
		}
		once.Do(func() { close(errs) })
	}()

	var limiter *rate.Limiter
	if a.MaxEventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.MaxEventsPerSecond), 1)
	}

	return &pubsubStream{cancel: cancel, events: events, errs: errs, done: done, resource: spec.Ref.Resource, limiter: limiter}, nil
}

type pubsubStream struct {
	cancel   context.CancelFunc
	events   chan *connector.SourceEvent
	errs     chan error
	done     chan struct{}
	resource string
	limiter  *rate.Limiter
}

func (s *pubsubStream) Next(ctx context.Context) (*connector.SourceEvent, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, nil
		}
	}

	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, nil
		}
		return ev, nil
	case err, ok := <-s.errs:
		if ok && err != nil {
			if isPubSubPermissionError(err) {
				return nil, connector.FatalSource("source.pubsub.next", fmt.Errorf("permission loss on %s: %w", s.resource, err))
			}
			return nil, connector.Transient("source.pubsub.next", err)
		}
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}
}

func (s *pubsubStream) Close(ctx context.Context) error {
	close(s.done)
	s.cancel()
	return nil
}

func isPubSubPermissionError(err error) bool {
	// Pub/Sub surfaces permission loss as a gRPC PermissionDenied status;
	// the status package is avoided here to keep this adapter's import
	// surface narrow, matching a substring check against the error text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permissiondenied") || strings.Contains(msg, "permission denied")
}
