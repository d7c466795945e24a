package sink

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"

	"go.flowcatalyst.tech/internal/connector"
)

// PubSubSink publishes a record's payload with its attributes, per
// spec.md §4.6 and the Pub/Sub attribute contract in §6 (operation_type,
// database, collection for Mongo-origin events, merged with any
// middleware-added attributes).
type PubSubSink struct {
	Topic *pubsub.Topic
	Retry RetryPolicy // zero value defaults to DefaultRetryPolicy
}

func (s *PubSubSink) Write(ctx context.Context, record *connector.PipelineRecord) (Acknowledgement, error) {
	var id string
	err := s.retryPolicy().Do(ctx, func(ctx context.Context) error {
		result := s.Topic.Publish(ctx, &pubsub.Message{
			Data:       record.DecodedValue,
			Attributes: record.Attributes,
		})
		got, err := result.Get(ctx)
		if err != nil {
			return connector.Transient("sink.pubsub.write", fmt.Errorf("publish: %w", err))
		}
		id = got
		return nil
	})
	if err != nil {
		return Acknowledgement{}, err
	}
	return Acknowledgement{Detail: id}, nil
}

func (s *PubSubSink) retryPolicy() RetryPolicy {
	if s.Retry.MaxRetries == 0 && s.Retry.BaseBackoff == 0 {
		return DefaultRetryPolicy()
	}
	return s.Retry
}
