package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"go.flowcatalyst.tech/internal/connector"
)

// KafkaAdapter joins a Kafka topic as a plain reader (not a consumer
// group, so this job's offsets are independent of any other consumer),
// generalized from the teacher's internal/queue Consumer interface shape
// to a pull-based ordered source per spec.md §4.1.
type KafkaAdapter struct {
	// Brokers is the bootstrap broker list, taken from the kafka service's
	// dotted client-config key/value pairs at config-load time.
	Brokers []string
	// OffsetSeekBackSeconds, when set, always wins over a stored
	// checkpoint: the adapter seeks to now-N instead of resuming.
	OffsetSeekBackSeconds int
	// MaxEventsPerSecond, when set, paces Next so a slow downstream sink
	// never has to build unbounded backpressure into the reader itself.
	// Zero means unlimited.
	MaxEventsPerSecond float64
}

func (a *KafkaAdapter) Open(ctx context.Context, spec connector.EndpointSpec, token connector.CheckpointToken) (Stream, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: a.Brokers,
		Topic:   spec.Ref.Resource,
		MaxWait: 1 * time.Second,
	})

	switch {
	case a.OffsetSeekBackSeconds > 0:
		// offset_seek_back_seconds always wins over a stored checkpoint,
		// per spec.md §4.1.
		at := time.Now().Add(-time.Duration(a.OffsetSeekBackSeconds) * time.Second)
		if err := reader.SetOffsetAt(ctx, at); err != nil {
			_ = reader.Close()
			return nil, connector.Transient("source.kafka.open", fmt.Errorf("seek %s to %s: %w", spec.Ref.Resource, at, err))
		}
	case len(token) > 0:
		partition, offset, err := decodeKafkaCheckpoint(token)
		if err != nil {
			_ = reader.Close()
			return nil, connector.InternalInvariant("source.kafka.open", err)
		}
		// kafka-go's plain Reader is single-partition; a multi-partition
		// job configures one adapter per partition upstream of this call.
		_ = partition
		if err := reader.SetOffset(offset); err != nil {
			_ = reader.Close()
			return nil, connector.Transient("source.kafka.open", fmt.Errorf("resume %s at offset %d: %w", spec.Ref.Resource, offset, err))
		}
	}

	inputEncoding := spec.InputEncoding
	if inputEncoding == "" {
		inputEncoding = connector.EncodingOther
	}

	var limiter *rate.Limiter
	if a.MaxEventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.MaxEventsPerSecond), 1)
	}

	return &kafkaStream{reader: reader, resource: spec.Ref.Resource, inputEncoding: inputEncoding, limiter: limiter}, nil
}

type kafkaStream struct {
	reader        *kafka.Reader
	resource      string
	inputEncoding connector.Encoding
	limiter       *rate.Limiter
}

func (s *kafkaStream) Next(ctx context.Context) (*connector.SourceEvent, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, nil
		}
	}

	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		if isKafkaAuthError(err) {
			return nil, connector.FatalSource("source.kafka.next", fmt.Errorf("authorization error on %s: %w", s.resource, err))
		}
		return nil, connector.Transient("source.kafka.next", err)
	}

	return &connector.SourceEvent{
		PayloadBytes:    msg.Value,
		PayloadEncoding: s.inputEncoding,
		Attributes: map[string]string{
			"topic":     msg.Topic,
			"partition": strconv.Itoa(msg.Partition),
			"offset":    strconv.FormatInt(msg.Offset, 10),
		},
		SourceTS:   msg.Time,
		Checkpoint: encodeKafkaCheckpoint(msg.Partition, msg.Offset),
	}, nil
}

func (s *kafkaStream) Close(ctx context.Context) error {
	return s.reader.Close()
}

func encodeKafkaCheckpoint(partition int, offset int64) connector.CheckpointToken {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(partition))
	binary.BigEndian.PutUint64(buf[4:12], uint64(offset))
	return buf
}

func decodeKafkaCheckpoint(token connector.CheckpointToken) (partition int, offset int64, err error) {
	if len(token) != 12 {
		return 0, 0, fmt.Errorf("malformed kafka checkpoint token (want 12 bytes, got %d)", len(token))
	}
	partition = int(binary.BigEndian.Uint32(token[0:4]))
	offset = int64(binary.BigEndian.Uint64(token[4:12]))
	return partition, offset, nil
}

func isKafkaAuthError(err error) bool {
	var kerr kafka.Error
	if ok := asKafkaError(err, &kerr); ok {
		switch kerr {
		case kafka.TopicAuthorizationFailed, kafka.GroupAuthorizationFailed, kafka.ClusterAuthorizationFailed:
			return true
		}
	}
	return false
}

func asKafkaError(err error, target *kafka.Error) bool {
	kerr, ok := err.(kafka.Error)
	if ok {
		*target = kerr
	}
	return ok
}
