package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.flowcatalyst.tech/internal/connector"
)

// fatalOperationTypes are the change-stream event types that terminate the
// source per spec.md §4.1: the job transitions to Failed and no checkpoint
// is written for the fatal event itself.
var fatalOperationTypes = map[string]bool{
	"invalidate":   true,
	"drop":         true,
	"dropDatabase": true,
}

// watchedOperationTypes are the ordinary data events the adapter yields as
// SourceEvents, plus the fatal types it must still observe in order to
// detect them.
var watchedOperationTypes = []string{"insert", "update", "delete", "invalidate", "drop", "dropDatabase"}

// MongoAdapter opens a change stream over a Mongo collection, generalized
// from internal/stream/watcher.go's Watcher: the same resume-token/fatal
// event handling, retargeted from "project to read model" to "yield
// uniform SourceEvent".
type MongoAdapter struct {
	Database *mongo.Database
}

func (a *MongoAdapter) Open(ctx context.Context, spec connector.EndpointSpec, token connector.CheckpointToken) (Stream, error) {
	coll := a.Database.Collection(spec.Ref.Resource)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": watchedOperationTypes}}}},
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(token) > 0 {
		opts.SetResumeAfter(bson.Raw(token))
	}
	// On open without a token, the driver naturally starts from "now".

	cs, err := coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, connector.Transient("source.mongo.open", fmt.Errorf("open change stream on %s: %w", spec.Ref.Resource, err))
	}

	return &mongoStream{changeStream: cs, resource: spec.Ref.Resource}, nil
}

type mongoStream struct {
	changeStream *mongo.ChangeStream
	resource     string
	fatal        error
}

type mongoChangeEvent struct {
	OperationType string         `bson:"operationType"`
	FullDocument  bson.Raw       `bson:"fullDocument"`
	DocumentKey   bson.Raw       `bson:"documentKey"`
	ClusterTime   bson.Timestamp `bson:"clusterTime"`
	Ns            struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

func (s *mongoStream) Next(ctx context.Context) (*connector.SourceEvent, error) {
	if s.fatal != nil {
		return nil, s.fatal
	}

	if !s.changeStream.TryNext(ctx) {
		if err := s.changeStream.Err(); err != nil {
			if isStaleResumeTokenError(err) {
				return nil, connector.FatalSource("source.mongo.next", fmt.Errorf("resume token invalid for %s: %w", s.resource, err))
			}
			return nil, connector.Transient("source.mongo.next", err)
		}
		// No event currently available; caller should poll again.
		return nil, nil
	}

	var ev mongoChangeEvent
	if err := s.changeStream.Decode(&ev); err != nil {
		return nil, connector.Transient("source.mongo.next", fmt.Errorf("decode change event: %w", err))
	}

	if fatalOperationTypes[ev.OperationType] {
		s.fatal = connector.FatalSource("source.mongo.next", fmt.Errorf("fatal change stream event %q on %s", ev.OperationType, s.resource))
		return nil, s.fatal
	}

	payload := ev.FullDocument
	if len(payload) == 0 {
		payload = ev.DocumentKey
	}

	sourceTS := time.Unix(int64(ev.ClusterTime.T), 0)

	return &connector.SourceEvent{
		PayloadBytes:    []byte(payload),
		PayloadEncoding: connector.EncodingBSON,
		Attributes: map[string]string{
			"operation_type": ev.OperationType,
			"database":       ev.Ns.DB,
			"collection":     ev.Ns.Coll,
		},
		SourceTS:   sourceTS,
		Checkpoint: connector.CheckpointToken(s.changeStream.ResumeToken()),
	}, nil
}

func (s *mongoStream) Close(ctx context.Context) error {
	return s.changeStream.Close(ctx)
}

// isStaleResumeTokenError detects the family of errors Mongo raises when a
// resume token can no longer be honored (oplog history lost, invalidate
// event already delivered), matching internal/stream/watcher.go's
// substring-based detection.
func isStaleResumeTokenError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "changestreamhistorylost") ||
		strings.Contains(msg, "resume token") ||
		strings.Contains(msg, "resume point") ||
		strings.Contains(msg, "oplog") ||
		strings.Contains(msg, "invalidate")
}
