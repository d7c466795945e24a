package sink

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.flowcatalyst.tech/internal/connector"
)

// WriteMode selects the Mongo sink's write semantics, per spec.md §4.6.
type WriteMode string

const (
	WriteModeInsert  WriteMode = "insert"
	WriteModeReplace WriteMode = "replace"
)

// MongoSink writes PipelineRecords to a Mongo collection, generalized from
// internal/stream/watcher.go's processBatch upsert-per-document loop to
// support both write modes and batched records.
type MongoSink struct {
	Collection *mongo.Collection
	Mode       WriteMode   // defaults to WriteModeInsert
	Retry      RetryPolicy // zero value defaults to DefaultRetryPolicy
}

func (s *MongoSink) Write(ctx context.Context, record *connector.PipelineRecord) (Acknowledgement, error) {
	if record.Encoding != connector.EncodingBSON {
		return Acknowledgement{}, connector.InternalInvariant("sink.mongo.write", fmt.Errorf("mongo sink requires bson input, got %s", record.Encoding))
	}

	docs, err := extractDocs(record.DecodedValue)
	if err != nil {
		return Acknowledgement{}, connector.InternalInvariant("sink.mongo.write", err)
	}

	mode := s.Mode
	if mode == "" {
		mode = WriteModeInsert
	}

	var ack Acknowledgement
	err = s.retryPolicy().Do(ctx, func(ctx context.Context) error {
		var writeErr error
		switch mode {
		case WriteModeInsert:
			ack, writeErr = s.insert(ctx, docs)
		case WriteModeReplace:
			ack, writeErr = s.replace(ctx, docs)
		default:
			return connector.InternalInvariant("sink.mongo.write", fmt.Errorf("unknown write_mode %q", mode))
		}
		return writeErr
	})
	if err != nil {
		return Acknowledgement{}, err
	}
	return ack, nil
}

func (s *MongoSink) retryPolicy() RetryPolicy {
	if s.Retry.MaxRetries == 0 && s.Retry.BaseBackoff == 0 {
		return DefaultRetryPolicy()
	}
	return s.Retry
}

func (s *MongoSink) insert(ctx context.Context, docs []bson.Raw) (Acknowledgement, error) {
	if len(docs) == 1 {
		_, err := s.Collection.InsertOne(ctx, docs[0])
		if err != nil {
			return Acknowledgement{}, classifyMongoWriteErr(err)
		}
		return Acknowledgement{Detail: "inserted 1"}, nil
	}

	toInsert := make([]any, len(docs))
	for i, d := range docs {
		toInsert[i] = d
	}
	_, err := s.Collection.InsertMany(ctx, toInsert, options.InsertMany().SetOrdered(true))
	if err != nil {
		return Acknowledgement{}, classifyMongoWriteErr(err)
	}
	return Acknowledgement{Detail: fmt.Sprintf("inserted %d", len(docs))}, nil
}

func (s *MongoSink) replace(ctx context.Context, docs []bson.Raw) (Acknowledgement, error) {
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		id := d.Lookup("_id")
		model := mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(d).
			SetUpsert(true)
		models = append(models, model)
	}
	_, err := s.Collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return Acknowledgement{}, classifyMongoWriteErr(err)
	}
	return Acknowledgement{Detail: fmt.Sprintf("replaced %d", len(docs))}, nil
}

// extractDocs returns the documents to write: a single document, or the
// items of a {"items": [...]} batch frame per spec.md §6.
func extractDocs(payload []byte) ([]bson.Raw, error) {
	var framed struct {
		Items []bson.Raw `bson:"items"`
	}
	if err := bson.Unmarshal(payload, &framed); err == nil && framed.Items != nil {
		return framed.Items, nil
	}
	return []bson.Raw{bson.Raw(payload)}, nil
}

func classifyMongoWriteErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return connector.SinkPermanent("sink.mongo.write", fmt.Errorf("duplicate key: %w", err))
	}
	if isMongoTransientErr(err) {
		return connector.Transient("sink.mongo.write", err)
	}
	return connector.SinkPermanent("sink.mongo.write", err)
}

type errorLabeler interface {
	HasErrorLabel(string) bool
}

func isMongoTransientErr(err error) bool {
	labeled, ok := err.(errorLabeler)
	if !ok {
		return false
	}
	return labeled.HasErrorLabel("TransientTransactionError") || labeled.HasErrorLabel("RetryableWriteError")
}
