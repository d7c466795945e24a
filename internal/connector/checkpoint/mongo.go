package checkpoint

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.flowcatalyst.tech/internal/connector"
)

// checkpointDoc mirrors the Mongo-backed checkpoint document format from
// spec.md §6: { _id: job_name, token: <bytes>, updated_at: <ts>, source_ts: <ts> }.
type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Token     []byte    `bson:"token"`
	UpdatedAt time.Time `bson:"updated_at"`
	SourceTS  time.Time `bson:"source_ts"`
}

// MongoStore persists checkpoints in a Mongo collection, generalized from
// internal/stream/watcher.go's MongoCheckpointStore from "resume token
// only" to the opaque-bytes-plus-source_ts shape spec.md §3 defines.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore returns a checkpoint Store over db's "stream_checkpoints"
// collection. The collection name is fixed; CheckpointConfig.Collection is
// not consulted.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("stream_checkpoints")}
}

func (s *MongoStore) Load(ctx context.Context, job string) (*Checkpoint, error) {
	var doc checkpointDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": job}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, connector.Transient("checkpoint.mongo.load", fmt.Errorf("load checkpoint %s: %w", job, err))
	}
	if len(doc.Token) == 0 {
		return nil, nil
	}
	return &Checkpoint{
		Token:     connector.CheckpointToken(doc.Token),
		UpdatedAt: doc.UpdatedAt,
		SourceTS:  doc.SourceTS,
	}, nil
}

func (s *MongoStore) Save(ctx context.Context, job string, token connector.CheckpointToken, sourceTS time.Time) error {
	filter := bson.M{"_id": job}
	update := bson.M{
		"$set": bson.M{
			"token":      []byte(token),
			"updated_at": time.Now(),
			"source_ts":  sourceTS,
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := s.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return connector.Transient("checkpoint.mongo.save", fmt.Errorf("save checkpoint %s: %w", job, err))
	}
	return nil
}
