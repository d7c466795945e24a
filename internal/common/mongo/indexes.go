package mongo

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexDefinition defines a MongoDB index
type IndexDefinition struct {
	Collection string
	Keys       bson.D
	Options    *options.IndexOptions
}

// IndexInitializer creates indexes on startup
type IndexInitializer struct {
	client *Client
}

// NewIndexInitializer creates a new index initializer
func NewIndexInitializer(client *Client) *IndexInitializer {
	return &IndexInitializer{client: client}
}

// Initialize creates all required indexes
func (i *IndexInitializer) Initialize(ctx context.Context) error {
	indexes := i.getIndexDefinitions()

	for _, idx := range indexes {
		if err := i.createIndex(ctx, idx); err != nil {
			slog.Warn("Failed to create index (may already exist)",
				"error", err,
				"collection", idx.Collection)
		}
	}

	slog.Info("Index initialization complete", "count", len(indexes))
	return nil
}

func (i *IndexInitializer) createIndex(ctx context.Context, idx IndexDefinition) error {
	collection := i.client.Collection(idx.Collection)

	indexModel := mongo.IndexModel{
		Keys:    idx.Keys,
		Options: idx.Options,
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

func (i *IndexInitializer) getIndexDefinitions() []IndexDefinition {
	return []IndexDefinition{
		// stream_checkpoints: one document per job, looked up by job name on
		// every checkpoint load/save.
		{
			Collection: "stream_checkpoints",
			Keys:       bson.D{{Key: "updated_at", Value: 1}},
		},

		// schema_cache: the system database's schema collection, fetched
		// by (resource) on every cache miss.
		{
			Collection: "schema_cache",
			Keys:       bson.D{{Key: "resource", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},

		// connector_jobs: the job lifecycle manager's persisted desired
		// state, reconciled against on startup.
		{
			Collection: "connector_jobs",
			Keys:       bson.D{{Key: "enabled", Value: 1}},
		},
	}
}
