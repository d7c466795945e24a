package schema

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.flowcatalyst.tech/internal/connector"
)

// mongoSchemaDoc mirrors the document shape stored in the collection a
// MongoFetcher is given (cmd/mstream passes the system database's
// schema_cache; a mongodb service's schema_collection parameter is not
// consulted): one document per resource with the raw Avro schema text and
// the list of top-level field names it declares.
type mongoSchemaDoc struct {
	Resource string   `bson:"resource"`
	Text     string   `bson:"text"`
	Fields   []string `bson:"fields"`
}

// MongoFetcher loads schema documents from a Mongo collection, grounded on
// internal/common/mongo.Client's Collection() accessor.
type MongoFetcher struct {
	Collection *mongo.Collection
}

func (f *MongoFetcher) Fetch(ctx context.Context, ref connector.ResourceReference) (string, []string, error) {
	var doc mongoSchemaDoc
	err := f.Collection.FindOne(ctx, bson.M{"resource": ref.Resource}).Decode(&doc)
	if err != nil {
		return "", nil, fmt.Errorf("fetch schema %s: %w", ref.Resource, err)
	}
	return doc.Text, doc.Fields, nil
}

// SchemaRegistryClient is the subset of cloud.google.com/go/pubsub's schema
// service this package depends on, narrowed so tests can fake it without
// standing up a real Pub/Sub project.
type SchemaRegistryClient interface {
	GetSchemaText(ctx context.Context, schemaID string) (string, error)
}

// PubSubFetcher loads schema text from the Pub/Sub Schema Registry. The
// resource reference's Resource field is the schema ID within the project.
type PubSubFetcher struct {
	Registry SchemaRegistryClient
	// FieldsOf extracts the top-level field names from a parsed Avro
	// schema's text, shared with the encoder so both agree on what
	// "the schema's fields" means.
	FieldsOf func(avroText string) ([]string, error)
}

func (f *PubSubFetcher) Fetch(ctx context.Context, ref connector.ResourceReference) (string, []string, error) {
	text, err := f.Registry.GetSchemaText(ctx, ref.Resource)
	if err != nil {
		return "", nil, fmt.Errorf("fetch pubsub schema %s: %w", ref.Resource, err)
	}
	fields, err := f.FieldsOf(text)
	if err != nil {
		return "", nil, fmt.Errorf("parse pubsub schema %s: %w", ref.Resource, err)
	}
	return text, fields, nil
}
