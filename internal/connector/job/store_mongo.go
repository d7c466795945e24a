package job

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.flowcatalyst.tech/internal/connector"
)

// jobDoc mirrors a ConnectorSpec for persistence, keyed by job name,
// grounded on internal/platform/dispatchpool/mongo_repository.go's
// _id-keyed document shape.
type jobDoc struct {
	ID               string                    `bson:"_id"`
	Enabled          bool                      `bson:"enabled"`
	CheckpointEnable bool                      `bson:"checkpoint_enable"`
	Batch            *batchDoc                 `bson:"batch,omitempty"`
	Source           endpointDoc               `bson:"source"`
	Schemas          map[string]resourceRefDoc `bson:"schemas,omitempty"`
	Middlewares      []endpointDoc             `bson:"middlewares,omitempty"`
	Sinks            []endpointDoc             `bson:"sinks"`
}

type batchDoc struct {
	Kind string `bson:"kind"`
	Size int    `bson:"size"`
}

type endpointDoc struct {
	ServiceName    string `bson:"service_name"`
	Resource       string `bson:"resource"`
	InputEncoding  string `bson:"input_encoding,omitempty"`
	OutputEncoding string `bson:"output_encoding"`
	SchemaID       string `bson:"schema_id,omitempty"`
}

type resourceRefDoc struct {
	ServiceName string `bson:"service_name"`
	Resource    string `bson:"resource"`
}

// MongoStore persists ConnectorSpecs in a Mongo collection (conventionally
// "connector_jobs"), satisfying the Manager's PersistedState interface so
// startup reconciliation (spec.md §4.8) survives a restart.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	return &MongoStore{collection: db.Collection(collection)}
}

func (s *MongoStore) LoadAll(ctx context.Context) ([]connector.ConnectorSpec, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []jobDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}

	specs := make([]connector.ConnectorSpec, 0, len(docs))
	for _, doc := range docs {
		specs = append(specs, specFromDoc(doc))
	}
	return specs, nil
}

func (s *MongoStore) Truncate(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("truncate jobs: %w", err)
	}
	return nil
}

func (s *MongoStore) Upsert(ctx context.Context, spec connector.ConnectorSpec) error {
	doc := docFromSpec(spec)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", spec.Name, err)
	}
	return nil
}

func (s *MongoStore) Remove(ctx context.Context, name string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return fmt.Errorf("remove job %s: %w", name, err)
	}
	return nil
}

func docFromSpec(spec connector.ConnectorSpec) jobDoc {
	doc := jobDoc{
		ID:               spec.Name,
		Enabled:          spec.Enabled,
		CheckpointEnable: spec.CheckpointEnable,
		Source:           endpointToDoc(spec.Source),
	}
	if spec.Batch != nil {
		doc.Batch = &batchDoc{Kind: spec.Batch.Kind, Size: spec.Batch.Size}
	}
	if len(spec.Schemas) > 0 {
		doc.Schemas = make(map[string]resourceRefDoc, len(spec.Schemas))
		for id, ref := range spec.Schemas {
			doc.Schemas[string(id)] = resourceRefDoc{ServiceName: ref.ServiceName, Resource: ref.Resource}
		}
	}
	for _, mw := range spec.Middlewares {
		doc.Middlewares = append(doc.Middlewares, endpointToDoc(mw))
	}
	for _, sk := range spec.Sinks {
		doc.Sinks = append(doc.Sinks, endpointToDoc(sk))
	}
	return doc
}

func specFromDoc(doc jobDoc) connector.ConnectorSpec {
	spec := connector.ConnectorSpec{
		Name:             doc.ID,
		Enabled:          doc.Enabled,
		CheckpointEnable: doc.CheckpointEnable,
		Source:           endpointFromDoc(doc.Source),
	}
	if doc.Batch != nil {
		spec.Batch = &connector.BatchPolicy{Kind: doc.Batch.Kind, Size: doc.Batch.Size}
	}
	if len(doc.Schemas) > 0 {
		spec.Schemas = make(map[connector.SchemaID]connector.ResourceReference, len(doc.Schemas))
		for id, ref := range doc.Schemas {
			spec.Schemas[connector.SchemaID(id)] = connector.ResourceReference{ServiceName: ref.ServiceName, Resource: ref.Resource}
		}
	}
	for _, mw := range doc.Middlewares {
		spec.Middlewares = append(spec.Middlewares, endpointFromDoc(mw))
	}
	for _, sk := range doc.Sinks {
		spec.Sinks = append(spec.Sinks, endpointFromDoc(sk))
	}
	return spec
}

func endpointToDoc(ep connector.EndpointSpec) endpointDoc {
	return endpointDoc{
		ServiceName:    ep.Ref.ServiceName,
		Resource:       ep.Ref.Resource,
		InputEncoding:  string(ep.InputEncoding),
		OutputEncoding: string(ep.OutputEncoding),
		SchemaID:       string(ep.SchemaID),
	}
}

func endpointFromDoc(doc endpointDoc) connector.EndpointSpec {
	return connector.EndpointSpec{
		Ref:            connector.ResourceReference{ServiceName: doc.ServiceName, Resource: doc.Resource},
		InputEncoding:  connector.Encoding(doc.InputEncoding),
		OutputEncoding: connector.Encoding(doc.OutputEncoding),
		SchemaID:       connector.SchemaID(doc.SchemaID),
	}
}
