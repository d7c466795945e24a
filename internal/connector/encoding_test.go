package connector

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestConvertBSONRoundTrip(t *testing.T) {
	original, err := bson.Marshal(bson.M{"_id": "1", "name": "A"})
	require.NoError(t, err)

	asJSON, err := Convert(original, EncodingBSON, EncodingJSON, nil)
	require.NoError(t, err)
	require.NotEmpty(t, asJSON)

	back, err := Convert(asJSON, EncodingJSON, EncodingBSON, nil)
	require.NoError(t, err)

	var roundTripped bson.M
	require.NoError(t, bson.Unmarshal(back, &roundTripped))
	require.Equal(t, "A", roundTripped["name"])
}

func TestConvertOtherOnlyPassesThrough(t *testing.T) {
	_, err := Convert([]byte("raw"), EncodingOther, EncodingJSON, nil)
	require.Error(t, err)
	require.Equal(t, KindInternalInvariant, KindOf(err))

	out, err := Convert([]byte("raw"), EncodingOther, EncodingOther, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("raw"), out)
}

func TestConvertAvroRequiresSchema(t *testing.T) {
	original, err := bson.Marshal(bson.M{"name": "A"})
	require.NoError(t, err)

	_, err = Convert(original, EncodingBSON, EncodingAvro, nil)
	require.Error(t, err)
	require.Equal(t, KindSchema, KindOf(err))
}

func TestConvertBSONToAvroProjectsFields(t *testing.T) {
	schema := &SchemaRecord{
		Text:   `{"type":"record","name":"Person","fields":[{"name":"name","type":"string"}]}`,
		Fields: []string{"name"},
	}
	original, err := bson.Marshal(bson.M{"name": "John", "age": int32(30), "last_name": "Doe"})
	require.NoError(t, err)

	avroBytes, err := Convert(original, EncodingBSON, EncodingAvro, schema)
	require.NoError(t, err)
	require.NotEmpty(t, avroBytes)

	back, err := Convert(avroBytes, EncodingAvro, EncodingJSON, schema)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.UnmarshalExtJSON(back, false, &m))
	require.Equal(t, "John", m["name"])
	_, hasAge := m["age"]
	require.False(t, hasAge)
}

func TestProjectSchemaIsIdempotent(t *testing.T) {
	schema := &SchemaRecord{Fields: []string{"name"}}
	m := map[string]any{"name": "A", "age": 1}

	once, err := ProjectSchema(m, schema)
	require.NoError(t, err)

	twice, err := ProjectSchema(once, schema)
	require.NoError(t, err)

	require.Equal(t, once, twice)
}
