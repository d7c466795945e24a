package connector

import (
	"encoding/json"
	"fmt"

	"github.com/linkedin/goavro/v2"
	"go.mongodb.org/mongo-driver/bson"
)

// AvroFieldNames extracts the top-level field names from an Avro record
// schema's JSON text, so the schema cache and the encoder agree on what
// "the schema's fields" means for masking purposes.
func AvroFieldNames(avroText string) ([]string, error) {
	var parsed struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(avroText), &parsed); err != nil {
		return nil, fmt.Errorf("parse avro schema: %w", err)
	}
	names := make([]string, 0, len(parsed.Fields))
	for _, f := range parsed.Fields {
		names = append(names, f.Name)
	}
	return names, nil
}

// Convert transforms payload bytes from inEnc to outEnc, per the matrix in
// spec.md §4.3. schema is required whenever Avro appears on either side;
// passing nil when a schema is required yields SchemaMissing.
func Convert(payload []byte, inEnc, outEnc Encoding, schema *SchemaRecord) ([]byte, error) {
	if inEnc == outEnc {
		if inEnc == EncodingAvro {
			if schema == nil {
				return nil, SchemaMissing("encoding.convert")
			}
			if err := validateAvro(payload, schema); err != nil {
				return nil, err
			}
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}

	switch {
	case inEnc == EncodingOther || outEnc == EncodingOther:
		return nil, InternalInvariant("encoding.convert", fmt.Errorf("other encoding only supports other->other passthrough, got %s->%s", inEnc, outEnc))

	case inEnc == EncodingBSON && outEnc == EncodingJSON:
		return bsonToJSON(payload)

	case inEnc == EncodingJSON && outEnc == EncodingBSON:
		return jsonToBSON(payload)

	case inEnc == EncodingBSON && outEnc == EncodingAvro:
		if schema == nil {
			return nil, SchemaMissing("encoding.convert")
		}
		m, err := bsonToMap(payload)
		if err != nil {
			return nil, InternalInvariant("encoding.convert", err)
		}
		return mapToAvro(m, schema)

	case inEnc == EncodingJSON && outEnc == EncodingAvro:
		if schema == nil {
			return nil, SchemaMissing("encoding.convert")
		}
		m, err := jsonToMap(payload)
		if err != nil {
			return nil, InternalInvariant("encoding.convert", err)
		}
		return mapToAvro(m, schema)

	case inEnc == EncodingAvro && outEnc == EncodingJSON:
		if schema == nil {
			return nil, SchemaMissing("encoding.convert")
		}
		m, err := avroToMap(payload, schema)
		if err != nil {
			return nil, err
		}
		return mapToJSON(m)

	case inEnc == EncodingAvro && outEnc == EncodingBSON:
		if schema == nil {
			return nil, SchemaMissing("encoding.convert")
		}
		m, err := avroToMap(payload, schema)
		if err != nil {
			return nil, err
		}
		return mapToBSON(m)

	default:
		return nil, InternalInvariant("encoding.convert", fmt.Errorf("unsupported conversion %s->%s", inEnc, outEnc))
	}
}

// ProjectSchema masks a decoded map down to the fields a schema declares,
// dropping unknown fields. It is idempotent: projecting an already-projected
// map is a no-op.
func ProjectSchema(m map[string]any, schema *SchemaRecord) (map[string]any, error) {
	if schema == nil {
		return nil, SchemaMissing("encoding.project")
	}
	allowed := make(map[string]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		allowed[f] = struct{}{}
	}
	out := make(map[string]any, len(allowed))
	for k, v := range m {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func bsonToJSON(payload []byte) ([]byte, error) {
	var raw bson.Raw = payload
	ej, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, InternalInvariant("encoding.bson_to_json", err)
	}
	return ej, nil
}

func jsonToBSON(payload []byte) ([]byte, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(payload, false, &doc); err != nil {
		return nil, InternalInvariant("encoding.json_to_bson", err)
	}
	out, err := bson.Marshal(doc)
	if err != nil {
		return nil, InternalInvariant("encoding.json_to_bson", err)
	}
	return out, nil
}

func bsonToMap(payload []byte) (map[string]any, error) {
	var m bson.M
	if err := bson.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return map[string]any(m), nil
}

func mapToBSON(m map[string]any) ([]byte, error) {
	out, err := bson.Marshal(bson.M(m))
	if err != nil {
		return nil, InternalInvariant("encoding.map_to_bson", err)
	}
	return out, nil
}

func jsonToMap(payload []byte) (map[string]any, error) {
	var m bson.M
	if err := bson.UnmarshalExtJSON(payload, false, &m); err != nil {
		return nil, err
	}
	return map[string]any(m), nil
}

func mapToJSON(m map[string]any) ([]byte, error) {
	out, err := bson.MarshalExtJSON(bson.M(m), false, false)
	if err != nil {
		return nil, InternalInvariant("encoding.map_to_json", err)
	}
	return out, nil
}

func mapToAvro(m map[string]any, schema *SchemaRecord) ([]byte, error) {
	projected, err := ProjectSchema(m, schema)
	if err != nil {
		return nil, err
	}
	for _, f := range schema.Fields {
		if _, ok := projected[f]; !ok {
			return nil, SchemaValidation("encoding.map_to_avro", fmt.Sprintf("missing required field %q", f))
		}
	}
	codec, err := goavro.NewCodec(schema.Text)
	if err != nil {
		return nil, SchemaFetch("encoding.map_to_avro", err)
	}
	out, err := codec.BinaryFromNative(nil, projected)
	if err != nil {
		return nil, SchemaValidation("encoding.map_to_avro", err.Error())
	}
	return out, nil
}

func avroToMap(payload []byte, schema *SchemaRecord) (map[string]any, error) {
	codec, err := goavro.NewCodec(schema.Text)
	if err != nil {
		return nil, SchemaFetch("encoding.avro_to_map", err)
	}
	native, _, err := codec.NativeFromBinary(payload)
	if err != nil {
		return nil, SchemaValidation("encoding.avro_to_map", err.Error())
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, InternalInvariant("encoding.avro_to_map", fmt.Errorf("unexpected avro native type %T", native))
	}
	return m, nil
}

func validateAvro(payload []byte, schema *SchemaRecord) error {
	codec, err := goavro.NewCodec(schema.Text)
	if err != nil {
		return SchemaFetch("encoding.validate_avro", err)
	}
	if _, _, err := codec.NativeFromBinary(payload); err != nil {
		return SchemaValidation("encoding.validate_avro", err.Error())
	}
	return nil
}
