package connector

import "fmt"

// ValidateSpec checks the invariants from spec.md §3 at job-start time:
// every step's effective input encoding must equal the previous step's
// output encoding, and whenever Avro appears, the effective schema_id must
// resolve via the inheritance rule (a step without schema_id inherits the
// most recent upstream schema_id). Violations are rejected here, never at
// runtime, matching spec.md §7's KindInternalInvariant policy.
//
// ValidateSpec also writes the resolved effective schema_id back onto each
// middleware/sink EndpointSpec it inherited from, so the runtime driver's
// resolveSchema never has to re-walk the inheritance chain: by the time a
// spec passes validation, every step's SchemaID field already holds the
// id it actually resolves to.
func ValidateSpec(spec *ConnectorSpec) error {
	if spec.Name == "" {
		return InternalInvariant("validate.spec", fmt.Errorf("connector name is required"))
	}
	if spec.Source.OutputEncoding == "" {
		return InternalInvariant("validate.spec", fmt.Errorf("%s: source output_encoding is required", spec.Name))
	}

	upstreamEnc := spec.Source.OutputEncoding
	upstreamSchema := spec.Source.SchemaID

	if err := checkSchemaResolves(spec, "source", upstreamEnc, upstreamSchema); err != nil {
		return err
	}

	for i, mw := range spec.Middlewares {
		op := fmt.Sprintf("middleware[%d]", i)
		effIn := mw.InputEncoding
		if effIn == "" {
			effIn = upstreamEnc
		}
		if effIn != upstreamEnc {
			return InternalInvariant("validate.spec", fmt.Errorf("%s: %s effective input encoding %s does not match upstream output encoding %s", spec.Name, op, effIn, upstreamEnc))
		}
		if mw.OutputEncoding == "" {
			return InternalInvariant("validate.spec", fmt.Errorf("%s: %s output_encoding is required", spec.Name, op))
		}
		schemaID := mw.SchemaID
		if schemaID == "" {
			schemaID = upstreamSchema
		}
		if err := checkSchemaResolves(spec, op, mw.OutputEncoding, schemaID); err != nil {
			return err
		}
		spec.Middlewares[i].SchemaID = schemaID
		upstreamEnc = mw.OutputEncoding
		upstreamSchema = schemaID
	}

	if len(spec.Sinks) == 0 {
		return InternalInvariant("validate.spec", fmt.Errorf("%s: at least one sink is required", spec.Name))
	}
	for i, sink := range spec.Sinks {
		op := fmt.Sprintf("sink[%d]", i)
		effIn := sink.InputEncoding
		if effIn == "" {
			effIn = upstreamEnc
		}
		if effIn != upstreamEnc {
			return InternalInvariant("validate.spec", fmt.Errorf("%s: %s effective input encoding %s does not match upstream output encoding %s", spec.Name, op, effIn, upstreamEnc))
		}
		schemaID := sink.SchemaID
		if schemaID == "" {
			schemaID = upstreamSchema
		}
		if err := checkSchemaResolves(spec, op, effIn, schemaID); err != nil {
			return err
		}
		if sink.OutputEncoding != "" {
			if err := checkSchemaResolves(spec, op, sink.OutputEncoding, schemaID); err != nil {
				return err
			}
		}
		spec.Sinks[i].SchemaID = schemaID
	}

	return nil
}

func checkSchemaResolves(spec *ConnectorSpec, op string, enc Encoding, schemaID SchemaID) error {
	if enc != EncodingAvro {
		return nil
	}
	if schemaID == "" {
		return InternalInvariant("validate.spec", fmt.Errorf("%s: %s uses avro encoding but no schema_id resolves", spec.Name, op))
	}
	if _, ok := spec.Schemas[schemaID]; !ok {
		return InternalInvariant("validate.spec", fmt.Errorf("%s: %s references undeclared schema_id %q", spec.Name, op, schemaID))
	}
	return nil
}
