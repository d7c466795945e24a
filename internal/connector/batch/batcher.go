// Package batch folds a run of source-ordered PipelineRecords into larger
// PipelineRecords according to a connector's batch policy.
package batch

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	"go.flowcatalyst.tech/internal/connector"
)

// Batcher accumulates records until a count threshold is reached, then
// folds them into one PipelineRecord: a JSON batch becomes a bare JSON
// array, any other encoding a BSON {items: [...]} document. Grounded on
// the fixed-size accumulation loop that the deleted watcher.go's
// processBatch used for change-stream events; a time-bound flush (the
// teacher's batch ticker) is deliberately not carried over — see
// DESIGN.md's open-question decisions.
type Batcher struct {
	policy connector.BatchPolicy
	buf    []*connector.PipelineRecord
}

func NewBatcher(policy connector.BatchPolicy) *Batcher {
	size := policy.Size
	if size < 1 {
		size = 1
	}
	return &Batcher{
		policy: connector.BatchPolicy{Kind: policy.Kind, Size: size},
		buf:    make([]*connector.PipelineRecord, 0, size),
	}
}

// Add appends a record to the in-progress batch. It returns a folded
// PipelineRecord once the batch reaches its configured size, or nil
// otherwise.
func (b *Batcher) Add(rec *connector.PipelineRecord) (*connector.PipelineRecord, error) {
	b.buf = append(b.buf, rec)
	if len(b.buf) < b.policy.Size {
		return nil, nil
	}
	return b.flush()
}

// Flush folds and returns whatever is currently buffered, even if the
// batch has not reached its configured size. Used when a source drains or
// a job is stopping and partial progress must not be discarded.
func (b *Batcher) Flush() (*connector.PipelineRecord, error) {
	if len(b.buf) == 0 {
		return nil, nil
	}
	return b.flush()
}

func (b *Batcher) flush() (*connector.PipelineRecord, error) {
	batch := b.buf
	b.buf = make([]*connector.PipelineRecord, 0, b.policy.Size)

	if len(batch) == 1 {
		return batch[0], nil
	}

	checkpoints := make([]connector.CheckpointToken, 0, len(batch))
	attrs := map[string]string{}
	for _, rec := range batch {
		checkpoints = append(checkpoints, rec.Checkpoints...)
		for k, v := range rec.Attributes {
			attrs[k] = v
		}
	}
	sourceTS := batch[len(batch)-1].SourceTS

	var framed []byte
	var enc connector.Encoding
	var err error

	switch batch[0].Encoding {
	case connector.EncodingJSON:
		framed, err = asJSONArray(batch)
		enc = connector.EncodingJSON
	default:
		// BSON, Avro, and Other all fold into the one framing this system
		// can represent generically: a BSON {items:[...]} document. For a
		// Mongo-bound sink this is exactly spec.md §4.4's required shape;
		// for anything else the per-sink conversion step re-encodes it,
		// so the record is labeled bson honestly rather than keeping the
		// pre-batch encoding it no longer carries.
		framed, err = asBSONItems(batch)
		enc = connector.EncodingBSON
	}
	if err != nil {
		return nil, connector.InternalInvariant("batch.flush", err)
	}

	return &connector.PipelineRecord{
		DecodedValue: framed,
		Encoding:     enc,
		Attributes:   attrs,
		SourceTS:     sourceTS,
		Checkpoints:  checkpoints,
	}, nil
}

// asBSONItems frames a batch as a BSON {items:[...]} document. Non-bson
// payloads are wrapped under a "value" field since they cannot appear as a
// bare bson.Raw element.
func asBSONItems(batch []*connector.PipelineRecord) ([]byte, error) {
	items := make([]bson.Raw, 0, len(batch))
	for _, rec := range batch {
		if rec.Encoding == connector.EncodingBSON {
			items = append(items, bson.Raw(rec.DecodedValue))
			continue
		}
		doc, err := bson.Marshal(bson.M{"value": string(rec.DecodedValue)})
		if err != nil {
			return nil, err
		}
		items = append(items, doc)
	}
	return bson.Marshal(bson.M{"items": items})
}

// asJSONArray frames a batch of JSON-encoded records as a bare JSON array,
// per spec.md §4.4's "an array in the configured encoding" non-Mongo case.
func asJSONArray(batch []*connector.PipelineRecord) ([]byte, error) {
	items := make([]json.RawMessage, len(batch))
	for i, rec := range batch {
		items[i] = json.RawMessage(rec.DecodedValue)
	}
	return json.Marshal(items)
}
