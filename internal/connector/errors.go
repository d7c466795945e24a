package connector

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of retry and job-failure
// propagation, per spec.md §7.
type Kind int

const (
	// KindTransient covers network timeouts, 5xx, broker leadership
	// changes, and Mongo transient transaction errors. Retried with
	// exponential backoff capped by max_retries.
	KindTransient Kind = iota
	// KindSchema covers SchemaMissing, SchemaValidation, SchemaFetch.
	// Treated as configuration errors: poisons the current record and
	// fails the job.
	KindSchema
	// KindFatalSource covers Mongo invalidate/drop, Kafka authorization
	// revocation, Pub/Sub permission loss. Transitions the job to Failed
	// without advancing the checkpoint.
	KindFatalSource
	// KindSinkPermanent covers 4xx client errors other than 408/429 and
	// Mongo duplicate-key in insert mode. Fails the job.
	KindSinkPermanent
	// KindInternalInvariant covers configuration that violates the
	// encoding-chain or schema-inheritance invariants (rejected at job
	// start), and runtime failures such as unsupported conversions,
	// malformed checkpoint tokens, and unclassified errors.
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindSchema:
		return "schema"
	case KindFatalSource:
		return "fatal_source"
	case KindSinkPermanent:
		return "sink_permanent"
	case KindInternalInvariant:
		return "internal_invariant"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so the driver and job
// supervisor can decide whether to retry, poison the record, or fail the
// job without re-inspecting the original error's type.
type Error struct {
	Kind  Kind
	Op    string // component/operation that produced the error, e.g. "source.mongo"
	Cause error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

func Transient(op string, cause error) *Error        { return newErr(KindTransient, op, cause) }
func FatalSource(op string, cause error) *Error       { return newErr(KindFatalSource, op, cause) }
func SinkPermanent(op string, cause error) *Error     { return newErr(KindSinkPermanent, op, cause) }
func InternalInvariant(op string, cause error) *Error { return newErr(KindInternalInvariant, op, cause) }

// Schema error sentinels, per spec.md §4.3/§7.
var (
	ErrSchemaMissing    = errors.New("schema missing")
	ErrSchemaValidation = errors.New("schema validation failed")
	ErrSchemaFetch      = errors.New("schema fetch failed")
)

func SchemaMissing(op string) *Error    { return newErr(KindSchema, op, ErrSchemaMissing) }
func SchemaValidation(op, detail string) *Error {
	return newErr(KindSchema, op, fmt.Errorf("%w: %s", ErrSchemaValidation, detail))
}
func SchemaFetch(op string, cause error) *Error {
	return newErr(KindSchema, op, fmt.Errorf("%w: %v", ErrSchemaFetch, cause))
}

// IsRetryable reports whether an error's Kind should be retried by the
// caller rather than surfaced as a job failure. Only KindTransient errors
// are retryable; everything else propagates.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	return false
}

// KindOf extracts the Kind of a connector error, defaulting to
// KindInternalInvariant for errors that were never classified (a
// programming error surfacing an un-wrapped cause).
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternalInvariant
}
