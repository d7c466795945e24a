// Package middleware implements the connector engine's middleware chain:
// HTTP transformers and sandboxed-script (UDF) transformers. Each
// middleware is a pure transform from (payload, attributes) in the
// previous step's output_encoding to (payload, attributes) in its own
// declared output_encoding.
package middleware

import (
	"context"

	"go.flowcatalyst.tech/internal/connector"
)

// Middleware transforms a payload and its attributes. Execution within a
// connector's chain is strictly sequential, in declared-list order, per
// spec.md §4.5.
type Middleware interface {
	Transform(ctx context.Context, payload []byte, attributes map[string]string) ([]byte, map[string]string, error)
}
