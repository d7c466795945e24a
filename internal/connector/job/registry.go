// Package job implements the connector engine's Job Lifecycle Manager:
// the state machine, per-job supervisor goroutine tree, and the
// reference-counted service client registry that supervisors share.
package job

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.mongodb.org/mongo-driver/mongo"

	"go.flowcatalyst.tech/internal/connector"
)

// ClientHandle is the opened connection a service registry entry holds.
// Exactly one of the fields is set, selected by the descriptor's Provider.
type ClientHandle struct {
	Mongo  *mongo.Database
	Kafka  *kafkaHandle
	PubSub *pubsub.Client
}

// kafkaHandle bundles the broker list a Kafka-backed source/sink adapter
// needs; kafka-go opens per-topic readers/writers lazily rather than a
// single shared connection, so the registry just remembers the dial
// parameters.
type kafkaHandle struct {
	Brokers []string
}

type registryEntry struct {
	descriptor connector.ServiceDescriptor
	handle     ClientHandle
	refCount   int
}

// Registry is the in-process, reference-counted ServiceDescriptor -> client
// handle map named in SPEC_FULL.md §2 item 11. Acquire dials a service on
// its first reference and counts later ones; Release only lowers the
// count. Handles are never closed.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry

	dialMongo  func(ctx context.Context, params map[string]string) (*mongo.Database, error)
	dialPubSub func(ctx context.Context, params map[string]string) (*pubsub.Client, error)
}

func NewRegistry(
	dialMongo func(ctx context.Context, params map[string]string) (*mongo.Database, error),
	dialPubSub func(ctx context.Context, params map[string]string) (*pubsub.Client, error),
) *Registry {
	return &Registry{
		entries:    make(map[string]*registryEntry),
		dialMongo:  dialMongo,
		dialPubSub: dialPubSub,
	}
}

// Acquire opens (on first reference) or reuses (on subsequent references) a
// service's client handle, incrementing its reference count.
func (r *Registry) Acquire(ctx context.Context, desc connector.ServiceDescriptor) (ClientHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[desc.Name]; ok {
		entry.refCount++
		return entry.handle, nil
	}

	handle, err := r.dial(ctx, desc)
	if err != nil {
		return ClientHandle{}, connector.InternalInvariant("job.registry.acquire", err)
	}

	r.entries[desc.Name] = &registryEntry{descriptor: desc, handle: handle, refCount: 1}
	return handle, nil
}

// Release decrements a service's reference count; the handle itself is
// retained for the process lifetime (spec.md §3's "live for the process
// lifetime... or until removed via the management surface"), since the
// management surface that explicitly removes a service is an external
// collaborator this engine does not implement.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[name]; ok && entry.refCount > 0 {
		entry.refCount--
	}
}

// Provider returns the registered service's provider, used by the driver
// to resolve which schema fetcher applies to a schema reference's service.
func (r *Registry) Provider(name string) (connector.Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return entry.descriptor.Provider, true
}

// Providers snapshots the service-name -> provider map for every
// registered service, the shape the driver needs for schema resolution.
func (r *Registry) Providers() map[string]connector.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]connector.Provider, len(r.entries))
	for name, entry := range r.entries {
		out[name] = entry.descriptor.Provider
	}
	return out
}

func (r *Registry) dial(ctx context.Context, desc connector.ServiceDescriptor) (ClientHandle, error) {
	switch desc.Provider {
	case connector.ProviderMongo:
		db, err := r.dialMongo(ctx, desc.Params)
		if err != nil {
			return ClientHandle{}, err
		}
		return ClientHandle{Mongo: db}, nil

	case connector.ProviderKafka:
		brokers := kafkaBrokers(desc.Params)
		if len(brokers) == 0 {
			return ClientHandle{}, fmt.Errorf("service %q: kafka requires brokers", desc.Name)
		}
		return ClientHandle{Kafka: &kafkaHandle{Brokers: brokers}}, nil

	case connector.ProviderPubSub:
		client, err := r.dialPubSub(ctx, desc.Params)
		if err != nil {
			return ClientHandle{}, err
		}
		return ClientHandle{PubSub: client}, nil

	case connector.ProviderHTTP, connector.ProviderUDF:
		// HTTP and UDF services carry no shared client: a new
		// http.Client/goja.Runtime is constructed per endpoint inside the
		// sink/middleware package, so the registry only remembers that
		// the service name resolved.
		return ClientHandle{}, nil

	default:
		return ClientHandle{}, fmt.Errorf("service %q: unknown provider %q", desc.Name, desc.Provider)
	}
}

// kafkaBrokers reads the broker list from either "brokers" (a plain
// comma-separated list) or "bootstrap.servers" (the confluent-style dotted
// key config.toml's [[services]] entries use), the former taking
// precedence when both are set.
func kafkaBrokers(params map[string]string) []string {
	raw, ok := params["brokers"]
	if !ok || raw == "" {
		raw, ok = params["bootstrap.servers"]
		if !ok || raw == "" {
			return nil
		}
	}
	var brokers []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				brokers = append(brokers, raw[start:i])
			}
			start = i + 1
		}
	}
	return brokers
}
