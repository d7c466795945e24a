// mstream runs the connector engine: a configurable set of jobs moving
// records from a Mongo/Kafka/Pub-Sub source through an ordered middleware
// chain into one or more Mongo/Kafka/Pub-Sub/HTTP sinks, with
// source-order preservation and checkpointed resumption.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kafka "github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.flowcatalyst.tech/internal/common/health"
	"go.flowcatalyst.tech/internal/common/lifecycle"
	"go.flowcatalyst.tech/internal/config"
	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/checkpoint"
	"go.flowcatalyst.tech/internal/connector/driver"
	"go.flowcatalyst.tech/internal/connector/job"
	"go.flowcatalyst.tech/internal/connector/middleware"
	"go.flowcatalyst.tech/internal/connector/schema"
	"go.flowcatalyst.tech/internal/connector/sink"
	"go.flowcatalyst.tech/internal/connector/source"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	app, cleanup, err := lifecycle.Initialize(context.Background(), lifecycle.AppOptions{NeedsMongoDB: true})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	configureLogging(app.Config.Logs)

	slog.Info("Starting mstream",
		"version", version,
		"build_time", buildTime,
		"connectors", len(app.Config.Connectors))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.MongoDBCheck(func() error {
		return app.MongoClient.Ping(ctx)
	}))

	registry := job.NewRegistry(
		mongoDialer(),
		pubsubDialer(),
	)
	services := make(map[string]connector.ServiceDescriptor, len(app.Config.Services))
	for _, desc := range app.Config.Services {
		if _, err := registry.Acquire(ctx, desc); err != nil {
			slog.Error("Failed to dial service", "service", desc.Name, "provider", desc.Provider, "error", err)
			os.Exit(1)
		}
		services[desc.Name] = desc
	}

	checkpointStore, err := buildCheckpointStore(app.Config.Checkpoints, app.DB)
	if err != nil {
		slog.Error("Failed to build checkpoint store", "error", err)
		os.Exit(1)
	}

	schemaCache := schema.NewCache(map[connector.Provider]schema.Fetcher{
		connector.ProviderMongo:  &schema.MongoFetcher{Collection: app.DB.Collection("schema_cache")},
		connector.ProviderPubSub: newPubSubFetcher(ctx, registry, services),
	})

	buildDriver := func(spec connector.ConnectorSpec) (*driver.Driver, error) {
		return buildDriverForSpec(ctx, spec, registry, services, schemaCache, checkpointStore)
	}

	store := job.NewMongoStore(app.DB, app.Config.JobLifecycle.Collection)
	manager := job.NewManager(buildDriver, store)

	if err := manager.Reconcile(ctx, app.Config.JobLifecycle.Policy, app.Config.Connectors); err != nil {
		slog.Error("Failed to reconcile connector jobs", "error", err)
		os.Exit(1)
	}

	healthChecker.AddReadinessCheck(health.ConnectorJobsCheck(manager.List))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		writeJobList(w, manager.List())
	})

	httpServer := &http.Server{
		Addr:         ":8080",
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	shutdown := lifecycle.NewManager()
	shutdown.SetShutdownTimeout(app.Config.ServiceLifecycle.ShutdownTimeout)

	shutdown.RegisterHTTPShutdown("http-server", httpServer.Shutdown)
	shutdown.RegisterPipelineShutdown("connector-jobs", manager.StopAll)
	shutdown.RegisterCheckpointShutdown("checkpoint-store", func(ctx context.Context) error {
		if closer, ok := checkpointStore.(interface{ Close() error }); ok {
			return closer.Close()
		}
		return nil
	})
	shutdown.RegisterServiceClientShutdown("service-registry", func(ctx context.Context) error {
		cancel()
		return nil
	})

	if err := shutdown.Run(); err != nil {
		slog.Error("Shutdown did not complete cleanly", "error", err)
		os.Exit(1)
	}

	slog.Info("mstream stopped")
}

func configureLogging(cfg config.LogsConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// mongoDialer connects a [[services]] Mongo descriptor, generalized from
// app.go's initMongoDB retry/ping shape to a per-service connection
// string and database name.
func mongoDialer() func(ctx context.Context, params map[string]string) (*mongo.Database, error) {
	return func(ctx context.Context, params map[string]string) (*mongo.Database, error) {
		uri := params["connection_string"]
		dbName := params["db_name"]
		if uri == "" || dbName == "" {
			return nil, fmt.Errorf("mongo service requires connection_string and db_name")
		}

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("ping: %w", err)
		}
		return client.Database(dbName), nil
	}
}

func pubsubDialer() func(ctx context.Context, params map[string]string) (*pubsub.Client, error) {
	return func(ctx context.Context, params map[string]string) (*pubsub.Client, error) {
		projectID := params["project_id"]
		if projectID == "" {
			return nil, fmt.Errorf("pubsub service requires project_id")
		}
		return pubsub.NewClient(ctx, projectID)
	}
}

func buildCheckpointStore(cfg config.CheckpointConfig, db *mongo.Database) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "", "mongo":
		return checkpoint.NewMongoStore(db), nil
	case "redis":
		return checkpoint.NewRedisStore(checkpoint.RedisConfig{Addr: cfg.RedisAddr})
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// pubsubSchemaRegistry adapts a lazily-dialed Pub/Sub SchemaClient to
// schema.SchemaRegistryClient, scoped per [[services]] pubsub entry since
// each carries its own project_id.
type pubsubSchemaRegistry struct {
	registry *job.Registry
	services map[string]connector.ServiceDescriptor
	clients  map[string]*pubsub.SchemaClient
}

func newPubSubFetcher(ctx context.Context, registry *job.Registry, services map[string]connector.ServiceDescriptor) *schema.PubSubFetcher {
	return &schema.PubSubFetcher{
		Registry: &pubsubSchemaRegistry{registry: registry, services: services, clients: make(map[string]*pubsub.SchemaClient)},
		FieldsOf: connector.AvroFieldNames,
	}
}

func (r *pubsubSchemaRegistry) GetSchemaText(ctx context.Context, schemaID string) (string, error) {
	// schemaID here is the resource name of a ResourceReference whose
	// service resolved to a pubsub provider; the registry's Providers map
	// does not carry project_id, so this reads it from the service's
	// descriptor and caches the dialed SchemaClient by service name.
	for name, provider := range r.registry.Providers() {
		if provider != connector.ProviderPubSub {
			continue
		}
		client, ok := r.clients[name]
		if !ok {
			var err error
			client, err = pubsub.NewSchemaClient(ctx, r.services[name].Params["project_id"])
			if err != nil {
				return "", fmt.Errorf("dial pubsub schema client for %s: %w", name, err)
			}
			r.clients[name] = client
		}
		cfg, err := client.Schema(ctx, schemaID, pubsub.SchemaViewFull)
		if err != nil {
			return "", fmt.Errorf("fetch pubsub schema %s: %w", schemaID, err)
		}
		return cfg.Definition, nil
	}
	return "", fmt.Errorf("no pubsub service registered for schema %s", schemaID)
}

// buildDriverForSpec wires a validated ConnectorSpec's source adapter,
// middleware chain, and sink fan-out from the service registry, grounded
// on the deleted internal/stream/watcher.go's single Mongo-to-Mongo wiring
// generalized to the full provider matrix.
func buildDriverForSpec(ctx context.Context, spec connector.ConnectorSpec, registry *job.Registry, services map[string]connector.ServiceDescriptor, schemaCache *schema.Cache, checkpointStore checkpoint.Store) (*driver.Driver, error) {
	sourceAdapter, err := buildSourceAdapter(ctx, spec.Source, registry, services)
	if err != nil {
		return nil, fmt.Errorf("%s: source: %w", spec.Name, err)
	}

	middlewares := make([]middleware.Middleware, 0, len(spec.Middlewares))
	for i, ep := range spec.Middlewares {
		mw, err := buildMiddleware(spec.Name, ep, services)
		if err != nil {
			return nil, fmt.Errorf("%s: middleware[%d]: %w", spec.Name, i, err)
		}
		middlewares = append(middlewares, mw)
	}

	sinks := make([]sink.Sink, 0, len(spec.Sinks))
	for i, ep := range spec.Sinks {
		sk, err := buildSink(ctx, spec.Name, ep, registry, services)
		if err != nil {
			return nil, fmt.Errorf("%s: sink[%d]: %w", spec.Name, i, err)
		}
		sinks = append(sinks, sk)
	}

	cp := checkpointStore
	if !spec.CheckpointEnable {
		cp = checkpoint.NopStore{}
	}

	return &driver.Driver{
		Spec:            spec,
		SourceAdapter:   sourceAdapter,
		Middlewares:     middlewares,
		Sinks:           sinks,
		CheckpointStore: cp,
		SchemaCache:     schemaCache,
		ServiceProvider: registry.Providers(),
	}, nil
}

func buildSourceAdapter(ctx context.Context, ep connector.EndpointSpec, registry *job.Registry, services map[string]connector.ServiceDescriptor) (source.Adapter, error) {
	desc, ok := services[ep.Ref.ServiceName]
	if !ok {
		return nil, fmt.Errorf("unknown source service %q", ep.Ref.ServiceName)
	}
	handle, err := registry.Acquire(ctx, desc)
	if err != nil {
		return nil, err
	}

	switch desc.Provider {
	case connector.ProviderMongo:
		return &source.MongoAdapter{Database: handle.Mongo}, nil
	case connector.ProviderKafka:
		seekBack, _ := strconv.Atoi(desc.Params["offset_seek_back_seconds"])
		maxEventsPerSecond, _ := strconv.ParseFloat(desc.Params["max_events_per_second"], 64)
		return &source.KafkaAdapter{Brokers: handle.Kafka.Brokers, OffsetSeekBackSeconds: seekBack, MaxEventsPerSecond: maxEventsPerSecond}, nil
	case connector.ProviderPubSub:
		maxEventsPerSecond, _ := strconv.ParseFloat(desc.Params["max_events_per_second"], 64)
		return &source.PubSubAdapter{Client: handle.PubSub, MaxEventsPerSecond: maxEventsPerSecond}, nil
	default:
		return nil, fmt.Errorf("provider %q cannot be a source", desc.Provider)
	}
}

func buildMiddleware(connectorID string, ep connector.EndpointSpec, services map[string]connector.ServiceDescriptor) (middleware.Middleware, error) {
	desc, ok := services[ep.Ref.ServiceName]
	if !ok {
		return nil, fmt.Errorf("unknown middleware service %q", ep.Ref.ServiceName)
	}

	switch desc.Provider {
	case connector.ProviderHTTP:
		cfg := middleware.DefaultHTTPConfig(desc.Params["host"], ep.Ref.Resource)
		return middleware.NewHTTP(connectorID, cfg), nil
	case connector.ProviderUDF:
		scriptPath := desc.Params["script_path"]
		if ep.Ref.Resource != "" {
			scriptPath = ep.Ref.Resource
		}
		cfg := middleware.DefaultScriptConfig(scriptPath)
		return middleware.NewScript(connectorID, ep.Ref.ServiceName, ep.Ref.Resource, cfg), nil
	default:
		return nil, fmt.Errorf("provider %q cannot be a middleware", desc.Provider)
	}
}

func buildSink(ctx context.Context, connectorID string, ep connector.EndpointSpec, registry *job.Registry, services map[string]connector.ServiceDescriptor) (sink.Sink, error) {
	desc, ok := services[ep.Ref.ServiceName]
	if !ok {
		return nil, fmt.Errorf("unknown sink service %q", ep.Ref.ServiceName)
	}
	handle, err := registry.Acquire(ctx, desc)
	if err != nil {
		return nil, err
	}

	switch desc.Provider {
	case connector.ProviderMongo:
		return &sink.MongoSink{Collection: handle.Mongo.Collection(ep.Ref.Resource), Mode: sink.WriteMode(desc.Params["write_mode"])}, nil
	case connector.ProviderKafka:
		writer := kafka.NewWriter(kafka.WriterConfig{
			Brokers: handle.Kafka.Brokers,
			Topic:   ep.Ref.Resource,
		})
		return &sink.KafkaSink{Writer: writer}, nil
	case connector.ProviderPubSub:
		return &sink.PubSubSink{Topic: handle.PubSub.Topic(ep.Ref.Resource)}, nil
	case connector.ProviderHTTP:
		host := desc.Params["host"] + "/" + ep.Ref.Resource
		cfg := sink.DefaultHTTPSinkConfig(host)
		return sink.NewHTTPSink(connectorID, cfg), nil
	default:
		return nil, fmt.Errorf("provider %q cannot be a sink", desc.Provider)
	}
}

func writeJobList(w http.ResponseWriter, records []connector.JobRecord) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, "[")
	for i, rec := range records {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, `{"name":%q,"state":%q,"last_error":%q,"events_processed":%d}`,
			rec.Name, rec.State, rec.LastError, rec.Metrics.EventsProcessed)
	}
	fmt.Fprint(w, "]")
}
