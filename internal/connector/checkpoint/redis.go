package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.flowcatalyst.tech/internal/connector"
)

// RedisConfig configures the Redis checkpoint store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is the key prefix for all checkpoints (default: "mstream:checkpoint:")
	Prefix string
	// TTL is the time-to-live for checkpoint keys (0 = no expiration)
	TTL time.Duration
}

// RedisStore is the alternate checkpoint backend named in SPEC_FULL.md
// §4.7, generalized from internal/stream/checkpoint/redis.go's
// bson.Raw-keyed store to the opaque-bytes Checkpoint shape.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mstream:checkpoint:"
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// NewRedisStoreFromClient wraps an already-connected client, for sharing
// one Redis client across checkpointing and other uses via the service
// registry.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "mstream:checkpoint:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

type redisCheckpointValue struct {
	Token     []byte    `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
	SourceTS  time.Time `json:"source_ts"`
}

func (s *RedisStore) Load(ctx context.Context, job string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.prefix+job).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, connector.Transient("checkpoint.redis.load", fmt.Errorf("load checkpoint %s: %w", job, err))
	}

	var v redisCheckpointValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, connector.InternalInvariant("checkpoint.redis.load", fmt.Errorf("decode checkpoint %s: %w", job, err))
	}
	if len(v.Token) == 0 {
		return nil, nil
	}
	return &Checkpoint{Token: v.Token, UpdatedAt: v.UpdatedAt, SourceTS: v.SourceTS}, nil
}

func (s *RedisStore) Save(ctx context.Context, job string, token connector.CheckpointToken, sourceTS time.Time) error {
	v := redisCheckpointValue{Token: token, UpdatedAt: time.Now(), SourceTS: sourceTS}
	data, err := json.Marshal(v)
	if err != nil {
		return connector.InternalInvariant("checkpoint.redis.save", err)
	}

	if err := s.client.Set(ctx, s.prefix+job, data, s.ttl).Err(); err != nil {
		return connector.Transient("checkpoint.redis.save", fmt.Errorf("save checkpoint %s: %w", job, err))
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
