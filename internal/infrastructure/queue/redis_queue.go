// Package queue hands extraction requests to the external extraction worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
)

// DefaultStream is the stream the extraction worker consumes.
const DefaultStream = "droptracker:extraction-requests"

const connectionTimeout = 5 * time.Second

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	Stream   string
	// MaxLen approximately caps the stream; zero leaves it unbounded.
	MaxLen int64
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisQueue appends requests to a Redis stream.
type RedisQueue struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

var _ ports.ExtractionQueue = (*RedisQueue)(nil)

// NewRedisQueue wires a connected client.
func NewRedisQueue(client *redis.Client, cfg Config, logger *zap.Logger) *RedisQueue {
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{client: client, stream: stream, maxLen: cfg.MaxLen, logger: logger}
}

// Enqueue publishes req as one stream entry.
func (q *RedisQueue) Enqueue(ctx context.Context, req domain.ExtractionRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal extraction request: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"request_id": uuid.NewString(),
			"collection": req.Collection,
			"record_id":  req.RecordID,
			"request":    string(payload),
		},
	}
	if q.maxLen > 0 {
		args.MaxLen = q.maxLen
		args.Approx = true
	}

	entryID, err := q.client.XAdd(ctx, args).Result()
	if err != nil {
		q.logger.Error("enqueue extraction request failed",
			zap.String("collection", req.Collection),
			zap.String("record_id", req.RecordID),
			zap.Error(err))
		return domain.NewError(domain.KindStorageUnavailable, "extraction queue unavailable", err)
	}

	q.logger.Info("extraction request enqueued",
		zap.String("collection", req.Collection),
		zap.String("record_id", req.RecordID),
		zap.String("entry_id", entryID))
	return nil
}

// Ping reports whether Redis is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
