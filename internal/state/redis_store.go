package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/insight-intelligence/call-relay-service/internal/domain"
	"github.com/insight-intelligence/call-relay-service/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	callStateKeyPrefix = "call_relay:call_state:"

	// recordTTL bounds leaked records when a completion event never arrives.
	// Comfortably longer than any real phone call.
	recordTTL = 4 * time.Hour

	// updateAttempts bounds the optimistic-transaction retry loop.
	updateAttempts = 3
)

// RedisConfig holds the connection settings for the Redis-backed store.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisStore is a Store backed by Redis, for deployments where webhooks for
// the same call can land on different processes. Records are JSON values
// with a TTL safety net.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings Redis, failing fast on a bad config.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func callStateKey(callID string) string {
	return callStateKeyPrefix + callID
}

func (s *RedisStore) Get(ctx context.Context, callID string) (*domain.CallRecord, bool) {
	val, err := s.client.Get(ctx, callStateKey(callID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Base().Error("failed to read call record", zap.String("call_sid", callID), zap.Error(err))
		}
		return nil, false
	}

	var record domain.CallRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		logger.Base().Error("corrupt call record, dropping", zap.String("call_sid", callID), zap.Error(err))
		return nil, false
	}
	return &record, true
}

func (s *RedisStore) Put(ctx context.Context, callID string, record *domain.CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}
	return s.client.Set(ctx, callStateKey(callID), data, recordTTL).Err()
}

// Update runs mutate under a WATCH-based optimistic transaction so that
// interleaved dial-status callbacks for the same call cannot lose updates.
func (s *RedisStore) Update(ctx context.Context, callID string, mutate func(*domain.CallRecord)) bool {
	key := callStateKey(callID)

	txn := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil {
			return err
		}

		var record domain.CallRecord
		if err := json.Unmarshal([]byte(val), &record); err != nil {
			return err
		}
		mutate(&record)

		data, err := json.Marshal(&record)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, recordTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < updateAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return true
		}
		if errors.Is(err, redis.Nil) {
			return false
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // record changed underneath us, retry
		}
		logger.Base().Error("failed to update call record", zap.String("call_sid", callID), zap.Error(err))
		return false
	}

	logger.Base().Warn("call record update contended, giving up", zap.String("call_sid", callID))
	return false
}

func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	return s.client.Del(ctx, callStateKey(callID)).Err()
}

func (s *RedisStore) Count(ctx context.Context) int {
	var count int
	iter := s.client.Scan(ctx, 0, callStateKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		logger.Base().Error("failed to count call records", zap.Error(err))
	}
	return count
}
