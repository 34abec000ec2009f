package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"smsgate/internal/config"
	"smsgate/internal/domain"
)

// Redis key patterns for trigger history.
const (
	keyPatternTriggerRecord = "smsgate:trigger:record:%s"
	keyPatternTriggerPair   = "smsgate:trigger:pair:%s:%s" // rule, recipient
)

// RedisHistory implements domain.TriggerHistory on Redis. It exists for
// deployments that run several gateway instances against one rate-limit
// state: counters and last-trigger timestamps are updated with atomic
// commands so concurrent evaluations never lose updates.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisHistory connects to Redis and verifies the connection.
func NewRedisHistory(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, logger *slog.Logger) (*RedisHistory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &RedisHistory{client: client, ttl: ttl, logger: logger}, nil
}

func (h *RedisHistory) Close() error { return h.client.Close() }

// pairState is the per-(rule, recipient) hash kept alongside the records.
const (
	fieldSuccessCount = "success_count"
	fieldLastTrigger  = "last_trigger" // RFC 3339 nano
)

func (h *RedisHistory) SaveTriggerRecord(ctx context.Context, rec *domain.TriggerRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trigger record: %w", err)
	}

	pairKey := fmt.Sprintf(keyPatternTriggerPair, rec.RuleID, rec.Recipient)
	pipe := h.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyPatternTriggerRecord, rec.ID), data, h.ttl)
	pipe.HSet(ctx, pairKey, fieldLastTrigger, rec.Timestamp.Format(time.RFC3339Nano))
	if h.ttl > 0 {
		pipe.Expire(ctx, pairKey, h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save trigger record: %w", err)
	}
	return nil
}

func (h *RedisHistory) UpdateTriggerRecord(ctx context.Context, id string, outcome domain.TriggerOutcome) error {
	key := fmt.Sprintf(keyPatternTriggerRecord, id)
	data, err := h.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("get trigger record: %w", err)
	}

	var rec domain.TriggerRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return fmt.Errorf("unmarshal trigger record: %w", err)
	}
	rec.Processed = true
	rec.Success = outcome.Success
	rec.ResponseMessageID = outcome.ResponseMessageID
	rec.Err = outcome.Err

	updated, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal trigger record: %w", err)
	}

	pairKey := fmt.Sprintf(keyPatternTriggerPair, rec.RuleID, rec.Recipient)
	pipe := h.client.TxPipeline()
	pipe.Set(ctx, key, updated, redis.KeepTTL)
	if outcome.Success {
		pipe.HIncrBy(ctx, pairKey, fieldSuccessCount, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update trigger record: %w", err)
	}
	return nil
}

func (h *RedisHistory) CountSuccessfulTriggers(ctx context.Context, ruleID, recipient string) (int, error) {
	key := fmt.Sprintf(keyPatternTriggerPair, ruleID, recipient)
	n, err := h.client.HGet(ctx, key, fieldSuccessCount).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("count triggers: %w", err)
	}
	return n, nil
}

func (h *RedisHistory) LastTriggerTime(ctx context.Context, ruleID, recipient string) (time.Time, error) {
	key := fmt.Sprintf(keyPatternTriggerPair, ruleID, recipient)
	raw, err := h.client.HGet(ctx, key, fieldLastTrigger).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last trigger time: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last trigger time: %w", err)
	}
	return ts, nil
}
