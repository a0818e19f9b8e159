package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/narenallam/e-commerce-saga/internal/saga"
)

// Redis key schema:
//   saga:{id}            hash with the latest snapshot fields
//   saga:{id}:log        list of execution log entries, append order
//   saga:by_status:{s}   set of saga IDs currently in status s
//   saga:by_time         sorted set of saga IDs by last update
const (
	defaultKeyPrefix = "saga:"
	defaultTTL       = 7 * 24 * time.Hour
)

// RedisRecorder journals saga transitions into Redis.
type RedisRecorder struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration // applied to terminal sagas, 0 = keep forever
}

// NewRedisRecorder creates a recorder with the default key prefix and a
// one-week TTL on terminal sagas.
func NewRedisRecorder(client redis.Cmdable) *RedisRecorder {
	return &RedisRecorder{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    defaultTTL,
	}
}

// WithKeyPrefix sets a custom key prefix.
func (r *RedisRecorder) WithKeyPrefix(prefix string) *RedisRecorder {
	r.prefix = prefix
	return r
}

// WithTTL sets the expiry applied once a saga reaches a terminal status.
func (r *RedisRecorder) WithTTL(ttl time.Duration) *RedisRecorder {
	r.ttl = ttl
	return r
}

// Record writes the snapshot. The hash always holds the latest state; the
// log list is rewritten wholesale because entries are append-only and few.
func (r *RedisRecorder) Record(ctx context.Context, snap saga.Snapshot) error {
	sagaKey := r.prefix + snap.SagaID
	logKey := sagaKey + ":log"

	contextJSON, err := json.Marshal(snap.Context)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, sagaKey, map[string]interface{}{
		"status":          string(snap.Status),
		"description":     snap.Description,
		"context":         string(contextJSON),
		"steps_completed": snap.StepsCompleted,
		"total_steps":     snap.TotalSteps,
		"updated_at":      snap.UpdatedAt.UnixMilli(),
	})
	if snap.FailedStepIndex != nil {
		pipe.HSet(ctx, sagaKey, "failed_step_index", *snap.FailedStepIndex)
	}

	pipe.Del(ctx, logKey)
	for _, entry := range snap.ExecutionLog {
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		pipe.RPush(ctx, logKey, string(raw))
	}

	for _, status := range []saga.Status{saga.StatusStarted, saga.StatusCompleted, saga.StatusFailed, saga.StatusAborted} {
		key := r.prefix + "by_status:" + string(status)
		if status == snap.Status {
			pipe.SAdd(ctx, key, snap.SagaID)
		} else {
			pipe.SRem(ctx, key, snap.SagaID)
		}
	}
	pipe.ZAdd(ctx, r.prefix+"by_time", redis.Z{
		Score:  float64(snap.UpdatedAt.UnixMilli()),
		Member: snap.SagaID,
	})

	if snap.Status.Terminal() && r.ttl > 0 {
		pipe.Expire(ctx, sagaKey, r.ttl)
		pipe.Expire(ctx, logKey, r.ttl)
	}

	_, err = pipe.Exec(ctx)
	return err
}
