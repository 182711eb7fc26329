package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore keeps keys for ttl; a ttl that is not positive never expires.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "sora:"}
}

func (s *RedisStore) taskKey(userID int64) string {
	return fmt.Sprintf("%spending:%d", s.prefix, userID)
}

func (s *RedisStore) doneKey(taskID string) string {
	return s.prefix + "done:" + taskID
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (*Task, error) {
	return s.get(ctx, s.rdb, s.taskKey(userID))
}

func (s *RedisStore) get(ctx context.Context, c getter, key string) (*Task, error) {
	val, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending task: %w", err)
	}
	var task Task
	if err := json.Unmarshal(val, &task); err != nil {
		return nil, fmt.Errorf("unmarshal pending task: %w", err)
	}
	return &task, nil
}

func (s *RedisStore) encode(task Task) ([]byte, error) {
	task.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal pending task: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, userID int64, task Task) error {
	data, err := s.encode(task)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.taskKey(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set pending task: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, s.taskKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear pending task: %w", err)
	}
	return nil
}

func (s *RedisStore) Transition(ctx context.Context, userID int64, from Stage, next Task) (bool, error) {
	key := s.taskKey(userID)
	data, err := s.encode(next)
	if err != nil {
		return false, err
	}

	var moved bool
	err = s.watch(ctx, key, func(tx *redis.Tx) error {
		moved = false
		current, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if current == nil || current.Stage != from {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			moved = true
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("transition pending task: %w", err)
	}
	return moved, nil
}

func (s *RedisStore) ClearIfTask(ctx context.Context, userID int64, taskID string) (*Task, error) {
	if taskID == "" {
		return nil, nil
	}
	key := s.taskKey(userID)

	var cleared *Task
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		cleared = nil
		current, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if current == nil || current.TaskID != taskID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			cleared = current
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("clear pending task: %w", err)
	}
	return cleared, nil
}

func (s *RedisStore) MarkCompleted(ctx context.Context, taskID string) (bool, error) {
	first, err := s.rdb.SetNX(ctx, s.doneKey(taskID), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark task completed: %w", err)
	}
	return first, nil
}

// watch runs fn under optimistic locking, retrying when the key changed.
func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}
