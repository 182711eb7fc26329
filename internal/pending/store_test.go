package pending

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SoraVideoBot/internal/models"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(time.Hour),
		"redis":  NewRedisStore(rdb, time.Hour),
	}
}

func TestStore_SetGetClear(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			task, err := store.Get(ctx, 1)
			require.NoError(t, err)
			assert.Nil(t, task)

			require.NoError(t, store.Set(ctx, 1, Task{Stage: StageAwaitingDescription, Orientation: models.OrientationVertical}))
			task, err = store.Get(ctx, 1)
			require.NoError(t, err)
			require.NotNil(t, task)
			assert.Equal(t, StageAwaitingDescription, task.Stage)
			assert.Equal(t, models.OrientationVertical, task.Orientation)
			assert.False(t, task.UpdatedAt.IsZero())

			require.NoError(t, store.Clear(ctx, 1))
			task, err = store.Get(ctx, 1)
			require.NoError(t, err)
			assert.Nil(t, task)
		})
	}
}

func TestStore_Transition(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			moved, err := store.Transition(ctx, 2, StageAwaitingDescription, Task{Stage: StageSubmitting})
			require.NoError(t, err)
			assert.False(t, moved, "no task to move")

			require.NoError(t, store.Set(ctx, 2, Task{Stage: StageAwaitingOrientation}))
			moved, err = store.Transition(ctx, 2, StageAwaitingDescription, Task{Stage: StageSubmitting})
			require.NoError(t, err)
			assert.False(t, moved, "wrong stage")

			require.NoError(t, store.Set(ctx, 2, Task{Stage: StageAwaitingDescription}))
			moved, err = store.Transition(ctx, 2, StageAwaitingDescription, Task{Stage: StageSubmitting, Prompt: "cat"})
			require.NoError(t, err)
			assert.True(t, moved)

			task, err := store.Get(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, StageSubmitting, task.Stage)
			assert.Equal(t, "cat", task.Prompt)
		})
	}
}

func TestStore_TransitionClaimsOnce(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, 3, Task{Stage: StageAwaitingDescription}))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					moved, err := store.Transition(ctx, 3, StageAwaitingDescription, Task{Stage: StageSubmitting})
					if err == nil && moved {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestStore_ClearIfTask(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, 4, Task{Stage: StageProcessing, TaskID: "new", MessageID: 10}))

			cleared, err := store.ClearIfTask(ctx, 4, "old")
			require.NoError(t, err)
			assert.Nil(t, cleared)

			task, err := store.Get(ctx, 4)
			require.NoError(t, err)
			require.NotNil(t, task, "newer request is left alone")

			cleared, err = store.ClearIfTask(ctx, 4, "new")
			require.NoError(t, err)
			require.NotNil(t, cleared)
			assert.Equal(t, 10, cleared.MessageID)

			task, err = store.Get(ctx, 4)
			require.NoError(t, err)
			assert.Nil(t, task)
		})
	}
}

func TestStore_MarkCompleted(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.MarkCompleted(ctx, "task-1")
			require.NoError(t, err)
			assert.True(t, first)

			first, err = store.MarkCompleted(ctx, "task-1")
			require.NoError(t, err)
			assert.False(t, first)

			first, err = store.MarkCompleted(ctx, "task-2")
			require.NoError(t, err)
			assert.True(t, first)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 1, Task{Stage: StageProcessing, TaskID: "t"}))
	first, err := store.MarkCompleted(ctx, "t")
	require.NoError(t, err)
	assert.True(t, first)

	now = now.Add(2 * time.Minute)

	task, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, task)

	first, err = store.MarkCompleted(ctx, "t")
	require.NoError(t, err)
	assert.True(t, first, "dedup marker expires with the ttl")
}

func TestStore_MarkCompletedWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	memory := NewMemoryStore(0)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	memory.now = func() time.Time { return now }

	for name, store := range map[string]Store{"memory": memory, "redis": NewRedisStore(rdb, 0)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := store.MarkCompleted(ctx, "task-1")
			require.NoError(t, err)
			assert.True(t, first)

			now = now.Add(48 * time.Hour)
			mr.FastForward(48 * time.Hour)

			first, err = store.MarkCompleted(ctx, "task-1")
			require.NoError(t, err)
			assert.False(t, first, "a settled task stays settled")
		})
	}
}
