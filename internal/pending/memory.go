package pending

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	tasks     map[int64]Task
	completed map[string]time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:       ttl,
		now:       time.Now,
		tasks:     make(map[int64]Task),
		completed: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.current(userID)
	if !ok {
		return nil, nil
	}
	return &task, nil
}

func (m *MemoryStore) Set(_ context.Context, userID int64, task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	task.UpdatedAt = m.now()
	m.tasks[userID] = task
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.tasks, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Transition(_ context.Context, userID int64, from Stage, next Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.current(userID)
	if !ok || task.Stage != from {
		return false, nil
	}
	next.UpdatedAt = m.now()
	m.tasks[userID] = next
	return true, nil
}

func (m *MemoryStore) ClearIfTask(_ context.Context, userID int64, taskID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.current(userID)
	if !ok || taskID == "" || task.TaskID != taskID {
		return nil, nil
	}
	delete(m.tasks, userID)
	return &task, nil
}

// MarkCompleted remembers taskID for the store TTL, or for the life of the
// store when the TTL is not positive.
func (m *MemoryStore) MarkCompleted(_ context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, ok := m.completed[taskID]; ok && (until.IsZero() || m.now().Before(until)) {
		return false, nil
	}
	var until time.Time
	if m.ttl > 0 {
		until = m.now().Add(m.ttl)
	}
	m.completed[taskID] = until
	return true, nil
}

// current must be called with mu held.
func (m *MemoryStore) current(userID int64) (Task, bool) {
	task, ok := m.tasks[userID]
	if !ok {
		return Task{}, false
	}
	if m.ttl > 0 && m.now().Sub(task.UpdatedAt) > m.ttl {
		delete(m.tasks, userID)
		return Task{}, false
	}
	return task, true
}

func (m *MemoryStore) prune() {
	if m.ttl <= 0 {
		return
	}
	now := m.now()
	for id, task := range m.tasks {
		if now.Sub(task.UpdatedAt) > m.ttl {
			delete(m.tasks, id)
		}
	}
	for id, until := range m.completed {
		if !now.Before(until) {
			delete(m.completed, id)
		}
	}
}
