package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store. Close is a no-op so one instance can be
// handed out across reconnects.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]map[string]Job // namespace -> id -> job
}

func NewMemory() *Memory {
	return &Memory{jobs: map[string]map[string]Job{}}
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Insert(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.jobs[job.Namespace]
	if ns == nil {
		ns = map[string]Job{}
		m.jobs[job.Namespace] = ns
	}
	if _, ok := ns[job.ID]; ok {
		return ErrDuplicateID
	}
	ns[job.ID] = job
	return nil
}

func (m *Memory) FindByID(ctx context.Context, namespace, id string) (Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[namespace][id]
	return j, ok, nil
}

func (m *Memory) FindAll(ctx context.Context, namespace string) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.jobs[namespace]))
	for _, j := range m.jobs[namespace] {
		out = append(out, j)
	}
	return out, nil
}

func (m *Memory) DeleteByID(ctx context.Context, namespace, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.jobs[namespace], id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteAll(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.jobs, namespace)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
