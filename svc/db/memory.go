package db

import (
	"context"
	"sync"
	"sync/atomic"

	"pobbin/pkg/domain"
)

// Memory is a process-local Backend. It backs STORAGE_BACKEND=memory for
// local runs and gives tests call counts and injectable faults.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    atomic.Int64
	gets    atomic.Int64

	faultMu sync.Mutex
	faults  int
	fault   error
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
	}
}

// FailNext makes the next n backend calls return err.
func (m *Memory) FailNext(n int, err error) {
	m.faultMu.Lock()
	m.faults = n
	m.fault = err
	m.faultMu.Unlock()
}

func (m *Memory) injected() error {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	if m.faults <= 0 {
		return nil
	}
	m.faults--
	return m.fault
}

func (m *Memory) Put(ctx context.Context, p *domain.Paste) error {
	m.puts.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(p.Key); err != nil {
		return err
	}
	if err := m.injected(); err != nil {
		return err
	}
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	m.mu.Lock()
	m.objects[p.Key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.gets.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := m.injected(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *Memory) Puts() int64 { return m.puts.Load() }
func (m *Memory) Gets() int64 { return m.gets.Load() }

func (m *Memory) Ping(ctx context.Context) error {
	return m.injected()
}

func (m *Memory) Close() error {
	return nil
}
