package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process store, used in tests and dry runs. Documents are
// kept encoded so loads never alias saved values.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, name string, v any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.docs[name]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		m.mu.Lock()
		delete(m.docs, name)
		m.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (m *Memory) Save(_ context.Context, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[name] = raw
	m.mu.Unlock()
	return nil
}

// Raw returns the stored bytes of a document.
func (m *Memory) Raw(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[name]
	return raw, ok
}

// SetRaw stores bytes verbatim, bypassing encoding.
func (m *Memory) SetRaw(name string, raw []byte) {
	m.mu.Lock()
	m.docs[name] = raw
	m.mu.Unlock()
}
