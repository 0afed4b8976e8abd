package cart

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// ErrNoSnapshot is returned by a Store when nothing has been persisted for the key.
var ErrNoSnapshot = errors.New("cart snapshot not found")

// Store is the durable key-value bridge that mirrors ledgers across reloads.
type Store interface {
	Load(ctx context.Context, owner string) (Snapshot, error)
	Save(ctx context.Context, owner string, s Snapshot) error
}

// MemoryStore keeps encoded snapshots in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load decodes the snapshot stored for owner.
func (m *MemoryStore) Load(_ context.Context, owner string) (Snapshot, error) {
	m.mu.Lock()
	raw, ok := m.data[strings.TrimSpace(owner)]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, errors.Join(ErrCorruptSnapshot, err)
	}
	return s, nil
}

// Save encodes and stores the snapshot for owner.
func (m *MemoryStore) Save(_ context.Context, owner string, s Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[strings.TrimSpace(owner)] = raw
	return nil
}
