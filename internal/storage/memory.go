package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStorage keeps all collections in process memory. Useful for tests
// and small single-instance deployments.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string]map[string][]byte),
	}
}

type memoryCollection struct {
	store *MemoryStorage
	name  string
}

func (s *MemoryStorage) collection(name string) Collection {
	return &memoryCollection{store: s, name: name}
}

func (s *MemoryStorage) Feedbacks() Collection   { return s.collection("feedbacks") }
func (s *MemoryStorage) Surveys() Collection     { return s.collection("surveys") }
func (s *MemoryStorage) Transcripts() Collection { return s.collection("transcripts") }
func (s *MemoryStorage) Workspaces() Collection  { return s.collection("workspaces") }

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func (c *memoryCollection) Get(ctx context.Context, id string, out any) error {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	records, exists := c.store.data[c.name]
	if !exists {
		return ErrNotFound
	}
	raw, exists := records[id]
	if !exists {
		return ErrNotFound
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error decoding record %s/%s: %v", c.name, id, err)
	}
	return nil
}

func (c *memoryCollection) Save(ctx context.Context, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding record %s/%s: %v", c.name, id, err)
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	records, exists := c.store.data[c.name]
	if !exists {
		records = make(map[string][]byte)
		c.store.data[c.name] = records
	}
	records[id] = raw
	return nil
}
