package storage

import (
	"fmt"
	"sync"

	"valnode/internal/types"
)

// ErrNotFound is returned when a key or block is absent from the store.
var ErrNotFound = fmt.Errorf("key not found")

// Store abstracts the persistence layer under the ledger.
type Store interface {
	// Generic key-value operations
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error

	SaveBlock(b *types.Block) error
	GetBlock(height uint64) (*types.Block, error)
	// LoadLatestHeight returns the highest persisted block height. The bool
	// reports whether any block has been stored at all.
	LoadLatestHeight() (uint64, bool, error)

	// Close closes the storage and releases resources
	Close() error
}

// InMemory is a simple in-memory store for tests and in-process harnesses.
type InMemory struct {
	mu      sync.RWMutex
	blocks  map[uint64]*types.Block
	latest  uint64
	any     bool
	kvStore map[string][]byte
}

func NewInMemory() *InMemory {
	return &InMemory{
		blocks:  map[uint64]*types.Block{},
		kvStore: map[string][]byte{},
	}
}

// Get retrieves a value by key from memory
func (s *InMemory) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.kvStore[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent modifications
	result := make([]byte, len(val))
	copy(result, val)
	return result, nil
}

// Put stores a key-value pair in memory
func (s *InMemory) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val := make([]byte, len(value))
	copy(val, value)
	s.kvStore[string(key)] = val
	return nil
}

func (s *InMemory) SaveBlock(b *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.blocks[b.Height] = &cp
	if !s.any || b.Height > s.latest {
		s.latest = b.Height
		s.any = true
	}
	return nil
}

func (s *InMemory) GetBlock(height uint64) (*types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[height]
	if !ok {
		return nil, fmt.Errorf("block not found at height %d: %w", height, ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *InMemory) LoadLatestHeight() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.any, nil
}

// Close implements Store; nothing to release for the in-memory store.
func (s *InMemory) Close() error { return nil }
