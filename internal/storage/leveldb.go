package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"

	"valnode/internal/types"
)

type LevelDBStore struct{ db *leveldb.DB }

func NewLevelDB(path string) (*LevelDBStore, error) {
	p := filepath.Clean(path)
	db, err := leveldb.OpenFile(p, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Close() error { return s.db.Close() }

func keyBlock(height uint64) []byte { return []byte(fmt.Sprintf("blk:%020d", height)) }
func keyLatest() []byte             { return []byte("meta:latest") }

// Get retrieves a value by key from the database
func (s *LevelDBStore) Get(key []byte) ([]byte, error) {
	b, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return b, err
}

// Put stores a key-value pair in the database
func (s *LevelDBStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelDBStore) SaveBlock(b *types.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", b.Height, err)
	}
	if err := s.db.Put(keyBlock(b.Height), data, nil); err != nil {
		return err
	}
	// Only advance the latest-height marker, never rewind it.
	latest, ok, err := s.LoadLatestHeight()
	if err != nil {
		return err
	}
	if ok && b.Height <= latest {
		return nil
	}
	hb := make([]byte, 8)
	binary.BigEndian.PutUint64(hb, b.Height)
	return s.db.Put(keyLatest(), hb, nil)
}

func (s *LevelDBStore) GetBlock(height uint64) (*types.Block, error) {
	data, err := s.db.Get(keyBlock(height), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("block not found at height %d: %w", height, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var b types.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal block %d: %w", height, err)
	}
	return &b, nil
}

func (s *LevelDBStore) LoadLatestHeight() (uint64, bool, error) {
	data, err := s.db.Get(keyLatest(), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("corrupt latest height marker (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}
