package resource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// keyPrefix namespaces content keys so the database can hold other data.
const keyPrefix = "content:"

// PebbleStore is a Store backed by a Pebble database on disk.
type PebbleStore struct {
	mu   sync.RWMutex
	db   *pebble.DB
	path string
	log  *zap.Logger
}

// OpenPebble opens (or creates) a Pebble database at path.
func OpenPebble(path string, log *zap.Logger) (*PebbleStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("resource: create store dir: %w", err)
	}
	log.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("resource: open %s: %w", path, err)
	}
	log.Info("pebble_opened", zap.String("path", path))
	return &PebbleStore{db: db, path: path, log: log}, nil
}

func (s *PebbleStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	v, closer, err := s.db.Get([]byte(keyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resource: get %q: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *PebbleStore) Put(key string, data []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Set([]byte(keyPrefix+key), data, pebble.Sync); err != nil {
		s.log.Error("content_put_failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("resource: put %q: %w", key, err)
	}
	s.log.Debug("content_put", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func (s *PebbleStore) Delete(key string) error {
	if _, err := s.Get(key); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Delete([]byte(keyPrefix+key), pebble.Sync); err != nil {
		return fmt.Errorf("resource: delete %q: %w", key, err)
	}
	return nil
}

// Keys returns the stored keys in byte order.
func (s *PebbleStore) Keys() (keys []string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	prefix := []byte(keyPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, iter.Close()) }()
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()[len(prefix):]))
	}
	return keys, nil
}

// Close flushes and closes the database. Calling Close twice is a no-op.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := multierr.Append(s.db.Flush(), s.db.Close())
	s.db = nil
	if err != nil {
		s.log.Error("pebble_close_failed", zap.String("path", s.path), zap.Error(err))
		return err
	}
	s.log.Info("pebble_closed", zap.String("path", s.path))
	return nil
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
