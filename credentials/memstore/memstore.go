package memstore

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/credentials"
)

var _ credentials.Store = (*MemStore)(nil)

// MemStore keeps credentials in process memory.
type MemStore struct {
	values map[credentials.Kind]string
	lock   sync.RWMutex
}

func New() *MemStore {
	return &MemStore{
		values: make(map[credentials.Kind]string),
	}
}

func (s *MemStore) Get(_ context.Context, kind credentials.Kind) (string, error) {
	if err := credentials.ValidateKind(kind); err != nil {
		return "", err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.values[kind]
	if !ok {
		return "", credentials.ErrNotFound
	}
	return v, nil
}

func (s *MemStore) Save(_ context.Context, kind credentials.Kind, value string) error {
	if err := credentials.ValidateKind(kind); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	s.values[kind] = value
	return nil
}

func (s *MemStore) Remove(_ context.Context, kinds ...credentials.Kind) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, kind := range kinds {
		delete(s.values, kind)
	}
	return nil
}
