package memory

import (
	"sync"

	"github.com/adwski/classcast/backend/model"
)

// MemStore keeps a student identity for the lifetime of the process.
type MemStore struct {
	mx *sync.Mutex
	id *model.Identity
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.Mutex{},
	}
}

// NewMemStoreWith returns a store preloaded with id.
func NewMemStoreWith(id model.Identity) *MemStore {
	ms := NewMemStore()
	ms.id = &id
	return ms
}

func (ms *MemStore) Load() (model.Identity, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if ms.id == nil {
		ms.id = &model.Identity{ID: model.NewClientID()}
	}
	return *ms.id, nil
}

func (ms *MemStore) SetName(name string) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if ms.id == nil {
		ms.id = &model.Identity{ID: model.NewClientID()}
	}
	ms.id.Name = name
	return nil
}
