package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore keeps documents in process. Subscribers in the same process
// see changes exactly as they would through a networked driver.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	hub         *hub
	closed      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
		hub:         newHub(),
	}
}

func (s *MemoryStore) Put(ctx context.Context, path string, doc json.RawMessage) error {
	return s.write(ctx, path, doc, false)
}

func (s *MemoryStore) Create(ctx context.Context, path string, doc json.RawMessage) error {
	return s.write(ctx, path, doc, true)
}

func (s *MemoryStore) write(ctx context.Context, path string, doc json.RawMessage, exclusive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	members := s.collections[collection]
	if members == nil {
		members = make(map[string][]byte)
		s.collections[collection] = members
	}
	if _, exists := members[id]; exists && exclusive {
		s.mu.Unlock()
		return ErrExists
	}
	members[id] = append([]byte(nil), doc...)
	s.mu.Unlock()

	s.hub.publish(collection, id)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	collection, id, err := Split(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), data...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if members, ok := s.collections[collection]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(s.collections, collection)
		}
	}
	s.mu.Unlock()

	s.hub.publish(collection, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePath(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	members := s.collections[collection]
	docs := make([]Document, 0, len(members))
	for id, data := range members {
		docs = append(docs, Document{ID: id, Data: append(json.RawMessage(nil), data...)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) SubscribeDoc(ctx context.Context, path string, fn func(DocSnapshot)) (Subscription, error) {
	return subscribeDoc(ctx, s.hub, s, path, fn)
}

func (s *MemoryStore) SubscribeCollection(ctx context.Context, collection string, fn func(CollectionSnapshot)) (Subscription, error) {
	return subscribeCollection(ctx, s.hub, s, collection, fn)
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.close()
	return nil
}
