package docstore

import (
	"context"
	"errors"
	"log"
	"sync"
)

// hub fans change notifications out to local subscribers. Each subscriber
// owns one goroutine and a one-slot notify channel, so bursts of changes
// collapse into a single refresh and callbacks never run concurrently for
// the same subscription.
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
	wg     sync.WaitGroup
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]struct{})}
}

type subscriber struct {
	hub        *hub
	collection string
	// docID limits the feed to one document; empty means the whole collection
	docID   string
	refresh func(context.Context, *subscriber) error
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (h *hub) subscribe(ctx context.Context, collection, docID string, refresh func(context.Context, *subscriber) error) (*subscriber, error) {
	s := &subscriber{
		hub:        h,
		collection: collection,
		docID:      docID,
		refresh:    refresh,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[*subscriber]struct{})
	}
	h.subs[collection][s] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	// Initial snapshot.
	s.poke()
	go s.run(ctx)
	return s, nil
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.subs[s.collection]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.subs, s.collection)
		}
	}
}

// publish wakes every subscriber interested in collection/id.
func (h *hub) publish(collection, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[collection] {
		if s.docID == "" || s.docID == id {
			s.poke()
		}
	}
}

// pokeAll forces a refresh everywhere, used after a feed reconnects and
// notifications may have been missed.
func (h *hub) pokeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, members := range h.subs {
		for s := range members {
			s.poke()
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*subscriber
	for _, members := range h.subs {
		for s := range members {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	h.wg.Wait()
}

func (s *subscriber) poke() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer s.hub.wg.Done()
	defer s.hub.remove(s)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.notify:
			if err := s.refresh(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("docstore: refresh %s failed, keeping last snapshot: %v", s.describe(), err)
			}
		}
	}
}

func (s *subscriber) describe() string {
	if s.docID == "" {
		return s.collection
	}
	return s.collection + "/" + s.docID
}

// Close stops the feed. No callback starts after Close returns, though one
// already running may finish.
func (s *subscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

// subscribeDoc and subscribeCollection share the refresh logic of every
// driver: re-read, then deliver.
func subscribeDoc(ctx context.Context, h *hub, store Store, path string, fn func(DocSnapshot)) (Subscription, error) {
	collection, id, err := Split(path)
	if err != nil {
		return nil, err
	}
	refresh := func(ctx context.Context, sub *subscriber) error {
		data, err := store.Get(ctx, path)
		snap := DocSnapshot{Path: path}
		switch {
		case err == nil:
			snap.Exists = true
			snap.Data = data
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}
		if sub.closed() {
			return nil
		}
		fn(snap)
		return nil
	}
	sub, err := h.subscribe(ctx, collection, id, refresh)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func subscribeCollection(ctx context.Context, h *hub, store Store, collection string, fn func(CollectionSnapshot)) (Subscription, error) {
	if err := validatePath(collection); err != nil {
		return nil, err
	}
	refresh := func(ctx context.Context, sub *subscriber) error {
		docs, err := store.List(ctx, collection)
		if err != nil {
			return err
		}
		if sub.closed() {
			return nil
		}
		fn(CollectionSnapshot{Collection: collection, Docs: docs})
		return nil
	}
	sub, err := h.subscribe(ctx, collection, "", refresh)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *subscriber) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
