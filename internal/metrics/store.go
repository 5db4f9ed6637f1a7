package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
)

// instrumentedStore records count, latency and failures of every call.
type instrumentedStore struct {
	next docstore.Store
	m    *Metrics
}

// InstrumentStore wraps next so every operation is measured.
func InstrumentStore(next docstore.Store, m *Metrics) docstore.Store {
	return &instrumentedStore{next: next, m: m}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.m.StoreOps.WithLabelValues(op).Inc()
	s.m.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	// Expected outcomes are not failures.
	if err != nil && !errors.Is(err, docstore.ErrNotFound) && !errors.Is(err, docstore.ErrExists) {
		s.m.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (s *instrumentedStore) Put(ctx context.Context, path string, doc json.RawMessage) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())
	return s.next.Put(ctx, path, doc)
}

func (s *instrumentedStore) Create(ctx context.Context, path string, doc json.RawMessage) (err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())
	return s.next.Create(ctx, path, doc)
}

func (s *instrumentedStore) Get(ctx context.Context, path string) (data json.RawMessage, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.next.Get(ctx, path)
}

func (s *instrumentedStore) Delete(ctx context.Context, path string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.next.Delete(ctx, path)
}

func (s *instrumentedStore) List(ctx context.Context, collection string) (docs []docstore.Document, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())
	return s.next.List(ctx, collection)
}

func (s *instrumentedStore) SubscribeDoc(ctx context.Context, path string, fn func(docstore.DocSnapshot)) (docstore.Subscription, error) {
	start := time.Now()
	sub, err := s.next.SubscribeDoc(ctx, path, fn)
	s.observe("subscribe_doc", start, err)
	if err != nil {
		return nil, err
	}
	return s.track("doc", sub), nil
}

func (s *instrumentedStore) SubscribeCollection(ctx context.Context, collection string, fn func(docstore.CollectionSnapshot)) (docstore.Subscription, error) {
	start := time.Now()
	sub, err := s.next.SubscribeCollection(ctx, collection, fn)
	s.observe("subscribe_collection", start, err)
	if err != nil {
		return nil, err
	}
	return s.track("collection", sub), nil
}

func (s *instrumentedStore) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.next.Ping(ctx)
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}

func (s *instrumentedStore) track(kind string, sub docstore.Subscription) docstore.Subscription {
	gauge := s.m.OpenFeeds.WithLabelValues(kind)
	gauge.Inc()
	return &trackedSubscription{Subscription: sub, done: gauge.Dec}
}

type trackedSubscription struct {
	docstore.Subscription
	once sync.Once
	done func()
}

func (t *trackedSubscription) Close() {
	t.once.Do(func() {
		t.Subscription.Close()
		t.done()
	})
}
