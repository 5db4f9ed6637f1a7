package intake

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
)

// steppingClock advances one millisecond per reading so ordering by
// timestamp is deterministic.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]Option{WithClock(steppingClock())}, opts...)
	return New(store, opts...), store
}

// faultyStore fails selected operations and passes the rest through.
type faultyStore struct {
	docstore.Store
	putFn    func(path string) error
	deleteFn func(path string) error
	listFn   func(collection string) error
}

func (f *faultyStore) Put(ctx context.Context, path string, doc json.RawMessage) error {
	if f.putFn != nil {
		if err := f.putFn(path); err != nil {
			return err
		}
	}
	return f.Store.Put(ctx, path, doc)
}

func (f *faultyStore) Delete(ctx context.Context, path string) error {
	if f.deleteFn != nil {
		if err := f.deleteFn(path); err != nil {
			return err
		}
	}
	return f.Store.Delete(ctx, path)
}

func (f *faultyStore) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if f.listFn != nil {
		if err := f.listFn(collection); err != nil {
			return nil, err
		}
	}
	return f.Store.List(ctx, collection)
}

type countingObserver struct {
	mu        sync.Mutex
	created   int
	completed int
	cancelled int
	matched   int
	rejected  map[Role]int
}

func (o *countingObserver) SessionCreated()   { o.mu.Lock(); o.created++; o.mu.Unlock() }
func (o *countingObserver) SessionCompleted() { o.mu.Lock(); o.completed++; o.mu.Unlock() }
func (o *countingObserver) SessionCancelled() { o.mu.Lock(); o.cancelled++; o.mu.Unlock() }
func (o *countingObserver) SessionMatched()   { o.mu.Lock(); o.matched++; o.mu.Unlock() }
func (o *countingObserver) PasscodeRejected(role Role) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rejected == nil {
		o.rejected = map[Role]int{}
	}
	o.rejected[role]++
}

func mustTemplate(t *testing.T, e *Engine, clinic, name string, fields ...FieldSpec) FormTemplate {
	t.Helper()
	ctx := context.Background()
	tmpl, err := e.Templates.CreateTemplate(ctx, clinic, name)
	if err != nil {
		t.Fatalf("CreateTemplate failed: %v", err)
	}
	for _, f := range fields {
		if _, err := e.Templates.AddField(ctx, clinic, tmpl.ID, f); err != nil {
			t.Fatalf("AddField failed: %v", err)
		}
	}
	tmpl, err = e.Templates.Get(ctx, clinic, tmpl.ID)
	if err != nil {
		t.Fatalf("Get template failed: %v", err)
	}
	return tmpl
}

func putTemplates(ctx context.Context, store docstore.Store, clinic string, templates map[string]FormTemplate) error {
	return docstore.PutJSON(ctx, store, templatesPath(clinic), templates)
}
