package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"maps"
	"sort"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/util"
)

// Ledger is the append-only record of completed forms. Records are never
// edited, only deleted by staff.
type Ledger struct {
	store docstore.Store
	opts  options
}

func NewLedger(store docstore.Store, opts ...Option) *Ledger {
	return &Ledger{store: store, opts: buildOptions(opts)}
}

// Record stores sub, assigning an ID and timestamp when it has none.
func (l *Ledger) Record(ctx context.Context, clinic string, sub Submission) (Submission, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return Submission{}, err
	}
	if sub.ID == "" {
		sub.ID = util.NewID("sub")
	}
	if !validID(sub.ID) {
		return Submission{}, invalidInput("invalid submission id %q", sub.ID)
	}
	if sub.Timestamp == 0 {
		sub.Timestamp = l.opts.nowMillis()
	}
	sub.Responses = maps.Clone(sub.Responses)
	if sub.Responses == nil {
		sub.Responses = map[string]string{}
	}
	if err := docstore.PutJSON(ctx, l.store, submissionPath(clinic, sub.ID), sub); err != nil {
		return Submission{}, storeUnavailable("record submission", err)
	}
	return sub, nil
}

func (l *Ledger) Get(ctx context.Context, clinic, id string) (Submission, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return Submission{}, err
	}
	if !validID(id) {
		return Submission{}, ErrNotFound
	}
	sub, err := docstore.GetJSON[Submission](ctx, l.store, submissionPath(clinic, id))
	if errors.Is(err, docstore.ErrNotFound) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, storeUnavailable("get submission", err)
	}
	return sub, nil
}

// Delete removes a submission. Removing one that is already gone succeeds.
func (l *Ledger) Delete(ctx context.Context, clinic, id string) error {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return err
	}
	if !validID(id) {
		return invalidInput("invalid submission id %q", id)
	}
	if err := l.store.Delete(ctx, submissionPath(clinic, id)); err != nil {
		return storeUnavailable("delete submission", err)
	}
	return nil
}

// List returns every submission, newest first.
func (l *Ledger) List(ctx context.Context, clinic string) ([]Submission, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return nil, err
	}
	docs, err := l.store.List(ctx, submissionsCollection(clinic))
	if err != nil {
		return nil, storeUnavailable("list submissions", err)
	}
	return decodeSubmissions(docs), nil
}

func (l *Ledger) Watch(ctx context.Context, clinic string, fn func([]Submission)) (docstore.Subscription, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return nil, err
	}
	sub, err := l.store.SubscribeCollection(ctx, submissionsCollection(clinic), func(snap docstore.CollectionSnapshot) {
		fn(decodeSubmissions(snap.Docs))
	})
	if err != nil {
		return nil, storeUnavailable("watch submissions", err)
	}
	return sub, nil
}

func decodeSubmissions(docs []docstore.Document) []Submission {
	subs := make([]Submission, 0, len(docs))
	for _, doc := range docs {
		var sub Submission
		if err := json.Unmarshal(doc.Data, &sub); err != nil {
			log.Printf("intake: skipping unreadable submission %s: %v", doc.ID, err)
			continue
		}
		if sub.ID == "" {
			sub.ID = doc.ID
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Timestamp != subs[j].Timestamp {
			return subs[i].Timestamp > subs[j].Timestamp
		}
		return subs[i].ID > subs[j].ID
	})
	return subs
}
