package intake

import (
	"time"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
)

// Observer hears about domain events worth counting. Implementations must be
// safe for concurrent use.
type Observer interface {
	SessionCreated()
	SessionCompleted()
	SessionCancelled()
	SessionMatched()
	PasscodeRejected(role Role)
}

type nopObserver struct{}

func (nopObserver) SessionCreated()       {}
func (nopObserver) SessionCompleted()     {}
func (nopObserver) SessionCancelled()     {}
func (nopObserver) SessionMatched()       {}
func (nopObserver) PasscodeRejected(Role) {}

type options struct {
	now             func() time.Time
	exclusiveClaims bool
	observer        Observer
}

type Option func(*options)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithExclusiveClaims makes Claim fail with ErrAlreadyClaimed instead of
// overwriting an existing clinic config.
func WithExclusiveClaims(exclusive bool) Option {
	return func(o *options) { o.exclusiveClaims = exclusive }
}

func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) nowMillis() int64 {
	return o.now().UnixMilli()
}

// Engine bundles the four components over one store.
type Engine struct {
	Registry  *Registry
	Templates *TemplateLibrary
	Sessions  *SessionEngine
	Ledger    *Ledger
}

func New(store docstore.Store, opts ...Option) *Engine {
	o := buildOptions(opts)
	templates := &TemplateLibrary{store: store, opts: o}
	ledger := &Ledger{store: store, opts: o}
	return &Engine{
		Registry:  &Registry{store: store, opts: o},
		Templates: templates,
		Sessions:  &SessionEngine{store: store, templates: templates, ledger: ledger, opts: o},
		Ledger:    ledger,
	}
}
