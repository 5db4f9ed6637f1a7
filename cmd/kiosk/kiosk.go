package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/FireBladesAdi/dental-form-pro/internal/config"
	"github.com/FireBladesAdi/dental-form-pro/internal/device"
	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
	"github.com/FireBladesAdi/dental-form-pro/internal/workflow"
)

// configWait bounds how long a command waits for the clinic config to arrive.
const configWait = 10 * time.Second

var errNoClinic = errors.New("this device has no clinic; run `kiosk clinic set <id>` first")

// kiosk owns the store, the device state and the controller for one
// invocation.
type kiosk struct {
	cfg config.Config

	openStore  func(ctx context.Context) (docstore.Store, error)
	openDevice func() (workflow.ClinicStore, io.Closer, error)

	// clinicOverride replaces the persisted clinic for this run.
	clinicOverride string

	store        docstore.Store
	device       workflow.ClinicStore
	deviceCloser io.Closer
	engine       *intake.Engine
	ctrl         *workflow.Controller
	changes      chan struct{}
}

func newKiosk(cfg config.Config) *kiosk {
	return &kiosk{
		cfg: cfg,
		openStore: func(ctx context.Context) (docstore.Store, error) {
			return docstore.Open(ctx, docstore.Settings{
				Driver:        cfg.StoreDriver,
				Namespace:     cfg.StoreNamespace,
				RedisURL:      cfg.RedisURL,
				DatabaseURL:   cfg.DatabaseURL,
				MigrationsDir: cfg.MigrationsDir,
			})
		},
		openDevice: func() (workflow.ClinicStore, io.Closer, error) {
			s, err := device.Open(cfg.DeviceDir)
			if err != nil {
				return nil, nil, err
			}
			return s, s, nil
		},
	}
}

func (k *kiosk) open(ctx context.Context) error {
	if k.engine != nil {
		return nil
	}
	store, err := k.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	k.store = store

	if k.clinicOverride != "" {
		clinic, err := intake.NormalizeClinicID(k.clinicOverride)
		if err != nil {
			return err
		}
		k.device = &fixedClinic{clinic: clinic}
	} else {
		dev, closer, err := k.openDevice()
		if err != nil {
			return fmt.Errorf("open device state: %w", err)
		}
		k.device, k.deviceCloser = dev, closer
	}
	k.engine = intake.New(store, intake.WithExclusiveClaims(k.cfg.ExclusiveClaims()))
	return nil
}

// start boots a fresh controller from the device's saved clinic.
func (k *kiosk) start(ctx context.Context) error {
	if err := k.open(ctx); err != nil {
		return err
	}
	if k.ctrl != nil {
		k.ctrl.Close()
	}
	// Callbacks from the previous controller may still be running, so each
	// controller notifies its own channel.
	changes := make(chan struct{}, 1)
	ctrl := workflow.NewController(k.engine, k.device)
	ctrl.OnChange(func(workflow.State) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	k.changes, k.ctrl = changes, ctrl
	return ctrl.Start(ctx)
}

// waitFor blocks until the controller state satisfies pred.
func (k *kiosk) waitFor(ctx context.Context, pred func(workflow.State) bool) (workflow.State, error) {
	for {
		st := k.ctrl.State()
		if pred(st) {
			return st, nil
		}
		select {
		case <-k.changes:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// ready starts the controller and waits until it knows whether the clinic
// has been claimed.
func (k *kiosk) ready(ctx context.Context) (workflow.State, error) {
	if err := k.start(ctx); err != nil {
		return workflow.State{}, err
	}
	if k.ctrl.State().View == workflow.ViewClinicGate {
		return workflow.State{}, errNoClinic
	}
	waitCtx, cancel := context.WithTimeout(ctx, configWait)
	defer cancel()
	st, err := k.waitFor(waitCtx, func(s workflow.State) bool {
		return s.Config != nil || s.View == workflow.ViewClinicSetup
	})
	if err != nil {
		return st, fmt.Errorf("waiting for clinic %s: %w", st.Clinic, err)
	}
	return st, nil
}

// staff unlocks the admin or designer screen.
func (k *kiosk) staff(ctx context.Context, role intake.Role, passcode string) (workflow.State, error) {
	st, err := k.ready(ctx)
	if err != nil {
		return st, err
	}
	if st.View == workflow.ViewClinicSetup {
		return st, fmt.Errorf("clinic %s has not been set up; run `kiosk claim` first", st.Clinic)
	}
	if err := k.ctrl.ChooseRole(role); err != nil {
		return st, err
	}
	if err := k.ctrl.SubmitPasscode(passcode); err != nil {
		if errors.Is(err, intake.ErrPasscodeMismatch) {
			return st, fmt.Errorf("incorrect %s passcode", role)
		}
		return st, err
	}
	return k.ctrl.State(), nil
}

func (k *kiosk) close() {
	if k.ctrl != nil {
		k.ctrl.Close()
	}
	if k.store != nil {
		_ = k.store.Close()
	}
	if k.deviceCloser != nil {
		_ = k.deviceCloser.Close()
	}
}

// fixedClinic keeps the clinic in memory for --clinic runs so the device's
// saved clinic is left alone.
type fixedClinic struct {
	clinic string
}

func (f *fixedClinic) Load() (string, error)    { return f.clinic, nil }
func (f *fixedClinic) Save(clinic string) error { f.clinic = clinic; return nil }
func (f *fixedClinic) Clear() error             { f.clinic = ""; return nil }
