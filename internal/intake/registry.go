package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
)

type ResolutionState string

const (
	// StateNew means nobody has claimed the namespace yet.
	StateNew    ResolutionState = "NEW"
	StateExists ResolutionState = "EXISTS"
)

type Resolution struct {
	Clinic string          `json:"clinic"`
	State  ResolutionState `json:"state"`
	Config *ClinicConfig   `json:"config,omitempty"`
}

func (r Resolution) Exists() bool { return r.State == StateExists }

// Registry resolves clinic namespaces and establishes their configuration.
type Registry struct {
	store docstore.Store
	opts  options
}

func NewRegistry(store docstore.Store, opts ...Option) *Registry {
	return &Registry{store: store, opts: buildOptions(opts)}
}

func (r *Registry) Resolve(ctx context.Context, clinic string) (Resolution, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return Resolution{}, err
	}
	data, err := r.store.Get(ctx, configPath(clinic))
	if errors.Is(err, docstore.ErrNotFound) {
		return Resolution{Clinic: clinic, State: StateNew}, nil
	}
	if err != nil {
		return Resolution{}, storeUnavailable("resolve clinic", err)
	}
	return decodeResolution(clinic, data)
}

func decodeResolution(clinic string, data json.RawMessage) (Resolution, error) {
	var cfg ClinicConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Resolution{}, storeUnavailable("decode clinic config", err)
	}
	return Resolution{Clinic: clinic, State: StateExists, Config: &cfg}, nil
}

// Watch delivers the clinic's resolution now and after every change to its
// config document.
func (r *Registry) Watch(ctx context.Context, clinic string, fn func(Resolution)) (docstore.Subscription, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return nil, err
	}
	sub, err := r.store.SubscribeDoc(ctx, configPath(clinic), func(snap docstore.DocSnapshot) {
		if !snap.Exists {
			fn(Resolution{Clinic: clinic, State: StateNew})
			return
		}
		res, err := decodeResolution(clinic, snap.Data)
		if err != nil {
			return
		}
		fn(res)
	})
	if err != nil {
		return nil, storeUnavailable("watch clinic", err)
	}
	return sub, nil
}

// Claim writes the clinic's configuration. By default the write is
// unconditional and a concurrent claim can overwrite it; with exclusive
// claims the second claimant gets ErrAlreadyClaimed.
func (r *Registry) Claim(ctx context.Context, clinic, name, adminPasscode, designerPasscode string) (ClinicConfig, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return ClinicConfig{}, err
	}
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ClinicConfig{}, invalidInput("clinic name is required")
	case adminPasscode == "":
		return ClinicConfig{}, invalidInput("admin passcode is required")
	case designerPasscode == "":
		return ClinicConfig{}, invalidInput("designer passcode is required")
	}

	cfg := ClinicConfig{
		Name:             name,
		AdminPasscode:    adminPasscode,
		DesignerPasscode: designerPasscode,
		CreatedAt:        r.opts.nowMillis(),
	}
	if r.opts.exclusiveClaims {
		err = docstore.CreateJSON(ctx, r.store, configPath(clinic), cfg)
		if errors.Is(err, docstore.ErrExists) {
			return ClinicConfig{}, &Error{Code: CodeAlreadyClaimed, Message: "clinic " + clinic + " is already registered"}
		}
	} else {
		err = docstore.PutJSON(ctx, r.store, configPath(clinic), cfg)
	}
	if err != nil {
		return ClinicConfig{}, storeUnavailable("claim clinic", err)
	}
	log.Printf("intake: clinic %s claimed as %q", clinic, name)
	return cfg, nil
}

// Authorize compares attempt with the passcode stored for role. Patients need
// no passcode.
func (r *Registry) Authorize(cfg ClinicConfig, role Role, attempt string) error {
	var want string
	switch role {
	case RolePatient:
		return nil
	case RoleAdmin:
		want = cfg.AdminPasscode
	case RoleDesigner:
		want = cfg.DesignerPasscode
	default:
		return invalidInput("unknown role %q", role)
	}
	if attempt != want {
		r.opts.observer.PasscodeRejected(role)
		return ErrPasscodeMismatch
	}
	return nil
}
