package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

// ErrInvalidTransition is returned when an action is not offered by the
// current view.
var ErrInvalidTransition = errors.New("workflow: action not available in this view")

// ClinicStore persists the clinic a device belongs to across restarts.
type ClinicStore interface {
	Load() (string, error)
	Save(clinic string) error
	Clear() error
}

// Controller is the state machine of a single device. Events are applied one
// at a time; store calls run outside the lock so snapshots keep flowing
// while a write is in flight.
type Controller struct {
	engine *intake.Engine
	device ClinicStore

	mu    sync.Mutex
	ctx   context.Context
	state State
	// gen invalidates callbacks from subscriptions that were torn down.
	gen       uint64
	configSub docstore.Subscription
	dataSubs  []docstore.Subscription
	observers []func(State)
}

func NewController(engine *intake.Engine, device ClinicStore) *Controller {
	return &Controller{
		engine: engine,
		device: device,
		ctx:    context.Background(),
		state:  State{View: ViewClinicGate},
	}
}

// OnChange registers fn to receive the state after every transition.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// apply runs fn under the lock and then notifies observers with the result.
func (c *Controller) apply(fn func() error) error {
	c.mu.Lock()
	err := fn()
	snapshot := c.state.clone()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	for _, observe := range observers {
		observe(snapshot)
	}
	return err
}

func (c *Controller) requireView(views ...View) error {
	if !slices.Contains(views, c.state.View) {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, c.state.View)
	}
	return nil
}

// Start restores the device's clinic, if it has one. Subscriptions opened
// later live until ctx ends or Logout.
func (c *Controller) Start(ctx context.Context) error {
	clinic, err := c.device.Load()
	if err != nil {
		return fmt.Errorf("load device clinic: %w", err)
	}
	return c.apply(func() error {
		c.ctx = ctx
		if clinic == "" {
			c.state = State{View: ViewClinicGate}
			return nil
		}
		return c.enterLocked(clinic)
	})
}

// EnterClinic binds the device to a clinic namespace and remembers it.
func (c *Controller) EnterClinic(raw string) error {
	clinic, err := intake.NormalizeClinicID(raw)
	if err != nil {
		return c.apply(func() error {
			c.state.Message = "Please enter a clinic ID."
			return err
		})
	}
	c.mu.Lock()
	err = c.requireView(ViewClinicGate)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.device.Save(clinic); err != nil {
		return fmt.Errorf("save device clinic: %w", err)
	}
	return c.apply(func() error {
		return c.enterLocked(clinic)
	})
}

func (c *Controller) enterLocked(clinic string) error {
	c.closeSubsLocked()
	c.state = State{View: ViewLanding, Clinic: clinic}
	gen := c.gen
	sub, err := c.engine.Registry.Watch(c.ctx, clinic, func(res intake.Resolution) {
		_ = c.apply(func() error {
			if gen == c.gen {
				c.onConfigLocked(res)
			}
			return nil
		})
	})
	if err != nil {
		c.state.Message = "Workspace is unavailable. Check the connection and try again."
		return err
	}
	c.configSub = sub
	return nil
}

func (c *Controller) onConfigLocked(res intake.Resolution) {
	if !res.Exists() {
		c.closeDataLocked()
		c.state.Config = nil
		c.state.View = ViewClinicSetup
		return
	}
	c.state.Config = res.Config
	if c.state.View == ViewClinicSetup {
		c.state.View = ViewLanding
	}
	if c.dataSubs == nil {
		c.openDataLocked()
	}
}

func (c *Controller) openDataLocked() {
	gen, clinic, ctx := c.gen, c.state.Clinic, c.ctx
	guard := func(fn func()) {
		_ = c.apply(func() error {
			if gen == c.gen {
				fn()
			}
			return nil
		})
	}

	subs := make([]docstore.Subscription, 0, 3)
	if sub, err := c.engine.Templates.Watch(ctx, clinic, func(m map[string]intake.FormTemplate) {
		guard(func() { c.state.Templates = intake.SortTemplates(m) })
	}); err == nil {
		subs = append(subs, sub)
	}
	if sub, err := c.engine.Sessions.Watch(ctx, clinic, func(sessions []intake.Session) {
		guard(func() {
			c.state.Sessions = sessions
			if c.state.View == ViewWaitingRoom {
				c.matchLocked()
			}
		})
	}); err == nil {
		subs = append(subs, sub)
	}
	if sub, err := c.engine.Ledger.Watch(ctx, clinic, func(submissions []intake.Submission) {
		guard(func() { c.state.Submissions = submissions })
	}); err == nil {
		subs = append(subs, sub)
	}
	c.dataSubs = subs
}

func (c *Controller) closeDataLocked() {
	for _, sub := range c.dataSubs {
		sub.Close()
	}
	c.dataSubs = nil
	c.state.Templates = nil
	c.state.Sessions = nil
	c.state.Submissions = nil
}

func (c *Controller) closeSubsLocked() {
	c.gen++
	if c.configSub != nil {
		c.configSub.Close()
		c.configSub = nil
	}
	c.closeDataLocked()
}

// matchLocked is the single place a waiting patient is paired with a
// session, whether the session was already open at check-in or appeared
// later.
func (c *Controller) matchLocked() {
	candidates := intake.MatchAll(c.state.Sessions, c.state.PatientName)
	if len(candidates) == 0 {
		return
	}
	if len(candidates) > 1 {
		log.Printf("workflow: %d open sessions match %q in %s, using the newest", len(candidates), c.state.PatientName, c.state.Clinic)
	}
	session, _ := intake.Match(c.state.Sessions, c.state.PatientName)
	c.state.ActiveSession = &session
	c.state.View = ViewPatientForm
	c.state.Message = ""
}

// SetupClinic claims a new clinic namespace.
func (c *Controller) SetupClinic(ctx context.Context, name, adminPasscode, designerPasscode string) error {
	c.mu.Lock()
	if err := c.requireView(ViewClinicSetup); err != nil {
		c.mu.Unlock()
		return err
	}
	clinic, gen := c.state.Clinic, c.gen
	c.mu.Unlock()

	cfg, err := c.engine.Registry.Claim(ctx, clinic, name, adminPasscode, designerPasscode)
	return c.apply(func() error {
		if gen != c.gen {
			return err
		}
		if err != nil {
			c.state.Message = userMessage(err)
			return err
		}
		c.state.Config = &cfg
		c.state.View = ViewLanding
		c.state.Message = ""
		if c.dataSubs == nil {
			c.openDataLocked()
		}
		return nil
	})
}

// ChooseRole leaves the landing screen for the patient, admin or designer
// entrance.
func (c *Controller) ChooseRole(role intake.Role) error {
	return c.apply(func() error {
		if err := c.requireView(ViewLanding); err != nil {
			return err
		}
		c.state.AuthError = ""
		c.state.Message = ""
		switch role {
		case intake.RolePatient:
			c.state.View = ViewPatientGate
			c.state.PatientName = ""
		case intake.RoleAdmin:
			c.state.View = ViewAuthAdmin
		case intake.RoleDesigner:
			c.state.View = ViewAuthDesigner
		default:
			return fmt.Errorf("%w: unknown role %q", ErrInvalidTransition, role)
		}
		return nil
	})
}

// SubmitPasscode unlocks the staff view behind the current auth screen.
func (c *Controller) SubmitPasscode(passcode string) error {
	return c.apply(func() error {
		if err := c.requireView(ViewAuthAdmin, ViewAuthDesigner); err != nil {
			return err
		}
		if c.state.Config == nil {
			c.state.AuthError = msgIncorrectPasscode
			return intake.ErrPasscodeMismatch
		}
		role, next := intake.RoleAdmin, ViewAdminDash
		if c.state.View == ViewAuthDesigner {
			role, next = intake.RoleDesigner, ViewDoctorConfig
		}
		if err := c.engine.Registry.Authorize(*c.state.Config, role, passcode); err != nil {
			c.state.AuthError = msgIncorrectPasscode
			return err
		}
		c.state.AuthError = ""
		c.state.View = next
		return nil
	})
}

// CheckIn records the patient's name and moves to the waiting room, going
// straight on to the form when a session already matches.
func (c *Controller) CheckIn(name string) error {
	return c.apply(func() error {
		if err := c.requireView(ViewPatientGate); err != nil {
			return err
		}
		if strings.TrimSpace(name) == "" {
			c.state.Message = msgNameRequired
			return intake.ErrInvalidInput
		}
		c.state.PatientName = name
		c.state.Message = ""
		c.state.View = ViewWaitingRoom
		c.matchLocked()
		return nil
	})
}

// CancelWaiting returns a waiting patient to the gate.
func (c *Controller) CancelWaiting() error {
	return c.apply(func() error {
		if err := c.requireView(ViewWaitingRoom); err != nil {
			return err
		}
		c.state.View = ViewPatientGate
		c.state.PatientName = ""
		return nil
	})
}

// SubmitForm completes the matched session with the patient's answers.
func (c *Controller) SubmitForm(ctx context.Context, input intake.FormInput) error {
	c.mu.Lock()
	if err := c.requireView(ViewPatientForm); err != nil || c.state.ActiveSession == nil {
		c.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: no active session", ErrInvalidTransition)
		}
		return err
	}
	clinic, session, gen := c.state.Clinic, *c.state.ActiveSession, c.gen
	c.mu.Unlock()

	sub, err := c.engine.Sessions.SubmitForm(ctx, clinic, session, input)
	return c.apply(func() error {
		if gen != c.gen {
			return err
		}
		if err != nil && sub.ID == "" {
			c.state.Message = msgSaveFailed
			return err
		}
		if err != nil {
			// The answers are safe in the ledger; staff can close the
			// session by hand.
			log.Printf("workflow: session %s submitted but still open: %v", session.ID, err)
		}
		c.state.LastSubmission = &sub
		c.state.ActiveSession = nil
		c.state.Message = ""
		c.state.View = ViewSuccess
		return nil
	})
}

// Restart readies the device for the next patient.
func (c *Controller) Restart() error {
	return c.apply(func() error {
		if err := c.requireView(ViewSuccess); err != nil {
			return err
		}
		c.state.View = ViewPatientGate
		c.state.PatientName = ""
		c.state.LastSubmission = nil
		return nil
	})
}

// Back leaves a staff screen or the patient gate for the landing screen.
func (c *Controller) Back() error {
	return c.apply(func() error {
		if err := c.requireView(ViewPatientGate, ViewAuthAdmin, ViewAuthDesigner, ViewAdminDash, ViewDoctorConfig); err != nil {
			return err
		}
		c.state.View = ViewLanding
		c.state.AuthError = ""
		c.state.Message = ""
		c.state.PatientName = ""
		return nil
	})
}

// Logout forgets the clinic and drops every subscription.
func (c *Controller) Logout() error {
	clearErr := c.device.Clear()
	err := c.apply(func() error {
		c.closeSubsLocked()
		c.state = State{View: ViewClinicGate}
		return nil
	})
	if clearErr != nil {
		return fmt.Errorf("clear device clinic: %w", clearErr)
	}
	return err
}

// Close drops every subscription without forgetting the clinic.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSubsLocked()
}

func userMessage(err error) string {
	var ierr *intake.Error
	if errors.As(err, &ierr) {
		switch ierr.Code {
		case intake.CodeStoreUnavailable:
			return "Workspace is unavailable. Check the connection and try again."
		default:
			return ierr.Message
		}
	}
	return err.Error()
}
