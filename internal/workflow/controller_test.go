package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FireBladesAdi/dental-form-pro/internal/device"
	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type fixture struct {
	store  *docstore.MemoryStore
	engine *intake.Engine
	device *device.ClinicStore
	ctrl   *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := docstore.NewMemoryStore()
	dev, err := device.OpenInMemory()
	require.NoError(t, err)
	engine := intake.New(store)
	ctrl := NewController(engine, dev)
	t.Cleanup(func() {
		ctrl.Close()
		_ = dev.Close()
		_ = store.Close()
	})
	return &fixture{store: store, engine: engine, device: dev, ctrl: ctrl}
}

func (f *fixture) waitView(t *testing.T, view View) {
	t.Helper()
	require.Eventually(t, func() bool { return f.ctrl.State().View == view }, waitFor, tick,
		"expected view %s, still at %s", view, f.ctrl.State().View)
}

// claimed returns a fixture bound to a claimed clinic and sitting on the
// landing screen with its data subscriptions open.
func claimed(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	_, err := f.engine.Registry.Claim(context.Background(), "smile-dental", "Smile Dental", "1111", "2222")
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Start(context.Background()))
	require.NoError(t, f.ctrl.EnterClinic("Smile Dental"))
	require.Eventually(t, func() bool { return f.ctrl.State().Config != nil }, waitFor, tick)
	assert.Equal(t, ViewLanding, f.ctrl.State().View)
	return f
}

func TestStartWithoutClinicShowsGate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Start(context.Background()))
	assert.Equal(t, ViewClinicGate, f.ctrl.State().View)
}

func TestNewClinicGoesToSetupThenLanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Start(ctx))

	require.NoError(t, f.ctrl.EnterClinic("  Smile Dental "))
	f.waitView(t, ViewClinicSetup)
	assert.Equal(t, "smile-dental", f.ctrl.State().Clinic)

	saved, err := f.device.Load()
	require.NoError(t, err)
	assert.Equal(t, "smile-dental", saved)

	require.NoError(t, f.ctrl.SetupClinic(ctx, "Smile Dental", "1111", "2222"))
	state := f.ctrl.State()
	assert.Equal(t, ViewLanding, state.View)
	require.NotNil(t, state.Config)
	assert.Equal(t, "Smile Dental", state.Config.Name)

	res, err := f.engine.Registry.Resolve(ctx, "smile-dental")
	require.NoError(t, err)
	assert.True(t, res.Exists())
}

func TestSetupClinicReportsMissingFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.Start(ctx))
	require.NoError(t, f.ctrl.EnterClinic("new-clinic"))
	f.waitView(t, ViewClinicSetup)

	err := f.ctrl.SetupClinic(ctx, "", "1111", "2222")
	require.ErrorIs(t, err, intake.ErrInvalidInput)
	state := f.ctrl.State()
	assert.Equal(t, ViewClinicSetup, state.View)
	assert.NotEmpty(t, state.Message)
}

func TestStartRestoresSavedClinic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Registry.Claim(ctx, "seablue", "Seablue Dental", "1", "2")
	require.NoError(t, err)
	require.NoError(t, f.device.Save("seablue"))

	require.NoError(t, f.ctrl.Start(ctx))
	assert.Equal(t, ViewLanding, f.ctrl.State().View)
	require.Eventually(t, func() bool {
		cfg := f.ctrl.State().Config
		return cfg != nil && cfg.Name == "Seablue Dental"
	}, waitFor, tick)
}

func TestEnterClinicRejectsBlank(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Start(context.Background()))
	require.ErrorIs(t, f.ctrl.EnterClinic("   "), intake.ErrInvalidInput)
	assert.Equal(t, ViewClinicGate, f.ctrl.State().View)
}

func TestPasscodeGates(t *testing.T) {
	f := claimed(t)

	require.NoError(t, f.ctrl.ChooseRole(intake.RoleAdmin))
	assert.Equal(t, ViewAuthAdmin, f.ctrl.State().View)

	err := f.ctrl.SubmitPasscode("2222")
	require.ErrorIs(t, err, intake.ErrPasscodeMismatch)
	state := f.ctrl.State()
	assert.Equal(t, ViewAuthAdmin, state.View)
	assert.Equal(t, "Incorrect passcode.", state.AuthError)

	require.NoError(t, f.ctrl.SubmitPasscode("1111"))
	state = f.ctrl.State()
	assert.Equal(t, ViewAdminDash, state.View)
	assert.Empty(t, state.AuthError)

	require.NoError(t, f.ctrl.Back())
	require.NoError(t, f.ctrl.ChooseRole(intake.RoleDesigner))
	require.NoError(t, f.ctrl.SubmitPasscode("2222"))
	assert.Equal(t, ViewDoctorConfig, f.ctrl.State().View)
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	f := claimed(t)

	assert.ErrorIs(t, f.ctrl.CheckIn("Jane"), ErrInvalidTransition)
	assert.ErrorIs(t, f.ctrl.SubmitPasscode("1111"), ErrInvalidTransition)
	assert.ErrorIs(t, f.ctrl.Restart(), ErrInvalidTransition)
	assert.ErrorIs(t, f.ctrl.SubmitForm(context.Background(), nil), ErrInvalidTransition)
	_, err := f.ctrl.CreateSession(context.Background(), "Jane", "form_x")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ViewLanding, f.ctrl.State().View)
}

func TestCheckInRequiresName(t *testing.T) {
	f := claimed(t)
	require.NoError(t, f.ctrl.ChooseRole(intake.RolePatient))

	err := f.ctrl.CheckIn("   ")
	require.ErrorIs(t, err, intake.ErrInvalidInput)
	state := f.ctrl.State()
	assert.Equal(t, ViewPatientGate, state.View)
	assert.Equal(t, "Please enter your name.", state.Message)
}

func TestCheckInMatchesImmediately(t *testing.T) {
	f := claimed(t)
	ctx := context.Background()
	tmpl := createTemplate(t, f, "Intake", intake.FieldSpec{Label: "Reason", Type: intake.FieldText})
	session, err := f.engine.Sessions.CreateSession(ctx, "smile-dental", "Jane Doe", tmpl.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.ctrl.State().Sessions) == 1 }, waitFor, tick)

	require.NoError(t, f.ctrl.ChooseRole(intake.RolePatient))
	require.NoError(t, f.ctrl.CheckIn("jane doe"))

	state := f.ctrl.State()
	assert.Equal(t, ViewPatientForm, state.View)
	require.NotNil(t, state.ActiveSession)
	assert.Equal(t, session.ID, state.ActiveSession.ID)
}

func TestWaitingRoomMatchesLaterSession(t *testing.T) {
	f := claimed(t)
	ctx := context.Background()
	tmpl := createTemplate(t, f, "T1",
		intake.FieldSpec{Label: "How do you feel?", Type: intake.FieldText},
		intake.FieldSpec{Label: "Pain", Type: intake.FieldPainScale},
	)

	require.NoError(t, f.ctrl.ChooseRole(intake.RolePatient))
	require.NoError(t, f.ctrl.CheckIn("john smith"))
	assert.Equal(t, ViewWaitingRoom, f.ctrl.State().View)

	// Staff on another device queue the patient.
	session, err := f.engine.Sessions.CreateSession(ctx, "smile-dental", "John Smith", tmpl.ID)
	require.NoError(t, err)
	f.waitView(t, ViewPatientForm)

	state := f.ctrl.State()
	require.NotNil(t, state.ActiveSession)
	assert.Equal(t, session.ID, state.ActiveSession.ID)
	fields := state.ActiveSession.FormData.Fields
	require.Len(t, fields, 2)

	err = f.ctrl.SubmitForm(ctx, intake.FormInput{fields[0].ID: {"ok"}, fields[1].ID: {"7"}})
	require.NoError(t, err)
	state = f.ctrl.State()
	assert.Equal(t, ViewSuccess, state.View)
	require.NotNil(t, state.LastSubmission)
	assert.Equal(t, map[string]string{"How do you feel?": "ok", "Pain": "7"}, state.LastSubmission.Responses)

	subs, err := f.engine.Ledger.List(ctx, "smile-dental")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	open, err := f.engine.Sessions.List(ctx, "smile-dental")
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, f.ctrl.Restart())
	state = f.ctrl.State()
	assert.Equal(t, ViewPatientGate, state.View)
	assert.Empty(t, state.PatientName)
}

func TestCancelWaitingStopsMatching(t *testing.T) {
	f := claimed(t)
	ctx := context.Background()
	tmpl := createTemplate(t, f, "Intake")

	require.NoError(t, f.ctrl.ChooseRole(intake.RolePatient))
	require.NoError(t, f.ctrl.CheckIn("Ann"))
	require.NoError(t, f.ctrl.CancelWaiting())
	assert.Equal(t, ViewPatientGate, f.ctrl.State().View)

	_, err := f.engine.Sessions.CreateSession(ctx, "smile-dental", "Ann", tmpl.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.ctrl.State().Sessions) == 1 }, waitFor, tick)
	assert.Equal(t, ViewPatientGate, f.ctrl.State().View)
}

func TestSubmitFormFailureKeepsView(t *testing.T) {
	store := docstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	failing := &failingPutStore{Store: store}
	dev, err := device.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	engine := intake.New(failing)
	ctrl := NewController(engine, dev)
	t.Cleanup(ctrl.Close)
	ctx := context.Background()

	_, err = engine.Registry.Claim(ctx, "smile", "Smile", "1", "2")
	require.NoError(t, err)
	tmpl, err := engine.Templates.CreateTemplate(ctx, "smile", "Intake")
	require.NoError(t, err)
	_, err = engine.Sessions.CreateSession(ctx, "smile", "Ann", tmpl.ID)
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(ctx))
	require.NoError(t, ctrl.EnterClinic("smile"))
	require.Eventually(t, func() bool { return len(ctrl.State().Sessions) == 1 }, waitFor, tick)
	require.NoError(t, ctrl.ChooseRole(intake.RolePatient))
	require.NoError(t, ctrl.CheckIn("ann"))
	require.Equal(t, ViewPatientForm, ctrl.State().View)

	failing.setFailing(true)
	err = ctrl.SubmitForm(ctx, intake.FormInput{})
	require.ErrorIs(t, err, intake.ErrStoreUnavailable)
	state := ctrl.State()
	assert.Equal(t, ViewPatientForm, state.View)
	assert.NotEmpty(t, state.Message)

	failing.setFailing(false)
	require.NoError(t, ctrl.SubmitForm(ctx, intake.FormInput{}))
	assert.Equal(t, ViewSuccess, ctrl.State().View)
}

func TestAdminActions(t *testing.T) {
	f := claimed(t)
	ctx := context.Background()
	tmpl := createTemplate(t, f, "Intake")

	require.NoError(t, f.ctrl.ChooseRole(intake.RoleAdmin))
	require.NoError(t, f.ctrl.SubmitPasscode("1111"))

	session, err := f.ctrl.CreateSession(ctx, "Ann", tmpl.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.ctrl.State().Sessions) == 1 }, waitFor, tick)

	_, err = f.ctrl.CreateSession(ctx, "Bob", "form_missing")
	require.ErrorIs(t, err, intake.ErrInvalidTemplate)
	assert.NotEmpty(t, f.ctrl.State().Message)

	require.NoError(t, f.ctrl.CancelSession(ctx, session.ID))
	require.Eventually(t, func() bool { return len(f.ctrl.State().Sessions) == 0 }, waitFor, tick)

	sub, err := f.engine.Ledger.Record(ctx, "smile-dental", intake.Submission{PatientName: "Ann"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.ctrl.State().Submissions) == 1 }, waitFor, tick)
	require.NoError(t, f.ctrl.DeleteSubmission(ctx, sub.ID))
	require.Eventually(t, func() bool { return len(f.ctrl.State().Submissions) == 0 }, waitFor, tick)
}

func TestDesignerActions(t *testing.T) {
	f := claimed(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.ChooseRole(intake.RoleDesigner))
	require.NoError(t, f.ctrl.SubmitPasscode("2222"))

	tmpl, err := f.ctrl.CreateTemplate(ctx, "Recall")
	require.NoError(t, err)
	_, err = f.ctrl.AddField(ctx, tmpl.ID, intake.FieldSpec{Label: "Flossing", Type: intake.FieldRadio})
	require.NoError(t, err)
	_, err = f.ctrl.AddField(ctx, tmpl.ID, intake.FieldSpec{Label: "Notes", Type: intake.FieldLongNote})
	require.NoError(t, err)
	require.NoError(t, f.ctrl.RemoveField(ctx, tmpl.ID, 0))

	require.Eventually(t, func() bool {
		templates := f.ctrl.State().Templates
		return len(templates) == 1 && len(templates[0].Fields) == 1 && templates[0].Fields[0].Label == "Notes"
	}, waitFor, tick)

	require.NoError(t, f.ctrl.DeleteTemplate(ctx, tmpl.ID, ""))
	require.Eventually(t, func() bool { return len(f.ctrl.State().Templates) == 0 }, waitFor, tick)
}

func TestLogoutForgetsClinic(t *testing.T) {
	f := claimed(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Logout())
	state := f.ctrl.State()
	assert.Equal(t, ViewClinicGate, state.View)
	assert.Empty(t, state.Clinic)
	assert.Nil(t, state.Config)

	saved, err := f.device.Load()
	require.NoError(t, err)
	assert.Empty(t, saved)

	// Changes after logout no longer reach this device.
	_, err = f.engine.Registry.Claim(ctx, "smile-dental", "Renamed", "1", "2")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, f.ctrl.State().Config)
}

func TestObserversSeeTransitions(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var views []View
	f.ctrl.OnChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, s.View)
	})

	require.NoError(t, f.ctrl.Start(context.Background()))
	require.NoError(t, f.ctrl.EnterClinic("fresh"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(views) > 0 && views[len(views)-1] == ViewClinicSetup
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ViewClinicGate, views[0])
}

func TestStateIsACopy(t *testing.T) {
	f := claimed(t)
	createTemplate(t, f, "Intake", intake.FieldSpec{Label: "A", Type: intake.FieldText})
	require.Eventually(t, func() bool { return len(f.ctrl.State().Templates) == 1 }, waitFor, tick)

	state := f.ctrl.State()
	state.Templates[0].Fields[0].Label = "mutated"
	state.Config.Name = "mutated"

	fresh := f.ctrl.State()
	assert.Equal(t, "A", fresh.Templates[0].Fields[0].Label)
	assert.Equal(t, "Smile Dental", fresh.Config.Name)
}

func createTemplate(t *testing.T, f *fixture, name string, fields ...intake.FieldSpec) intake.FormTemplate {
	t.Helper()
	ctx := context.Background()
	tmpl, err := f.engine.Templates.CreateTemplate(ctx, "smile-dental", name)
	require.NoError(t, err)
	for _, field := range fields {
		_, err := f.engine.Templates.AddField(ctx, "smile-dental", tmpl.ID, field)
		require.NoError(t, err)
	}
	tmpl, err = f.engine.Templates.Get(ctx, "smile-dental", tmpl.ID)
	require.NoError(t, err)
	return tmpl
}

// failingPutStore refuses writes to the ledger while failing is set.
type failingPutStore struct {
	docstore.Store
	mu      sync.Mutex
	failing bool
}

func (s *failingPutStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *failingPutStore) Put(ctx context.Context, path string, doc json.RawMessage) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errors.New("write refused")
	}
	return s.Store.Put(ctx, path, doc)
}
