package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
)

func TestCreateSessionSnapshotsTemplate(t *testing.T) {
	obs := &countingObserver{}
	e, _ := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "Intake", FieldSpec{Label: "Reason", Type: FieldText})

	session, err := e.Sessions.CreateSession(ctx, "smile", "  John Smith ", tmpl.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if !strings.HasPrefix(session.ID, "sess_") || session.PatientName != "John Smith" || session.Status != SessionPending {
		t.Errorf("unexpected session %+v", session)
	}
	if session.FormName != "Intake" || session.FormID != tmpl.ID {
		t.Errorf("unexpected form reference %+v", session)
	}

	// Designer edits and deletes after the session exists.
	if _, err := e.Templates.AddField(ctx, "smile", tmpl.ID, FieldSpec{Label: "Late", Type: FieldText}); err != nil {
		t.Fatalf("AddField failed: %v", err)
	}
	if err := e.Templates.DeleteTemplate(ctx, "smile", tmpl.ID, ""); err != nil {
		t.Fatalf("DeleteTemplate failed: %v", err)
	}

	stored, err := e.Sessions.Get(ctx, "smile", session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(stored.FormData.Fields) != 1 || stored.FormData.Fields[0].Label != "Reason" {
		t.Errorf("session snapshot changed: %+v", stored.FormData.Fields)
	}
	if obs.created != 1 {
		t.Errorf("expected one created session, got %d", obs.created)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "Intake")

	if _, err := e.Sessions.CreateSession(ctx, "smile", "Jane", "form_missing"); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("missing template: got %v", err)
	}
	if _, err := e.Sessions.CreateSession(ctx, "smile", "   ", tmpl.ID); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank name: got %v", err)
	}
	sessions, _ := e.Sessions.List(ctx, "smile")
	if len(sessions) != 0 {
		t.Errorf("failed creations must not write sessions, got %d", len(sessions))
	}
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "Intake")
	created, err := e.Sessions.CreateSession(ctx, "smile", "Jane Doe", tmpl.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for _, typed := range []string{"Jane Doe", "jane doe", "JANE DOE"} {
		got, err := e.Sessions.MatchSession(ctx, "smile", typed)
		if err != nil {
			t.Errorf("MatchSession(%q) failed: %v", typed, err)
			continue
		}
		if got.ID != created.ID {
			t.Errorf("MatchSession(%q) = %s, want %s", typed, got.ID, created.ID)
		}
	}

	for _, typed := range []string{"Jane", "Jane  Doe", " Jane Doe ", ""} {
		if _, err := e.Sessions.MatchSession(ctx, "smile", typed); !errors.Is(err, ErrNoMatch) {
			t.Errorf("MatchSession(%q) error = %v, want ErrNoMatch", typed, err)
		}
	}
}

func TestMatchPrefersNewestDuplicate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "Intake")

	if _, err := e.Sessions.CreateSession(ctx, "smile", "Sam Lee", tmpl.ID); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	newer, err := e.Sessions.CreateSession(ctx, "smile", "sam lee", tmpl.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	sessions, err := e.Sessions.List(ctx, "smile")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	got, ok := Match(sessions, "Sam Lee")
	if !ok || got.ID != newer.ID {
		t.Errorf("expected newest session %s, got %s", newer.ID, got.ID)
	}
	if all := MatchAll(sessions, "SAM LEE"); len(all) != 2 {
		t.Errorf("expected both candidates, got %d", len(all))
	}
}

func TestWaitForMatchFindsLaterSession(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tmpl := mustTemplate(t, e, "smile", "Intake")

	type result struct {
		session Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := e.Sessions.WaitForMatch(ctx, "smile", "john smith")
		done <- result{s, err}
	}()

	// Unrelated sessions do not wake the patient up.
	if _, err := e.Sessions.CreateSession(ctx, "smile", "Someone Else", tmpl.ID); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	select {
	case r := <-done:
		t.Fatalf("matched too early: %+v", r)
	default:
	}

	created, err := e.Sessions.CreateSession(ctx, "smile", "John Smith", tmpl.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	r := <-done
	if r.err != nil {
		t.Fatalf("WaitForMatch failed: %v", r.err)
	}
	if r.session.ID != created.ID {
		t.Errorf("matched %s, want %s", r.session.ID, created.ID)
	}
}

func TestWaitForMatchHonoursContext(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := e.Sessions.WaitForMatch(ctx, "smile", "Nobody"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if _, err := e.Sessions.WaitForMatch(context.Background(), "smile", " "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank name, got %v", err)
	}
}

func TestCheckInScenario(t *testing.T) {
	obs := &countingObserver{}
	e, _ := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "T1",
		FieldSpec{Label: "How are you?", Type: FieldText},
		FieldSpec{Label: "Pain", Type: FieldPainScale},
	)

	if _, err := e.Sessions.CreateSession(ctx, "smile", "John Smith", tmpl.ID); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	session, err := e.Sessions.MatchSession(ctx, "smile", "john smith")
	if err != nil {
		t.Fatalf("MatchSession failed: %v", err)
	}
	if len(session.FormData.Fields) != 2 {
		t.Fatalf("expected two fields to render, got %d", len(session.FormData.Fields))
	}

	input := FormInput{
		session.FormData.Fields[0].ID: {"ok"},
		session.FormData.Fields[1].ID: {"7"},
	}
	sub, err := e.Sessions.SubmitForm(ctx, "smile", session, input)
	if err != nil {
		t.Fatalf("SubmitForm failed: %v", err)
	}
	if sub.Responses["How are you?"] != "ok" || sub.Responses["Pain"] != "7" || len(sub.Responses) != 2 {
		t.Errorf("unexpected responses %v", sub.Responses)
	}
	if sub.PatientName != "John Smith" || sub.FormName != "T1" {
		t.Errorf("unexpected submission %+v", sub)
	}

	subs, _ := e.Ledger.List(ctx, "smile")
	if len(subs) != 1 || subs[0].ID != sub.ID {
		t.Fatalf("expected ledger to hold the submission, got %+v", subs)
	}
	sessions, _ := e.Sessions.List(ctx, "smile")
	if len(sessions) != 0 {
		t.Errorf("expected the session to be closed, got %d open", len(sessions))
	}
	if obs.completed != 1 || obs.matched != 1 {
		t.Errorf("unexpected counts completed=%d matched=%d", obs.completed, obs.matched)
	}
}

func TestCompleteSessionDefaultsFormName(t *testing.T) {
	e, _ := newTestEngine(t)
	session := Session{ID: "sess_legacy", PatientName: "Ann"}

	sub, err := e.Sessions.CompleteSession(context.Background(), "smile", session, nil)
	if err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}
	if sub.FormName != "Intake Form" || sub.Responses == nil {
		t.Errorf("unexpected submission %+v", sub)
	}
}

func TestCompleteSessionLedgerFailureLeavesSessionOpen(t *testing.T) {
	base, mem := newTestEngine(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, base, "smile", "Intake")
	session, err := base.Sessions.CreateSession(ctx, "smile", "Ann", tmpl.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	faulty := &faultyStore{Store: mem, putFn: func(path string) error {
		if strings.Contains(path, "/submissions/") {
			return errors.New("write refused")
		}
		return nil
	}}
	e := New(faulty)

	if _, err := e.Sessions.CompleteSession(ctx, "smile", session, map[string]string{"a": "b"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := base.Sessions.Get(ctx, "smile", session.ID); err != nil {
		t.Errorf("session must survive a failed ledger write: %v", err)
	}
	subs, _ := base.Ledger.List(ctx, "smile")
	if len(subs) != 0 {
		t.Errorf("expected no submissions, got %d", len(subs))
	}
}

func TestCompleteSessionDeleteFailureKeepsSubmission(t *testing.T) {
	base, mem := newTestEngine(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, base, "smile", "Intake")
	session, err := base.Sessions.CreateSession(ctx, "smile", "Ann", tmpl.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	faulty := &faultyStore{Store: mem, deleteFn: func(path string) error {
		return errors.New("delete refused")
	}}
	e := New(faulty)

	sub, err := e.Sessions.CompleteSession(ctx, "smile", session, map[string]string{"a": "b"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if sub.ID == "" {
		t.Fatal("expected the recorded submission to be returned")
	}
	if _, err := base.Ledger.Get(ctx, "smile", sub.ID); err != nil {
		t.Errorf("submission must exist: %v", err)
	}
	if _, err := base.Sessions.Get(ctx, "smile", session.ID); err != nil {
		t.Errorf("session should still look open: %v", err)
	}
}

func TestCancelSession(t *testing.T) {
	obs := &countingObserver{}
	e, _ := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "Intake")
	session, _ := e.Sessions.CreateSession(ctx, "smile", "Ann", tmpl.ID)

	for i := 0; i < 2; i++ {
		if err := e.Sessions.CancelSession(ctx, "smile", session.ID); err != nil {
			t.Fatalf("CancelSession #%d failed: %v", i+1, err)
		}
	}
	if _, err := e.Sessions.Get(ctx, "smile", session.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := e.Sessions.CancelSession(ctx, "smile", "a/b"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad id, got %v", err)
	}
	if obs.cancelled != 2 {
		t.Errorf("expected two cancellations, got %d", obs.cancelled)
	}
}

func TestListSurfacesStoreFailure(t *testing.T) {
	_, mem := newTestEngine(t)
	e := New(&faultyStore{Store: mem, listFn: func(string) error { return errors.New("timeout") }})

	if _, err := e.Sessions.List(context.Background(), "smile"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := e.Sessions.MatchSession(context.Background(), "smile", "Ann"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSessionsAcrossRedisClients(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	staffStore, err := docstore.NewRedisStore("redis://"+mr.Addr(), "test")
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer staffStore.Close()
	patientStore, err := docstore.NewRedisStore("redis://"+mr.Addr(), "test")
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer patientStore.Close()

	staff := New(staffStore)
	patient := New(patientStore)
	tmpl := mustTemplate(t, staff, "smile", "Intake", FieldSpec{Label: "Reason", Type: FieldText})

	matched := make(chan Session, 1)
	errs := make(chan error, 1)
	go func() {
		s, err := patient.Sessions.WaitForMatch(ctx, "smile", "JOHN SMITH")
		if err != nil {
			errs <- err
			return
		}
		matched <- s
	}()

	created, err := staff.Sessions.CreateSession(ctx, "smile", "John Smith", tmpl.ID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	var session Session
	select {
	case session = <-matched:
	case err := <-errs:
		t.Fatalf("WaitForMatch failed: %v", err)
	}
	if session.ID != created.ID {
		t.Fatalf("matched %s, want %s", session.ID, created.ID)
	}

	sub, err := patient.Sessions.SubmitForm(ctx, "smile", session, FormInput{session.FormData.Fields[0].ID: {"checkup"}})
	if err != nil {
		t.Fatalf("SubmitForm failed: %v", err)
	}
	got, err := staff.Ledger.Get(ctx, "smile", sub.ID)
	if err != nil {
		t.Fatalf("staff cannot see submission: %v", err)
	}
	if got.Responses["Reason"] != "checkup" {
		t.Errorf("unexpected responses %v", got.Responses)
	}
}
