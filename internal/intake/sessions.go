package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/util"
)

// SessionEngine manages the open-session queue. A session is open while its
// document exists and closed once deleted; matching a patient to a session
// happens on each patient device and is never written back.
type SessionEngine struct {
	store     docstore.Store
	templates *TemplateLibrary
	ledger    *Ledger
	opts      options
}

func NewSessionEngine(store docstore.Store, opts ...Option) *SessionEngine {
	return New(store, opts...).Sessions
}

// CreateSession queues a patient against a snapshot of the template as it is
// right now. Later template edits do not reach the session.
func (s *SessionEngine) CreateSession(ctx context.Context, clinic, patientName, templateID string) (Session, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return Session{}, err
	}
	patientName = strings.TrimSpace(patientName)
	if patientName == "" {
		return Session{}, invalidInput("patient name is required")
	}
	tmpl, err := s.templates.Get(ctx, clinic, templateID)
	if err != nil {
		return Session{}, err
	}

	session := Session{
		ID:          util.NewID("sess"),
		PatientName: patientName,
		FormID:      tmpl.ID,
		FormName:    tmpl.Name,
		FormData:    tmpl.Clone(),
		Status:      SessionPending,
		CreatedAt:   s.opts.nowMillis(),
	}
	if err := docstore.PutJSON(ctx, s.store, sessionPath(clinic, session.ID), session); err != nil {
		return Session{}, storeUnavailable("create session", err)
	}
	s.opts.observer.SessionCreated()
	return session, nil
}

// List returns the open sessions, newest first.
func (s *SessionEngine) List(ctx context.Context, clinic string) ([]Session, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, sessionsCollection(clinic))
	if err != nil {
		return nil, storeUnavailable("list sessions", err)
	}
	return decodeSessions(docs), nil
}

// Watch delivers the open-session set, newest first, now and after every
// change.
func (s *SessionEngine) Watch(ctx context.Context, clinic string, fn func([]Session)) (docstore.Subscription, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.SubscribeCollection(ctx, sessionsCollection(clinic), func(snap docstore.CollectionSnapshot) {
		fn(decodeSessions(snap.Docs))
	})
	if err != nil {
		return nil, storeUnavailable("watch sessions", err)
	}
	return sub, nil
}

func decodeSessions(docs []docstore.Document) []Session {
	sessions := make([]Session, 0, len(docs))
	for _, doc := range docs {
		var session Session
		if err := json.Unmarshal(doc.Data, &session); err != nil {
			log.Printf("intake: skipping unreadable session %s: %v", doc.ID, err)
			continue
		}
		if session.ID == "" {
			session.ID = doc.ID
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt != sessions[j].CreatedAt {
			return sessions[i].CreatedAt > sessions[j].CreatedAt
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions
}

// Match finds the session a patient is looking for: the first one, in the
// given order, whose patient name equals typedName ignoring case.
func Match(sessions []Session, typedName string) (Session, bool) {
	if strings.TrimSpace(typedName) == "" {
		return Session{}, false
	}
	for _, session := range sessions {
		if strings.EqualFold(session.PatientName, typedName) {
			return session, true
		}
	}
	return Session{}, false
}

// MatchAll returns every session Match would consider, so callers can notice
// two patients queued under the same name.
func MatchAll(sessions []Session, typedName string) []Session {
	if strings.TrimSpace(typedName) == "" {
		return nil
	}
	var out []Session
	for _, session := range sessions {
		if strings.EqualFold(session.PatientName, typedName) {
			out = append(out, session)
		}
	}
	return out
}

// MatchSession looks for a match in the current session set once.
func (s *SessionEngine) MatchSession(ctx context.Context, clinic, typedName string) (Session, error) {
	sessions, err := s.List(ctx, clinic)
	if err != nil {
		return Session{}, err
	}
	session, ok := Match(sessions, typedName)
	if !ok {
		return Session{}, ErrNoMatch
	}
	s.opts.observer.SessionMatched()
	return session, nil
}

// WaitForMatch blocks until a session matching typedName is open, including
// sessions created after the wait began, or ctx ends.
func (s *SessionEngine) WaitForMatch(ctx context.Context, clinic, typedName string) (Session, error) {
	if strings.TrimSpace(typedName) == "" {
		return Session{}, invalidInput("patient name is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan Session, 1)
	sub, err := s.Watch(ctx, clinic, func(sessions []Session) {
		if session, ok := Match(sessions, typedName); ok {
			select {
			case found <- session:
			default:
			}
		}
	})
	if err != nil {
		return Session{}, err
	}
	defer sub.Close()

	select {
	case session := <-found:
		s.opts.observer.SessionMatched()
		return session, nil
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// CompleteSession records the patient's responses and closes the session.
// The submission is written first: if that fails the session stays open, and
// if closing the session fails the submission is returned along with the
// error so nothing the patient typed is lost.
func (s *SessionEngine) CompleteSession(ctx context.Context, clinic string, session Session, responses map[string]string) (Submission, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return Submission{}, err
	}
	if !validID(session.ID) {
		return Submission{}, invalidInput("invalid session id %q", session.ID)
	}

	formName := session.FormData.Name
	if formName == "" {
		formName = defaultFormName
	}
	sub, err := s.ledger.Record(ctx, clinic, Submission{
		Responses:   responses,
		PatientName: session.PatientName,
		FormName:    formName,
		Fields:      FieldLabels(session.FormData.Fields),
	})
	if err != nil {
		return Submission{}, err
	}

	if err := s.store.Delete(ctx, sessionPath(clinic, session.ID)); err != nil {
		return sub, storeUnavailable("close session "+session.ID, err)
	}
	s.opts.observer.SessionCompleted()
	return sub, nil
}

// SubmitForm encodes raw input against the session's form and completes it.
func (s *SessionEngine) SubmitForm(ctx context.Context, clinic string, session Session, input FormInput) (Submission, error) {
	return s.CompleteSession(ctx, clinic, session, EncodeResponses(session.FormData.Fields, input))
}

// CancelSession deletes a session whether or not a patient has matched it.
func (s *SessionEngine) CancelSession(ctx context.Context, clinic, sessionID string) error {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return err
	}
	if !validID(sessionID) {
		return invalidInput("invalid session id %q", sessionID)
	}
	if err := s.store.Delete(ctx, sessionPath(clinic, sessionID)); err != nil {
		return storeUnavailable("cancel session", err)
	}
	s.opts.observer.SessionCancelled()
	return nil
}

// Get reads one open session.
func (s *SessionEngine) Get(ctx context.Context, clinic, sessionID string) (Session, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return Session{}, err
	}
	if !validID(sessionID) {
		return Session{}, ErrNotFound
	}
	session, err := docstore.GetJSON[Session](ctx, s.store, sessionPath(clinic, sessionID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, storeUnavailable("get session", err)
	}
	return session, nil
}
