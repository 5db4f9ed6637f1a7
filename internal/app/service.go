package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/export"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
	"github.com/FireBladesAdi/dental-form-pro/internal/rbac"
	"github.com/FireBladesAdi/dental-form-pro/internal/search"
)

// maxCheckInWait caps how long a check-in request may hold the connection.
const maxCheckInWait = 60 * time.Second

// FeedObserver hears about websocket feeds opening and closing.
type FeedObserver interface {
	FeedOpened(topic string)
	FeedClosed(topic string)
}

type nopFeeds struct{}

func (nopFeeds) FeedOpened(string) {}
func (nopFeeds) FeedClosed(string) {}

type Options struct {
	// Search defaults to a ledger scan without Meilisearch.
	Search   *search.Service
	Uploader *export.Uploader
	Feeds    FeedObserver
	// Seeds are installed into a clinic's empty library when it is claimed.
	Seeds []intake.SeedTemplate
}

// Service puts role checks and side effects (search indexing, uploads) in
// front of the intake engine.
type Service struct {
	store    docstore.Store
	engine   *intake.Engine
	search   *search.Service
	uploader *export.Uploader
	feeds    FeedObserver
	seeds    []intake.SeedTemplate
}

func NewService(store docstore.Store, engine *intake.Engine, opts Options) *Service {
	svc := &Service{
		store:    store,
		engine:   engine,
		search:   opts.Search,
		uploader: opts.Uploader,
		feeds:    opts.Feeds,
		seeds:    opts.Seeds,
	}
	if svc.search == nil {
		svc.search = search.NewService(nil, search.NewLedgerScan(engine.Ledger))
	}
	if svc.feeds == nil {
		svc.feeds = nopFeeds{}
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PublicClinic is a resolution with the passcodes removed.
type PublicClinic struct {
	Clinic    string                 `json:"clinic"`
	State     intake.ResolutionState `json:"state"`
	Name      string                 `json:"name,omitempty"`
	CreatedAt int64                  `json:"createdAt,omitempty"`
}

func publicClinic(res intake.Resolution) PublicClinic {
	out := PublicClinic{Clinic: res.Clinic, State: res.State}
	if res.Config != nil {
		out.Name = res.Config.Name
		out.CreatedAt = res.Config.CreatedAt
	}
	return out
}

func (s *Service) Resolve(ctx context.Context, clinic string) (PublicClinic, error) {
	res, err := s.engine.Registry.Resolve(ctx, clinic)
	if err != nil {
		return PublicClinic{}, err
	}
	return publicClinic(res), nil
}

func (s *Service) Claim(ctx context.Context, clinic, name, adminPasscode, designerPasscode string) (PublicClinic, error) {
	cfg, err := s.engine.Registry.Claim(ctx, clinic, name, adminPasscode, designerPasscode)
	if err != nil {
		return PublicClinic{}, err
	}
	normalized, _ := intake.NormalizeClinicID(clinic)
	if len(s.seeds) > 0 {
		if n, err := s.engine.Templates.Seed(ctx, normalized, s.seeds); err != nil {
			log.Printf("app: seeding templates for %s failed: %v", normalized, err)
		} else if n > 0 {
			log.Printf("app: seeded %d templates for %s", n, normalized)
		}
	}
	return publicClinic(intake.Resolution{Clinic: normalized, State: intake.StateExists, Config: &cfg}), nil
}

// Authorize checks passcode against any of roles. The first role is the one
// blamed when nothing matches.
func (s *Service) Authorize(ctx context.Context, clinic, passcode string, roles ...intake.Role) (intake.Resolution, error) {
	res, err := s.engine.Registry.Resolve(ctx, clinic)
	if err != nil {
		return intake.Resolution{}, err
	}
	if !res.Exists() {
		return intake.Resolution{}, errClinicNotFound
	}
	if len(roles) == 0 {
		return res, nil
	}
	for _, role := range roles {
		if passcodeFor(*res.Config, role) == passcode {
			return res, nil
		}
	}
	if err := s.engine.Registry.Authorize(*res.Config, roles[0], passcode); err != nil {
		return intake.Resolution{}, err
	}
	return res, nil
}

// AuthorizeAction checks passcode against the roles allowed to perform
// action. Public actions only require the clinic to exist.
func (s *Service) AuthorizeAction(ctx context.Context, clinic, passcode string, action rbac.Action) (intake.Resolution, error) {
	roles, public := rbac.StaffRoles(action)
	if public {
		return s.Authorize(ctx, clinic, "")
	}
	if len(roles) == 0 {
		return intake.Resolution{}, errForbidden
	}
	return s.Authorize(ctx, clinic, passcode, roles...)
}

func passcodeFor(cfg intake.ClinicConfig, role intake.Role) string {
	switch role {
	case intake.RoleAdmin:
		return cfg.AdminPasscode
	case intake.RoleDesigner:
		return cfg.DesignerPasscode
	}
	return ""
}

// Templates

func (s *Service) ListTemplates(ctx context.Context, clinic string) ([]intake.FormTemplate, error) {
	return s.engine.Templates.List(ctx, clinic)
}

func (s *Service) CreateTemplate(ctx context.Context, clinic, name string) (intake.FormTemplate, error) {
	return s.engine.Templates.CreateTemplate(ctx, clinic, name)
}

func (s *Service) DeleteTemplate(ctx context.Context, clinic, templateID, deletePasscode string) error {
	return s.engine.Templates.DeleteTemplate(ctx, clinic, templateID, deletePasscode)
}

func (s *Service) AddField(ctx context.Context, clinic, templateID string, field intake.FieldSpec) (intake.FieldSpec, error) {
	return s.engine.Templates.AddField(ctx, clinic, templateID, field)
}

func (s *Service) RemoveField(ctx context.Context, clinic, templateID string, index int) error {
	return s.engine.Templates.RemoveField(ctx, clinic, templateID, index)
}

func (s *Service) RemoveFieldByID(ctx context.Context, clinic, templateID, fieldID string) error {
	return s.engine.Templates.RemoveFieldByID(ctx, clinic, templateID, fieldID)
}

// Sessions

func (s *Service) ListSessions(ctx context.Context, clinic string) ([]intake.Session, error) {
	return s.engine.Sessions.List(ctx, clinic)
}

func (s *Service) CreateSession(ctx context.Context, clinic, patientName, templateID string) (intake.Session, error) {
	return s.engine.Sessions.CreateSession(ctx, clinic, patientName, templateID)
}

func (s *Service) CancelSession(ctx context.Context, clinic, sessionID string) error {
	return s.engine.Sessions.CancelSession(ctx, clinic, sessionID)
}

// CheckIn looks for an open session under name. With a positive wait it
// holds until one appears or the wait runs out, which is not an error.
func (s *Service) CheckIn(ctx context.Context, clinic, name string, wait time.Duration) (intake.Session, bool, error) {
	if _, err := s.AuthorizeAction(ctx, clinic, "", rbac.ActionCheckIn); err != nil {
		return intake.Session{}, false, err
	}
	if wait <= 0 {
		session, err := s.engine.Sessions.MatchSession(ctx, clinic, name)
		if errors.Is(err, intake.ErrNoMatch) {
			return intake.Session{}, false, nil
		}
		return session, err == nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, min(wait, maxCheckInWait))
	defer cancel()
	session, err := s.engine.Sessions.WaitForMatch(ctx, clinic, name)
	if errors.Is(err, context.DeadlineExceeded) {
		return intake.Session{}, false, nil
	}
	return session, err == nil, err
}

// CompleteResult carries a submission and, when the session could not be
// closed afterwards, a warning for the client.
type CompleteResult struct {
	Submission intake.Submission `json:"submission"`
	Warning    string            `json:"warning,omitempty"`
}

func (s *Service) CompleteSession(ctx context.Context, clinic, sessionID string, input intake.FormInput) (CompleteResult, error) {
	session, err := s.engine.Sessions.Get(ctx, clinic, sessionID)
	if err != nil {
		return CompleteResult{}, err
	}
	sub, err := s.engine.Sessions.SubmitForm(ctx, clinic, session, input)
	if err != nil && sub.ID == "" {
		return CompleteResult{}, err
	}
	normalized, _ := intake.NormalizeClinicID(clinic)
	s.search.IndexSubmission(normalized, sub)

	out := CompleteResult{Submission: sub}
	if err != nil {
		log.Printf("app: submission %s recorded but session %s still open: %v", sub.ID, sessionID, err)
		out.Warning = "Your form was saved, but the front desk may need to clear your check-in."
	}
	return out, nil
}

// Submissions

func (s *Service) ListSubmissions(ctx context.Context, clinic string) ([]intake.Submission, error) {
	return s.engine.Ledger.List(ctx, clinic)
}

func (s *Service) SearchSubmissions(ctx context.Context, clinic, text string, limit, offset int) search.Response {
	normalized, _ := intake.NormalizeClinicID(clinic)
	return s.search.Search(ctx, search.Query{ClinicID: normalized, Text: text, Limit: limit, Offset: offset})
}

func (s *Service) GetSubmission(ctx context.Context, clinic, id string) (intake.Submission, error) {
	return s.engine.Ledger.Get(ctx, clinic, id)
}

func (s *Service) DeleteSubmission(ctx context.Context, clinic, id string) error {
	if err := s.engine.Ledger.Delete(ctx, clinic, id); err != nil {
		return err
	}
	s.search.DeleteSubmission(id)
	return nil
}

func (s *Service) ExportSubmission(ctx context.Context, clinic, id string, format export.Format) (*export.Result, error) {
	sub, err := s.engine.Ledger.Get(ctx, clinic, id)
	if err != nil {
		return nil, err
	}
	normalized, _ := intake.NormalizeClinicID(clinic)
	return export.Export(ctx, normalized, sub, format)
}

func (s *Service) UploadSubmission(ctx context.Context, clinic, id string) (string, error) {
	if s.uploader == nil {
		return "", export.ErrUploadDisabled
	}
	sub, err := s.engine.Ledger.Get(ctx, clinic, id)
	if err != nil {
		return "", err
	}
	normalized, _ := intake.NormalizeClinicID(clinic)
	return s.uploader.Upload(ctx, normalized, sub)
}
