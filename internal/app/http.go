package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FireBladesAdi/dental-form-pro/internal/export"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
	"github.com/FireBladesAdi/dental-form-pro/internal/rbac"
)

// passcodeHeader carries the staff passcode on gated routes.
const passcodeHeader = "X-Clinic-Passcode"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
	validate   *validator.Validate
	upgrader   websocket.Upgrader
}

// NewHTTPServer builds the gateway. A nil metrics handler serves the default
// Prometheus registry.
func NewHTTPServer(service *Service, corsOrigin string, metrics http.Handler) *HTTPServer {
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	s := &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		metrics:    metrics,
		validate:   validator.New(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.allowOrigin,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Handle("/metrics", s.metrics)

		r.Route("/clinics/{clinic}", func(r chi.Router) {
			r.Get("/", s.handleResolve)
			r.Post("/claim", s.handleClaim)
			r.Post("/authorize", s.handleAuthorize)
			r.Get("/feed/{topic}", s.handleFeed)

			// Patient
			r.Post("/checkin", s.handleCheckIn)
			r.Post("/sessions/{sessionID}/complete", s.handleCompleteSession)

			// Designer
			r.With(s.requireAction(rbac.ActionReadTemplates)).Get("/templates", s.handleListTemplates)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAction(rbac.ActionEditTemplates))
				r.Post("/templates", s.handleCreateTemplate)
				r.Delete("/templates/{templateID}", s.handleDeleteTemplate)
				r.Post("/templates/{templateID}/fields", s.handleAddField)
				r.Delete("/templates/{templateID}/fields/{index}", s.handleRemoveField)
				r.Delete("/templates/{templateID}/fields/id/{fieldID}", s.handleRemoveFieldByID)
			})

			// Admin
			r.Group(func(r chi.Router) {
				r.Use(s.requireAction(rbac.ActionManageSessions))
				r.Get("/sessions", s.handleListSessions)
				r.Post("/sessions", s.handleCreateSession)
				r.Delete("/sessions/{sessionID}", s.handleCancelSession)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireAction(rbac.ActionReadSubmissions))
				r.Get("/submissions", s.handleListSubmissions)
				r.Get("/submissions/{submissionID}", s.handleGetSubmission)
				r.Get("/submissions/{submissionID}/export", s.handleExportSubmission)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireAction(rbac.ActionEditSubmissions))
				r.Delete("/submissions/{submissionID}", s.handleDeleteSubmission)
				r.Post("/submissions/{submissionID}/export", s.handleUploadSubmission)
			})
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	clinic, err := s.service.Resolve(r.Context(), chi.URLParam(r, "clinic"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clinic)
}

type claimRequest struct {
	Name             string `json:"name" validate:"required"`
	AdminPasscode    string `json:"adminPasscode" validate:"required"`
	DesignerPasscode string `json:"designerPasscode" validate:"required"`
}

func (s *HTTPServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimRequest
	if !s.decode(w, r, &body) {
		return
	}
	clinic, err := s.service.Claim(r.Context(), chi.URLParam(r, "clinic"), body.Name, body.AdminPasscode, body.DesignerPasscode)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clinic)
}

type authorizeRequest struct {
	Role     intake.Role `json:"role" validate:"required,oneof=patient admin designer"`
	Passcode string      `json:"passcode"`
}

func (s *HTTPServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var body authorizeRequest
	if !s.decode(w, r, &body) {
		return
	}
	roles := []intake.Role{}
	if body.Role != intake.RolePatient {
		roles = append(roles, body.Role)
	}
	if _, err := s.service.Authorize(r.Context(), chi.URLParam(r, "clinic"), body.Passcode, roles...); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "role": body.Role})
}

// Templates

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context(), chi.URLParam(r, "clinic"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": orEmpty(templates)})
}

type createTemplateRequest struct {
	Name string `json:"name"`
}

func (s *HTTPServer) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body createTemplateRequest
	if !s.decode(w, r, &body) {
		return
	}
	tmpl, err := s.service.CreateTemplate(r.Context(), chi.URLParam(r, "clinic"), body.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

// handleDeleteTemplate takes the template's own delete passcode in
// X-Delete-Passcode.
func (s *HTTPServer) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteTemplate(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "templateID"), r.Header.Get("X-Delete-Passcode"))
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addFieldRequest struct {
	Label   string           `json:"label" validate:"required"`
	Type    intake.FieldType `json:"type" validate:"required"`
	Options string           `json:"options"`
}

func (s *HTTPServer) handleAddField(w http.ResponseWriter, r *http.Request) {
	var body addFieldRequest
	if !s.decode(w, r, &body) {
		return
	}
	field, err := s.service.AddField(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "templateID"), intake.FieldSpec{
		Label:   body.Label,
		Type:    body.Type,
		Options: body.Options,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, field)
}

func (s *HTTPServer) handleRemoveField(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Field index must be a number", nil)
		return
	}
	if err := s.service.RemoveField(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "templateID"), index); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRemoveFieldByID(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveFieldByID(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "templateID"), chi.URLParam(r, "fieldID")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions

func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context(), chi.URLParam(r, "clinic"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": orEmpty(sessions)})
}

type createSessionRequest struct {
	PatientName string `json:"patientName" validate:"required"`
	TemplateID  string `json:"templateId" validate:"required"`
}

func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if !s.decode(w, r, &body) {
		return
	}
	session, err := s.service.CreateSession(r.Context(), chi.URLParam(r, "clinic"), body.PatientName, body.TemplateID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelSession(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "sessionID")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkInRequest struct {
	Name string `json:"name" validate:"required"`
	// WaitSeconds holds the request open until a session appears.
	WaitSeconds int `json:"waitSeconds" validate:"gte=0"`
}

func (s *HTTPServer) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var body checkInRequest
	if !s.decode(w, r, &body) {
		return
	}
	wait := time.Duration(body.WaitSeconds) * time.Second
	session, matched, err := s.service.CheckIn(r.Context(), chi.URLParam(r, "clinic"), body.Name, wait)
	if err != nil {
		s.fail(w, err)
		return
	}
	response := map[string]any{"matched": matched}
	if matched {
		response["session"] = session
	}
	writeJSON(w, http.StatusOK, response)
}

type completeRequest struct {
	Input intake.FormInput `json:"input"`
}

func (s *HTTPServer) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	var body completeRequest
	if !s.decode(w, r, &body) {
		return
	}
	clinic := chi.URLParam(r, "clinic")
	if _, err := s.service.AuthorizeAction(r.Context(), clinic, "", rbac.ActionCheckIn); err != nil {
		s.fail(w, err)
		return
	}
	result, err := s.service.CompleteSession(r.Context(), clinic, chi.URLParam(r, "sessionID"), body.Input)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Submissions

func (s *HTTPServer) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	clinic := chi.URLParam(r, "clinic")
	query := r.URL.Query()
	if q, ok := query["q"]; ok {
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		writeJSON(w, http.StatusOK, s.service.SearchSubmissions(r.Context(), clinic, strings.Join(q, " "), limit, offset))
		return
	}
	subs, err := s.service.ListSubmissions(r.Context(), clinic)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": orEmpty(subs)})
}

func (s *HTTPServer) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.service.GetSubmission(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "submissionID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *HTTPServer) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSubmission(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "submissionID")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExportSubmission(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, err)
		return
	}
	result, err := s.service.ExportSubmission(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "submissionID"), format)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleUploadSubmission(w http.ResponseWriter, r *http.Request) {
	key, err := s.service.UploadSubmission(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "submissionID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": key})
}

// requireAction admits requests whose passcode header belongs to a role
// allowed to perform action.
func (s *HTTPServer) requireAction(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passcode := r.Header.Get(passcodeHeader)
			if _, err := s.service.AuthorizeAction(r.Context(), chi.URLParam(r, "clinic"), passcode, action); err != nil {
				s.fail(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := s.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := map[string]string{}
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", fields)
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Clinic-Passcode, X-Delete-Passcode, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
