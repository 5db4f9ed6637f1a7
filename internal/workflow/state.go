// Package workflow drives one client device through the check-in screens.
// It reacts to user actions and to snapshots from the shared store, and never
// coordinates with other devices except through the documents they share.
package workflow

import (
	"slices"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

type View string

const (
	ViewClinicGate   View = "clinic-gate"
	ViewClinicSetup  View = "clinic-setup"
	ViewLanding      View = "landing"
	ViewPatientGate  View = "patient-gate"
	ViewWaitingRoom  View = "waiting-room"
	ViewPatientForm  View = "patient-form"
	ViewSuccess      View = "success"
	ViewAuthAdmin    View = "auth-admin"
	ViewAdminDash    View = "admin-dash"
	ViewAuthDesigner View = "auth-designer"
	ViewDoctorConfig View = "doctor-config"
)

const (
	msgIncorrectPasscode = "Incorrect passcode."
	msgNameRequired      = "Please enter your name."
	msgSaveFailed        = "Could not save your answers. Please try again."
)

// State is what a device shows. Values returned by Controller.State share no
// memory with the controller.
type State struct {
	View        View                  `json:"view"`
	Clinic      string                `json:"clinic"`
	Config      *intake.ClinicConfig  `json:"config,omitempty"`
	Templates   []intake.FormTemplate `json:"templates"`
	Sessions    []intake.Session      `json:"sessions"`
	Submissions []intake.Submission   `json:"submissions"`
	// PatientName is what the patient typed at the gate.
	PatientName    string             `json:"patientName,omitempty"`
	ActiveSession  *intake.Session    `json:"activeSession,omitempty"`
	LastSubmission *intake.Submission `json:"lastSubmission,omitempty"`
	AuthError      string             `json:"authError,omitempty"`
	Message        string             `json:"message,omitempty"`
}

func (s State) clone() State {
	out := s
	if s.Config != nil {
		cfg := *s.Config
		out.Config = &cfg
	}
	out.Templates = make([]intake.FormTemplate, len(s.Templates))
	for i, t := range s.Templates {
		out.Templates[i] = t.Clone()
	}
	out.Sessions = make([]intake.Session, len(s.Sessions))
	for i, sess := range s.Sessions {
		sess.FormData = sess.FormData.Clone()
		out.Sessions[i] = sess
	}
	out.Submissions = slices.Clone(s.Submissions)
	if s.ActiveSession != nil {
		sess := *s.ActiveSession
		sess.FormData = sess.FormData.Clone()
		out.ActiveSession = &sess
	}
	if s.LastSubmission != nil {
		sub := *s.LastSubmission
		out.LastSubmission = &sub
	}
	return out
}
