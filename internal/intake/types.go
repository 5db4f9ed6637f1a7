// Package intake holds the clinic check-in rules: who owns a workspace, what
// forms it offers, which patients are waiting, and what they submitted. Every
// piece of state lives in a docstore.Store shared with other devices.
package intake

import "slices"

type Role string

const (
	RolePatient  Role = "patient"
	RoleAdmin    Role = "admin"
	RoleDesigner Role = "designer"
)

type FieldType string

const (
	FieldText      FieldType = "text"
	FieldLongNote  FieldType = "long_note"
	FieldToggle    FieldType = "toggle"
	FieldRadio     FieldType = "radio"
	FieldCheckbox  FieldType = "checkbox"
	FieldPainScale FieldType = "pain_scale"
	FieldDOB       FieldType = "dob"
	FieldPhone     FieldType = "phone"
	FieldEmail     FieldType = "email"
	FieldSignature FieldType = "signature"
)

var fieldTypes = []FieldType{
	FieldText, FieldLongNote, FieldToggle, FieldRadio, FieldCheckbox,
	FieldPainScale, FieldDOB, FieldPhone, FieldEmail, FieldSignature,
}

// FieldTypes lists every supported field type in display order.
func FieldTypes() []FieldType {
	return slices.Clone(fieldTypes)
}

func (t FieldType) Valid() bool {
	return slices.Contains(fieldTypes, t)
}

// SessionPending is the only status ever persisted. A closed session is a
// deleted one.
const SessionPending = "pending"

const defaultFormName = "Intake Form"

type ClinicConfig struct {
	Name             string `json:"name"`
	AdminPasscode    string `json:"adminPasscode"`
	DesignerPasscode string `json:"designerPasscode"`
	CreatedAt        int64  `json:"createdAt"`
}

type FieldSpec struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	Type    FieldType `json:"type"`
	Options string    `json:"options"`
}

type FormTemplate struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	DeletePasscode string      `json:"deletePasscode"`
	Fields         []FieldSpec `json:"fields"`
	CreatedAt      int64       `json:"createdAt"`
}

// Clone returns a copy that shares no memory with t.
func (t FormTemplate) Clone() FormTemplate {
	out := t
	out.Fields = slices.Clone(t.Fields)
	if out.Fields == nil {
		out.Fields = []FieldSpec{}
	}
	return out
}

type Session struct {
	ID          string       `json:"id"`
	PatientName string       `json:"patientName"`
	FormID      string       `json:"formId"`
	FormName    string       `json:"formName"`
	FormData    FormTemplate `json:"formData"`
	Status      string       `json:"status"`
	CreatedAt   int64        `json:"createdAt"`
}

type Submission struct {
	ID          string            `json:"id"`
	Responses   map[string]string `json:"responses"`
	PatientName string            `json:"patientName"`
	FormName    string            `json:"formName"`
	Timestamp   int64             `json:"timestamp"`
	// Fields is the label order of the form that produced the responses.
	// Older records may not carry it.
	Fields []string `json:"fields,omitempty"`
}
