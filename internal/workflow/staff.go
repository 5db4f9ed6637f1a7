package workflow

import (
	"context"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

// staffAction runs fn for the current clinic when the device is on view.
// Results arrive through the subscriptions like every other change.
func (c *Controller) staffAction(view View, fn func(clinic string) error) error {
	c.mu.Lock()
	if err := c.requireView(view); err != nil {
		c.mu.Unlock()
		return err
	}
	clinic := c.state.Clinic
	c.mu.Unlock()

	err := fn(clinic)
	return c.apply(func() error {
		if err != nil {
			c.state.Message = userMessage(err)
		} else {
			c.state.Message = ""
		}
		return err
	})
}

// CreateSession queues a patient from the admin dashboard.
func (c *Controller) CreateSession(ctx context.Context, patientName, templateID string) (intake.Session, error) {
	var session intake.Session
	err := c.staffAction(ViewAdminDash, func(clinic string) error {
		var err error
		session, err = c.engine.Sessions.CreateSession(ctx, clinic, patientName, templateID)
		return err
	})
	return session, err
}

func (c *Controller) CancelSession(ctx context.Context, sessionID string) error {
	return c.staffAction(ViewAdminDash, func(clinic string) error {
		return c.engine.Sessions.CancelSession(ctx, clinic, sessionID)
	})
}

func (c *Controller) DeleteSubmission(ctx context.Context, submissionID string) error {
	return c.staffAction(ViewAdminDash, func(clinic string) error {
		return c.engine.Ledger.Delete(ctx, clinic, submissionID)
	})
}

// CreateTemplate adds an empty form from the designer screen.
func (c *Controller) CreateTemplate(ctx context.Context, name string) (intake.FormTemplate, error) {
	var tmpl intake.FormTemplate
	err := c.staffAction(ViewDoctorConfig, func(clinic string) error {
		var err error
		tmpl, err = c.engine.Templates.CreateTemplate(ctx, clinic, name)
		return err
	})
	return tmpl, err
}

func (c *Controller) AddField(ctx context.Context, templateID string, field intake.FieldSpec) (intake.FieldSpec, error) {
	var added intake.FieldSpec
	err := c.staffAction(ViewDoctorConfig, func(clinic string) error {
		var err error
		added, err = c.engine.Templates.AddField(ctx, clinic, templateID, field)
		return err
	})
	return added, err
}

func (c *Controller) RemoveField(ctx context.Context, templateID string, index int) error {
	return c.staffAction(ViewDoctorConfig, func(clinic string) error {
		return c.engine.Templates.RemoveField(ctx, clinic, templateID, index)
	})
}

func (c *Controller) DeleteTemplate(ctx context.Context, templateID, passcode string) error {
	return c.staffAction(ViewDoctorConfig, func(clinic string) error {
		return c.engine.Templates.DeleteTemplate(ctx, clinic, templateID, passcode)
	})
}
