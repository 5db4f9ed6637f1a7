package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
	"github.com/FireBladesAdi/dental-form-pro/internal/workflow"
)

func newCheckInCmd(k *kiosk) *cobra.Command {
	var answers []string
	cmd := &cobra.Command{
		Use:   "checkin <patient-name>",
		Short: "Check a patient in, wait for their form and submit answers",
		Long: `Checks the patient in under the given name and waits until the front desk
has queued a form for that name. Answers are given as label=value pairs; repeat
--answer for each checkbox choice.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), k.cfg.MatchTimeout)
			defer cancel()

			st, err := k.ready(ctx)
			if err != nil {
				return err
			}
			if st.View == workflow.ViewClinicSetup {
				return fmt.Errorf("clinic %s has not been set up yet", st.Clinic)
			}
			if err := k.ctrl.ChooseRole(intake.RolePatient); err != nil {
				return err
			}
			if err := k.ctrl.CheckIn(args[0]); err != nil {
				return err
			}
			if k.ctrl.State().View == workflow.ViewWaitingRoom {
				printf(cmd, "Waiting for the front desk to open a form for %s...\n", args[0])
			}

			st, err = k.waitFor(ctx, func(s workflow.State) bool {
				return s.View == workflow.ViewPatientForm && s.ActiveSession != nil
			})
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("no form was opened for %s within %s", args[0], k.cfg.MatchTimeout)
				}
				return err
			}

			form := st.ActiveSession.FormData
			input, err := buildInput(form.Fields, answers)
			if err != nil {
				return err
			}
			printf(cmd, "Form: %s\n", st.ActiveSession.FormName)
			if err := k.ctrl.SubmitForm(cmd.Context(), input); err != nil {
				return err
			}
			if sub := k.ctrl.State().LastSubmission; sub != nil {
				printf(cmd, "Thank you, %s. Submission %s saved.\n", sub.PatientName, sub.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "answer as label=value (repeatable)")
	return cmd
}

// buildInput maps label=value answers onto the form's field ids. Labels match
// case-insensitively.
func buildInput(fields []intake.FieldSpec, answers []string) (intake.FormInput, error) {
	byLabel := make(map[string]intake.FieldSpec, len(fields))
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		byLabel[strings.ToLower(strings.TrimSpace(f.Label))] = f
		labels = append(labels, f.Label)
	}

	input := intake.FormInput{}
	for _, answer := range answers {
		label, value, ok := strings.Cut(answer, "=")
		if !ok {
			return nil, fmt.Errorf("answer %q is not label=value", answer)
		}
		f, ok := byLabel[strings.ToLower(strings.TrimSpace(label))]
		if !ok {
			return nil, fmt.Errorf("form has no question %q (questions: %s)", label, strings.Join(labels, ", "))
		}
		input[f.ID] = append(input[f.ID], strings.TrimSpace(value))
	}
	return input, nil
}
