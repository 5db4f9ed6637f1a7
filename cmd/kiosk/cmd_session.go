package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

func newSessionCmd(k *kiosk) *cobra.Command {
	var passcode string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Queue and manage patient sessions (admin)",
	}
	cmd.PersistentFlags().StringVar(&passcode, "passcode", "", "admin passcode")

	var templateID string
	create := &cobra.Command{
		Use:   "create <patient-name>",
		Short: "Queue a form for a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := k.staff(cmd.Context(), intake.RoleAdmin, passcode); err != nil {
				return err
			}
			s, err := k.ctrl.CreateSession(cmd.Context(), args[0], templateID)
			if err != nil {
				return err
			}
			printf(cmd, "Queued %s for %s (session %s)\n", s.FormName, s.PatientName, s.ID)
			return nil
		},
	}
	create.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := k.staff(cmd.Context(), intake.RoleAdmin, passcode)
			if err != nil {
				return err
			}
			sessions, err := k.engine.Sessions.List(cmd.Context(), st.Clinic)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				printf(cmd, "No open sessions\n")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.PatientName, s.FormName, time.UnixMilli(s.CreatedAt).Format(time.Kitchen))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Remove an open session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := k.staff(cmd.Context(), intake.RoleAdmin, passcode); err != nil {
				return err
			}
			if err := k.ctrl.CancelSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			printf(cmd, "Cancelled session %s\n", args[0])
			return nil
		},
	})
	return cmd
}
