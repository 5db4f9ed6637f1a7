package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/FireBladesAdi/dental-form-pro/internal/workflow"
)

func newClinicCmd(k *kiosk) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Bind this device to a clinic workspace",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <clinic-id>",
		Short: "Remember the clinic this device belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.start(cmd.Context()); err != nil {
				return err
			}
			if k.ctrl.State().View != workflow.ViewClinicGate {
				if err := k.ctrl.Logout(); err != nil {
					return err
				}
			}
			if err := k.ctrl.EnterClinic(args[0]); err != nil {
				return err
			}
			st, err := k.ready(cmd.Context())
			if err != nil {
				return err
			}
			printClinic(cmd, st)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the clinic this device belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := k.ready(cmd.Context())
			if err != nil {
				return err
			}
			printClinic(cmd, st)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Forget the clinic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.start(cmd.Context()); err != nil {
				return err
			}
			if err := k.ctrl.Logout(); err != nil {
				return err
			}
			printf(cmd, "Device signed out of its clinic\n")
			return nil
		},
	})
	return cmd
}

func printClinic(cmd *cobra.Command, st workflow.State) {
	if st.Config == nil {
		printf(cmd, "Clinic:  %s\nStatus:  not set up (run `kiosk claim`)\n", st.Clinic)
		return
	}
	printf(cmd, "Clinic:  %s\nName:    %s\nCreated: %s\n",
		st.Clinic, st.Config.Name, time.UnixMilli(st.Config.CreatedAt).Format(time.RFC1123))
}

func newClaimCmd(k *kiosk) *cobra.Command {
	var name, admin, designer string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Set up the device's clinic with a name and staff passcodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := k.ready(cmd.Context())
			if err != nil {
				return err
			}
			if st.View != workflow.ViewClinicSetup {
				printf(cmd, "Clinic %s is already set up as %q\n", st.Clinic, st.Config.Name)
				return nil
			}
			if err := k.ctrl.SetupClinic(cmd.Context(), name, admin, designer); err != nil {
				return err
			}
			printf(cmd, "Clinic %s set up as %q\n", st.Clinic, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "clinic display name")
	cmd.Flags().StringVar(&admin, "admin", "", "admin passcode")
	cmd.Flags().StringVar(&designer, "designer", "", "designer passcode")
	return cmd
}
