package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd(k *kiosk) *cobra.Command {
	root := &cobra.Command{
		Use:           "kiosk",
		Short:         "Dental intake check-in device",
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `A command line check-in device for a clinic workspace.

The device remembers its clinic between runs. Staff commands take the admin
or designer passcode with --passcode.

Examples:
  kiosk clinic set smile-dental
  kiosk claim --name "Smile Dental" --admin 1234 --designer 5678
  kiosk template create "New Patient" --passcode 5678
  kiosk session create "Jane Doe" --template form_... --passcode 1234
  kiosk checkin "Jane Doe" --answer "Allergies=Latex"`,
	}
	root.PersistentFlags().StringVar(&k.clinicOverride, "clinic", "", "use this clinic for one run instead of the saved one")
	root.PersistentFlags().StringVar(&k.cfg.StoreDriver, "store", k.cfg.StoreDriver, "store driver: redis, postgres or memory")

	root.AddCommand(
		newClinicCmd(k),
		newClaimCmd(k),
		newTemplateCmd(k),
		newSessionCmd(k),
		newCheckInCmd(k),
		newSubmissionCmd(k),
	)
	return root
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
