package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
)

func newTemplateCmd(k *kiosk) *cobra.Command {
	var passcode string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage the clinic's form templates (designer)",
	}
	cmd.PersistentFlags().StringVar(&passcode, "passcode", "", "designer passcode")

	var as string
	list := &cobra.Command{
		Use:   "list",
		Short: "List templates and their fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := k.staff(cmd.Context(), intake.Role(as), passcode)
			if err != nil {
				return err
			}
			templates, err := k.engine.Templates.List(cmd.Context(), st.Clinic)
			if err != nil {
				return err
			}
			if len(templates) == 0 {
				printf(cmd, "No templates yet\n")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range templates {
				fmt.Fprintf(w, "%s\t%s\t%d fields\n", t.ID, t.Name, len(t.Fields))
				for i, f := range t.Fields {
					fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", i, f.ID, f.Label, f.Type)
				}
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&as, "as", string(intake.RoleDesigner), "role whose passcode is given: designer or admin")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := k.staff(cmd.Context(), intake.RoleDesigner, passcode); err != nil {
				return err
			}
			t, err := k.ctrl.CreateTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printf(cmd, "Created template %s (%s)\n", t.ID, t.Name)
			return nil
		},
	})

	var label, fieldType, options string
	addField := &cobra.Command{
		Use:   "add-field <template-id>",
		Short: "Append a field to a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := k.staff(cmd.Context(), intake.RoleDesigner, passcode); err != nil {
				return err
			}
			f, err := k.ctrl.AddField(cmd.Context(), args[0], intake.FieldSpec{
				Label:   label,
				Type:    intake.FieldType(fieldType),
				Options: options,
			})
			if err != nil {
				return err
			}
			printf(cmd, "Added field %s (%s, %s)\n", f.ID, f.Label, f.Type)
			return nil
		},
	}
	addField.Flags().StringVar(&label, "label", "", "question shown to the patient")
	addField.Flags().StringVar(&fieldType, "type", string(intake.FieldText), "field type")
	addField.Flags().StringVar(&options, "options", "", "comma separated choices for radio and checkbox fields")
	cmd.AddCommand(addField)

	var fieldID string
	removeField := &cobra.Command{
		Use:   "remove-field <template-id> [index]",
		Short: "Remove a field by position or by --id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := k.staff(cmd.Context(), intake.RoleDesigner, passcode)
			if err != nil {
				return err
			}
			if fieldID != "" {
				if err := k.engine.Templates.RemoveFieldByID(cmd.Context(), st.Clinic, args[0], fieldID); err != nil {
					return err
				}
				printf(cmd, "Removed field %s\n", fieldID)
				return nil
			}
			if len(args) < 2 {
				return fmt.Errorf("give a field index or --id")
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("field index must be a number: %w", err)
			}
			if err := k.ctrl.RemoveField(cmd.Context(), args[0], index); err != nil {
				return err
			}
			printf(cmd, "Removed field %d\n", index)
			return nil
		},
	}
	removeField.Flags().StringVar(&fieldID, "id", "", "field id to remove")
	cmd.AddCommand(removeField)

	var deletePasscode string
	del := &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := k.staff(cmd.Context(), intake.RoleDesigner, passcode); err != nil {
				return err
			}
			if err := k.ctrl.DeleteTemplate(cmd.Context(), args[0], deletePasscode); err != nil {
				return err
			}
			printf(cmd, "Deleted template %s\n", args[0])
			return nil
		},
	}
	del.Flags().StringVar(&deletePasscode, "delete-passcode", "", "the template's own delete passcode, if it has one")
	cmd.AddCommand(del)

	cmd.AddCommand(&cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Install starter templates into an empty library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := k.staff(cmd.Context(), intake.RoleDesigner, passcode)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			seeds, err := intake.ParseSeeds(f)
			if err != nil {
				return err
			}
			n, err := k.engine.Templates.Seed(cmd.Context(), st.Clinic, seeds)
			if err != nil {
				return err
			}
			if n == 0 {
				printf(cmd, "Library is not empty, nothing seeded\n")
				return nil
			}
			printf(cmd, "Seeded %d templates\n", n)
			return nil
		},
	})
	return cmd
}
