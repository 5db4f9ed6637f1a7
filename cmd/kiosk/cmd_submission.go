package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FireBladesAdi/dental-form-pro/internal/export"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
	"github.com/FireBladesAdi/dental-form-pro/internal/search"
)

func newSubmissionCmd(k *kiosk) *cobra.Command {
	var passcode string
	cmd := &cobra.Command{
		Use:   "submission",
		Short: "Review completed forms (admin)",
	}
	cmd.PersistentFlags().StringVar(&passcode, "passcode", "", "admin passcode")

	var query string
	list := &cobra.Command{
		Use:   "list",
		Short: "List submissions, newest first, optionally filtered by --query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := k.staff(cmd.Context(), intake.RoleAdmin, passcode)
			if err != nil {
				return err
			}
			var meili *search.Meili
			if strings.TrimSpace(k.cfg.MeiliURL) != "" {
				meili = search.NewMeili(k.cfg.MeiliURL, k.cfg.MeiliMasterKey)
			}
			svc := search.NewService(meili, search.NewLedgerScan(k.engine.Ledger))
			defer svc.Close()

			resp := svc.Search(cmd.Context(), search.Query{ClinicID: st.Clinic, Text: query, Limit: 100})
			if resp.Total == 0 {
				printf(cmd, "No submissions\n")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range resp.Results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.PatientName, r.FormName, time.UnixMilli(r.Timestamp).Format(time.DateTime))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if resp.Total > len(resp.Results) {
				printf(cmd, "(%d of %d shown)\n", len(resp.Results), resp.Total)
			}
			return nil
		},
	}
	list.Flags().StringVar(&query, "query", "", "match patient, form or answers")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <submission-id>",
		Short: "Delete a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := k.staff(cmd.Context(), intake.RoleAdmin, passcode); err != nil {
				return err
			}
			if err := k.ctrl.DeleteSubmission(cmd.Context(), args[0]); err != nil {
				return err
			}
			printf(cmd, "Deleted submission %s\n", args[0])
			return nil
		},
	})

	var format string
	var upload bool
	exp := &cobra.Command{
		Use:   "export <submission-id>",
		Short: "Print a submission for pasting into practice software, or --upload it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := k.staff(cmd.Context(), intake.RoleAdmin, passcode)
			if err != nil {
				return err
			}
			sub, err := k.engine.Ledger.Get(cmd.Context(), st.Clinic, args[0])
			if err != nil {
				return err
			}
			if upload {
				if strings.TrimSpace(k.cfg.MinIOEndpoint) == "" {
					return export.ErrUploadDisabled
				}
				uploader, err := export.NewUploader(cmd.Context(), export.UploaderConfig{
					Endpoint:  k.cfg.MinIOEndpoint,
					AccessKey: k.cfg.MinIOAccessKey,
					SecretKey: k.cfg.MinIOSecretKey,
					Bucket:    k.cfg.MinIOBucket,
					UseSSL:    k.cfg.MinIOUseSSL,
				})
				if err != nil {
					return err
				}
				key, err := uploader.Upload(cmd.Context(), st.Clinic, sub)
				if err != nil {
					return err
				}
				printf(cmd, "Uploaded to %s/%s\n", k.cfg.MinIOBucket, key)
				return nil
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			result, err := export.Export(cmd.Context(), st.Clinic, sub, f)
			if err != nil {
				return err
			}
			if f == export.FormatPDF {
				_, err = cmd.OutOrStdout().Write(result.Data)
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(result.Data, '\n'))
			return err
		},
	}
	exp.Flags().StringVar(&format, "format", string(export.FormatText), "text, html or pdf")
	exp.Flags().BoolVar(&upload, "upload", false, "store the text copy in the export bucket")
	cmd.AddCommand(exp)
	return cmd
}
