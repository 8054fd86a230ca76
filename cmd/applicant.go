package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/cita-sniper/internal/booking"
	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/db"
	"github.com/example/cita-sniper/internal/profile"
)

func newApplicantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "applicant",
		Short: "Manage applicant profiles",
	}
	cmd.AddCommand(newApplicantRegisterCmd())
	cmd.AddCommand(newApplicantShowCmd())
	return cmd
}

func newApplicantRegisterCmd() *cobra.Command {
	var a booking.Applicant

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create or update an applicant profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			id, err := profile.NewRepo(d).Upsert(ctx, a)
			if err != nil {
				return err
			}
			fmt.Printf("applicant %d registered\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&a.FirstName, "first-name", "", "given name")
	cmd.Flags().StringVar(&a.LastName, "last-name", "", "family name")
	cmd.Flags().StringVar(&a.Document, "document", "", "national id / document number")
	cmd.Flags().StringVar(&a.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&a.Phone, "phone", "", "contact phone")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("phone")

	return cmd
}

func newApplicantShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <document>",
		Short: "Show an applicant profile by document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			a, err := profile.NewRepo(d).ByDocument(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:       %d\nname:     %s %s\ndocument: %s\nemail:    %s\nphone:    %s\n",
				a.ID, a.FirstName, a.LastName, a.Document, a.Email, a.Phone)
			return nil
		},
	}
}
