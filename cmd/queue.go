package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/db"
	"github.com/example/cita-sniper/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the applicant queue",
	}
	cmd.AddCommand(newQueueAddCmd())
	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueuePositionCmd())
	cmd.AddCommand(newQueueRemoveCmd())
	cmd.AddCommand(newQueueAbandonCmd())
	return cmd
}

func withQueueRepo(fn func(ctx context.Context, r *queue.Repo, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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
		return fn(ctx, queue.NewRepo(d), args)
	}
}

func parseApplicantID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("applicant id: %w", err)
	}
	return id, nil
}

func newQueueAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <applicant-id>",
		Short: "Add an applicant to the tail of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: withQueueRepo(func(ctx context.Context, r *queue.Repo, args []string) error {
			id, err := parseApplicantID(args[0])
			if err != nil {
				return err
			}
			pos, err := r.Enqueue(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("applicant %d at position %d\n", id, pos)
			return nil
		}),
	}
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		Args:  cobra.NoArgs,
		RunE: withQueueRepo(func(ctx context.Context, r *queue.Repo, args []string) error {
			entries, err := r.List(ctx, 100)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%d\t%s\t%s\n", e.ApplicantID, e.Status, e.EnqueuedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		}),
	}
}

func newQueuePositionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "position <applicant-id>",
		Short: "Show an applicant's queue position",
		Args:  cobra.ExactArgs(1),
		RunE: withQueueRepo(func(ctx context.Context, r *queue.Repo, args []string) error {
			id, err := parseApplicantID(args[0])
			if err != nil {
				return err
			}
			pos, err := r.Position(ctx, id)
			if err != nil {
				return err
			}
			switch {
			case pos == -1:
				fmt.Printf("applicant %d already has a reservation\n", id)
			case pos == 0:
				fmt.Printf("applicant %d is not in the queue\n", id)
			default:
				fmt.Printf("applicant %d at position %d\n", id, pos)
			}
			return nil
		}),
	}
}

func newQueueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <applicant-id>",
		Short: "Remove a waiting applicant from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: withQueueRepo(func(ctx context.Context, r *queue.Repo, args []string) error {
			id, err := parseApplicantID(args[0])
			if err != nil {
				return err
			}
			if err := r.Remove(ctx, id); err != nil {
				return err
			}
			fmt.Printf("applicant %d removed\n", id)
			return nil
		}),
	}
}

func newQueueAbandonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <applicant-id>",
		Short: "Mark an applicant's entry abandoned (operator rollback)",
		Args:  cobra.ExactArgs(1),
		RunE: withQueueRepo(func(ctx context.Context, r *queue.Repo, args []string) error {
			id, err := parseApplicantID(args[0])
			if err != nil {
				return err
			}
			if err := r.Abandon(ctx, id); err != nil {
				return err
			}
			fmt.Printf("applicant %d abandoned\n", id)
			return nil
		}),
	}
}
