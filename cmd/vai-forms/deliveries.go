package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-forms/pkg/delivery"
	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/record"
	"github.com/vango-go/vai-forms/pkg/store"
)

func deliveriesCmd(deps cliDeps, newLogger func(*cobra.Command) *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Inspect and retry webhook deliveries",
		Long: `Inspect and retry webhook deliveries in the durable store.

A retried session is marked pending; a running gateway picks it up on its
next rescan.`,
	}
	cmd.AddCommand(
		deliveriesListCmd(deps, newLogger),
		deliveriesRetryCmd(deps, newLogger),
		deliveriesTestCmd(deps, newLogger),
	)
	return cmd
}

func deliveriesStore(cmd *cobra.Command, deps cliDeps, newLogger func(*cobra.Command) *slog.Logger) (store.Store, error) {
	cfg, err := deps.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("VAI_FORMS_DATABASE_URL is required")
	}
	st, _, err := deps.openStore(cmd.Context(), cfg, newLogger(cmd))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func deliveriesListCmd(deps cliDeps, newLogger func(*cobra.Command) *slog.Logger) *cobra.Command {
	var failed bool
	cmd := &cobra.Command{
		Use:   "list [session_id]",
		Short: "Show delivery attempts for a session, or every permanently failed session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deliveriesStore(cmd, deps, newLogger)
			if err != nil {
				return err
			}
			defer st.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if len(args) == 0 || failed {
				ids, err := st.ListByDeliveryStatus(cmd.Context(), record.DeliveryFailedPermanently)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "SESSION\tFORM\tCOMPLETED")
				for _, id := range ids {
					rec, err := st.GetSession(cmd.Context(), id)
					if err != nil {
						return err
					}
					completed := "-"
					if rec.CompletedAt != nil {
						completed = rec.CompletedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.ID, rec.FormID, completed)
				}
				return nil
			}

			rec, err := st.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			attempts, err := st.ListAttempts(cmd.Context(), rec.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "session %s\tdelivery %s\n\n", rec.ID, rec.DeliveryStatus)
			fmt.Fprintln(tw, "#\tAT\tSTATUS\tMS\tERROR")
			for _, a := range attempts {
				status := "-"
				if a.HTTPStatus > 0 {
					status = fmt.Sprint(a.HTTPStatus)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", a.AttemptNumber, a.AttemptedAt.Format(time.RFC3339), status, a.DurationMS, a.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "list permanently failed sessions")
	return cmd
}

func deliveriesRetryCmd(deps cliDeps, newLogger func(*cobra.Command) *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <session_id>...",
		Short: "Start a fresh delivery attempt budget for permanently failed sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deliveriesStore(cmd, deps, newLogger)
			if err != nil {
				return err
			}
			defer st.Close()

			logger := newLogger(cmd)
			// Never started: Retry only moves the record back to pending.
			d := delivery.New(delivery.Config{}, delivery.Dependencies{Store: st, Logger: logger})
			for _, id := range args {
				if err := d.Retry(cmd.Context(), id); err != nil {
					return fmt.Errorf("retry %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s pending\n", id)
			}
			return nil
		},
	}
}

func deliveriesTestCmd(deps cliDeps, newLogger func(*cobra.Command) *slog.Logger) *cobra.Command {
	var formsPath string
	cmd := &cobra.Command{
		Use:   "test <form_id>",
		Short: "Send a signed sample payload to a form's callback",
		Long: `Send one signed sample payload to the callback of form_id and report the
receiver's answer. No session is created and nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("forms") {
				cfg.FormsPath = formsPath
			}
			registry, err := forms.LoadPath(cfg.FormsPath)
			if err != nil {
				return fmt.Errorf("load forms: %w", err)
			}

			d := delivery.New(deliveryConfig(cfg), delivery.Dependencies{
				Store:  store.NewMemory(),
				Forms:  registry,
				Logger: newLogger(cmd),
			})
			att, err := d.SendTest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outcome := "ok"
			if !att.Succeeded() {
				outcome = "failed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %s (%d ms)\n", outcome, att.Method, att.URL, att.Outcome(), att.DurationMS)
			if !att.Succeeded() {
				return fmt.Errorf("webhook test for %s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&formsPath, "forms", "", "form definition file or directory (overrides VAI_FORMS_FORMS_PATH)")
	return cmd
}
