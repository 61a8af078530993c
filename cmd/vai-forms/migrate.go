package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-forms/pkg/store"
)

func migrateCmd(deps cliDeps, newLogger func(*cobra.Command) *slog.Logger) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				cfg, err := deps.loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				dsn = cfg.DatabaseURL
			}
			if dsn == "" {
				return errors.New("VAI_FORMS_DATABASE_URL (or --database-url) is required")
			}

			pg, err := store.OpenPostgres(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := store.Migrate(cmd.Context(), pg.Pool()); err != nil {
				return err
			}
			newLogger(cmd).Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "database-url", "", "Postgres connection string (overrides VAI_FORMS_DATABASE_URL)")
	return cmd
}
