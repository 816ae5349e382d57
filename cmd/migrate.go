package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cdm-builder/internal/schema"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply CDM schema migrations",
	Long:  "Applies all pending SQL migrations to the cdm output schema in lexicographic order, then migrates the run store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		pool, err := cdmPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := schema.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "migrate: run store")
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
