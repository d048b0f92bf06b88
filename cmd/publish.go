package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/persistence-cli/internal/db"
	"github.com/sells-group/persistence-cli/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a stored output table to PostGIS",
	Long: `Loads a stored output table into postgres.schema.postgres.table keyed by
target id. Columns for new buffer distances are added on the fly. With
--replace the destination is cleared first.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "publish"))

		if cmd.Flags().Changed("table") {
			cfg.Postgres.Table, _ = cmd.Flags().GetString("table")
		}
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return eris.New("publish: --name is required")
		}
		replace, _ := cmd.Flags().GetBool("replace")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := st.LoadTable(ctx, name)
		if err != nil {
			return eris.Wrapf(err, "publish %s", name)
		}

		pool, err := db.Connect(ctx, cfg.Postgres.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := publish.Table(ctx, pool, publish.Options{
			Schema:  cfg.Postgres.Schema,
			Table:   cfg.Postgres.Table,
			Replace: replace,
		}, t)
		if err != nil {
			return err
		}

		log.Info("published", zap.String("name", name), zap.Int64("rows", res.Rows))
		fmt.Printf("published %d rows of %s to %s.%s\n", res.Rows, name, cfg.Postgres.Schema, cfg.Postgres.Table)
		return nil
	},
}

func init() {
	publishCmd.Flags().String("name", "", "stored output table name")
	publishCmd.Flags().String("table", "", "destination table (overrides postgres.table)")
	publishCmd.Flags().Bool("replace", false, "clear the destination table before loading")
	rootCmd.AddCommand(publishCmd)
}
