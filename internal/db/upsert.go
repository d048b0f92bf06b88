package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a keyed bulk load.
type UpsertConfig struct {
	Table        string   // destination, may be schema-qualified
	Columns      []string // columns present in every row
	ConflictKeys []string // unique key columns
	UpdateCols   []string // nil updates every non-key column; empty updates none

	// BatchSize bounds rows per transaction; 0 loads everything at once.
	BatchSize int
}

// upsertPlan holds the statements shared by every batch of one upsert.
type upsertPlan struct {
	temp      pgx.Identifier
	createSQL string
	insertSQL string
}

func newUpsertPlan(cfg UpsertConfig) upsertPlan {
	updateCols := cfg.UpdateCols
	if updateCols == nil {
		keys := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = true
		}
		for _, c := range cfg.Columns {
			if !keys[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	action := "DO NOTHING"
	if len(updateCols) > 0 {
		set := make([]string, len(updateCols))
		for i, col := range updateCols {
			id := pgx.Identifier{col}.Sanitize()
			set[i] = id + " = EXCLUDED." + id
		}
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}

	temp := pgx.Identifier{"_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")}
	cols := quoteAndJoin(cfg.Columns)
	return upsertPlan{
		temp: temp,
		createSQL: fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			temp.Sanitize(), sanitizeTable(cfg.Table)),
		insertSQL: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
			sanitizeTable(cfg.Table), cols, cols, temp.Sanitize(), quoteAndJoin(cfg.ConflictKeys), action),
	}
}

// BulkUpsert loads rows into cfg.Table keyed by cfg.ConflictKeys. Each
// batch is COPYed into a transaction-scoped temp table and merged with
// INSERT ... ON CONFLICT. Batches already committed stay committed when a
// later one fails. It returns the rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	size := cfg.BatchSize
	if size <= 0 {
		size = len(rows)
	}

	plan := newUpsertPlan(cfg)
	var total int64
	for i := 0; i < len(rows); i += size {
		end := min(i+size, len(rows))
		n, err := upsertBatch(ctx, pool, cfg, plan, rows[i:end])
		if err != nil {
			if size < len(rows) {
				return total, eris.Wrapf(err, "db: upsert: rows %d-%d", i, end)
			}
			return total, err
		}
		total += n
	}
	return total, nil
}

func upsertBatch(ctx context.Context, pool Pool, cfg UpsertConfig, plan upsertPlan, rows [][]any) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, plan.createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, plan.temp, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, plan.insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a possibly schema-qualified table name.
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
