// Package publish loads output tables into a PostGIS database.
package publish

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persistence-cli/internal/db"
	"github.com/sells-group/persistence-cli/internal/persistence"
	"github.com/sells-group/persistence-cli/internal/shapefile"
	"github.com/sells-group/persistence-cli/internal/table"
)

const (
	keyColumn  = "target_id"
	geomColumn = "geom"

	defaultBatchSize = 50000
)

// Options configures Table.
type Options struct {
	Schema string
	Table  string

	// Replace clears the table before loading instead of upserting.
	Replace bool

	// BatchSize bounds rows per upsert transaction (default 50,000).
	BatchSize int
}

// Result reports what Table did.
type Result struct {
	Rows    int64
	Columns []string
}

func (o Options) qualified() string {
	if o.Schema == "" {
		return o.Table
	}
	return o.Schema + "." + o.Table
}

// Table creates the destination table when needed, adds a column for
// every field it lacks and loads t keyed by target id. Geometries are
// sent as EWKB.
func Table(ctx context.Context, pool db.Pool, opts Options, t *table.Table) (*Result, error) {
	if opts.Table == "" {
		return nil, eris.New("publish: no table name")
	}
	if !t.HasField(persistence.IDField) {
		return nil, eris.Wrapf(table.ErrNoField, "publish: table lacks %s", persistence.IDField)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	log := zap.L().With(
		zap.String("component", "publish"),
		zap.String("table", opts.qualified()),
	)

	if err := ensureTable(ctx, pool, opts); err != nil {
		return nil, err
	}

	fields := attributeFields(t)
	for _, f := range fields {
		addSQL := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			ident(opts), pgx.Identifier{f.Name}.Sanitize(), columnType(f.Type))
		if _, err := pool.Exec(ctx, addSQL); err != nil {
			return nil, eris.Wrapf(err, "publish: add column %s", f.Name)
		}
	}

	columns := []string{keyColumn, geomColumn}
	for _, f := range fields {
		columns = append(columns, f.Name)
	}

	rows, err := buildRows(t, fields)
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: columns}
	if opts.Replace {
		n, err := db.Replace(ctx, pool, opts.qualified(), columns, rows)
		if err != nil {
			return nil, eris.Wrap(err, "publish: replace")
		}
		res.Rows = n
	} else if empty, err := isEmpty(ctx, pool, opts); err != nil {
		return nil, err
	} else if empty {
		n, err := db.CopyFrom(ctx, pool, opts.qualified(), columns, rows)
		if err != nil {
			return nil, eris.Wrap(err, "publish: first load")
		}
		res.Rows = n
	} else {
		n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
			Table:        opts.qualified(),
			Columns:      columns,
			ConflictKeys: []string{keyColumn},
			BatchSize:    opts.BatchSize,
		}, rows)
		if err != nil {
			return nil, eris.Wrap(err, "publish: upsert")
		}
		res.Rows = n
	}

	log.Info("table published",
		zap.Int64("rows", res.Rows),
		zap.Int("columns", len(columns)),
		zap.Bool("replace", opts.Replace),
	)
	return res, nil
}

func ident(opts Options) string {
	if opts.Schema == "" {
		return pgx.Identifier{opts.Table}.Sanitize()
	}
	return pgx.Identifier{opts.Schema, opts.Table}.Sanitize()
}

// isEmpty reports whether the destination has no rows yet. A first load
// needs no conflict handling and goes straight through COPY.
func isEmpty(ctx context.Context, pool db.Pool, opts Options) (bool, error) {
	var exists bool
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s)", ident(opts))
	if err := pool.QueryRow(ctx, q).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "publish: check rows in %s", opts.qualified())
	}
	return !exists, nil
}

func ensureTable(ctx context.Context, pool db.Pool, opts Options) error {
	if opts.Schema != "" {
		schemaSQL := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{opts.Schema}.Sanitize()
		if _, err := pool.Exec(ctx, schemaSQL); err != nil {
			return eris.Wrapf(err, "publish: create schema %s", opts.Schema)
		}
	}

	createSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s geometry(MultiPolygon, %d))",
		ident(opts), keyColumn, geomColumn, shapefile.SRID,
	)
	if _, err := pool.Exec(ctx, createSQL); err != nil {
		return eris.Wrapf(err, "publish: create %s", opts.qualified())
	}

	idxName := pgx.Identifier{fmt.Sprintf("idx_%s_geom", opts.Table)}.Sanitize()
	gistSQL := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)", idxName, ident(opts), geomColumn)
	if _, err := pool.Exec(ctx, gistSQL); err != nil {
		return eris.Wrapf(err, "publish: create GIST index on %s", opts.qualified())
	}
	return nil
}

// attributeFields are the table fields published as plain columns.
func attributeFields(t *table.Table) []table.Field {
	var out []table.Field
	for _, f := range t.Fields() {
		if f.Name == persistence.IDField || f.Name == keyColumn || f.Name == geomColumn {
			continue
		}
		out = append(out, f)
	}
	return out
}

func columnType(ft table.FieldType) string {
	switch ft {
	case table.Integer, table.OID:
		return "BIGINT"
	case table.Double:
		return "DOUBLE PRECISION"
	case table.Date:
		return "DATE"
	}
	return "TEXT"
}

func buildRows(t *table.Table, fields []table.Field) ([][]any, error) {
	rows := make([][]any, 0, t.Len())
	seen := make(map[string]bool, t.Len())
	for i, r := range t.Rows() {
		id := r.String(persistence.IDField)
		if id == "" {
			return nil, eris.Errorf("publish: row %d has no %s", i, persistence.IDField)
		}
		if seen[id] {
			return nil, eris.Errorf("publish: duplicate %s %q", persistence.IDField, id)
		}
		seen[id] = true

		g, err := shapefile.EncodeEWKB(r.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "publish: row %s", id)
		}

		row := make([]any, 0, len(fields)+2)
		row = append(row, id)
		if g == nil {
			row = append(row, nil)
		} else {
			row = append(row, g)
		}
		for _, f := range fields {
			row = append(row, columnValue(f.Type, r.Get(f.Name)))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func columnValue(ft table.FieldType, v any) any {
	if v == nil {
		return nil
	}
	if ft == table.String {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return v
}
