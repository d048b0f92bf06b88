package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/persistence-cli/internal/table"
)

// Where returns the SQL condition selecting the rows f keeps, or "" when
// f does not constrain anything.
func (f Filter) Where() string {
	keep := strings.TrimSpace(f.Keep)
	reject := strings.TrimSpace(f.Reject)
	if f.RejectOnly {
		keep = ""
	}

	var conds []string
	if keep != "" {
		conds = append(conds, "COALESCE(("+keep+"), 0)")
	}
	if reject != "" {
		conds = append(conds, "NOT COALESCE(("+reject+"), 0)")
	}
	return strings.Join(conds, " AND ")
}

// FilterRows stages t in a temporary table and returns the indices of the
// rows passing f, in ascending order. NULL comparisons count as false for
// Keep and as not rejected for Reject.
func (s *SQLiteStore) FilterRows(ctx context.Context, t *table.Table, f Filter) ([]int, error) {
	where := f.Where()
	if where == "" {
		all := make([]int, t.Len())
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: filter conn")
	}
	defer conn.Close()

	fields := t.Fields()
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, "_idx INTEGER PRIMARY KEY")
	for _, fd := range fields {
		cols = append(cols, quoteIdent(fd.Name)+" "+sqliteType(fd.Type))
	}

	if _, err := conn.ExecContext(ctx, `DROP TABLE IF EXISTS temp.staging`); err != nil {
		return nil, eris.Wrap(err, "sqlite: drop staging")
	}
	if _, err := conn.ExecContext(ctx, `CREATE TEMP TABLE staging (`+strings.Join(cols, ", ")+`)`); err != nil {
		return nil, eris.Wrap(err, "sqlite: create staging")
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `DROP TABLE IF EXISTS temp.staging`) //nolint:errcheck

	names := make([]string, 0, len(fields)+1)
	marks := make([]string, 0, len(fields)+1)
	names = append(names, "_idx")
	marks = append(marks, "?")
	for _, fd := range fields {
		names = append(names, quoteIdent(fd.Name))
		marks = append(marks, "?")
	}
	insert := fmt.Sprintf(`INSERT INTO staging (%s) VALUES (%s)`,
		strings.Join(names, ", "), strings.Join(marks, ", "))

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin staging")
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: prepare staging insert")
	}
	for i, r := range t.Rows() {
		args := make([]any, 0, len(fields)+1)
		args = append(args, i)
		for _, fd := range fields {
			args = append(args, stagingValue(r.Get(fd.Name)))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			tx.Rollback() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: stage row %d", i)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit staging")
	}

	rows, err := conn.QueryContext(ctx, `SELECT _idx FROM staging WHERE `+where+` ORDER BY _idx`)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: evaluate filter %q", where)
	}
	defer rows.Close()

	var keep []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan filter row")
		}
		keep = append(keep, idx)
	}
	return keep, eris.Wrap(rows.Err(), "sqlite: filter iterate")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteType(ft table.FieldType) string {
	switch ft {
	case table.Integer, table.OID:
		return "INTEGER"
	case table.Double:
		return "REAL"
	}
	return "TEXT"
}

func stagingValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.DateOnly)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return v
}
