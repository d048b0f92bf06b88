package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/persistence-cli/internal/shapefile"
	"github.com/sells-group/persistence-cli/internal/table"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	spec       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	output     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS output_tables (
	name      TEXT PRIMARY KEY,
	fields    TEXT NOT NULL,
	row_count INTEGER NOT NULL,
	saved_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS output_rows (
	table_name TEXT NOT NULL REFERENCES output_tables(name),
	idx        INTEGER NOT NULL,
	attrs      TEXT NOT NULL,
	geom       BLOB,
	PRIMARY KEY (table_name, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, spec RunSpec) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run spec")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, spec, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(specJSON), string(RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{
		ID:        id,
		Spec:      spec,
		Status:    RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID, output string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, output = ?, updated_at = ? WHERE id = ?`,
		string(RunStatusComplete), output, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, spec, status, output, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, spec, status, output, error, created_at, updated_at FROM runs
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// SaveTable replaces the stored table called name with t.
func (s *SQLiteStore) SaveTable(ctx context.Context, name string, t *table.Table) error {
	fieldsJSON, err := json.Marshal(encodeFields(t.Fields()))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save table")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM output_rows WHERE table_name = ?`, name); err != nil {
		return eris.Wrapf(err, "sqlite: clear table %s", name)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO output_tables (name, fields, row_count, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET fields = excluded.fields, row_count = excluded.row_count, saved_at = excluded.saved_at`,
		name, string(fieldsJSON), t.Len(), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert table %s", name)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO output_rows (table_name, idx, attrs, geom) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare row insert")
	}
	defer stmt.Close()

	for i, r := range t.Rows() {
		attrs, err := json.Marshal(r.Values())
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal row %d", i)
		}
		g, err := shapefile.EncodeEWKB(r.Geom)
		if err != nil {
			return eris.Wrapf(err, "sqlite: row %d", i)
		}
		if _, err := stmt.ExecContext(ctx, name, i, string(attrs), g); err != nil {
			return eris.Wrapf(err, "sqlite: insert row %d", i)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save table")
}

// LoadTable reads a table saved with SaveTable. Rows come back in the
// order they were saved.
func (s *SQLiteStore) LoadTable(ctx context.Context, name string) (*table.Table, error) {
	var fieldsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT fields FROM output_tables WHERE name = ?`, name).Scan(&fieldsJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "table %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load table %s", name)
	}

	var recs []fieldRecord
	if err := json.Unmarshal([]byte(fieldsJSON), &recs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal fields")
	}
	fields := decodeFields(recs)
	t := table.New(fields...)

	types := make(map[string]table.FieldType, len(fields))
	for _, f := range fields {
		types[f.Name] = f.Type
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT attrs, geom FROM output_rows WHERE table_name = ? ORDER BY idx`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load rows %s", name)
	}
	defer rows.Close()

	for rows.Next() {
		var attrs string
		var geomBytes []byte
		if err := rows.Scan(&attrs, &geomBytes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		values, err := decodeValues(attrs, types)
		if err != nil {
			return nil, err
		}
		g, err := shapefile.DecodeEWKB(geomBytes)
		if err != nil {
			return nil, err
		}
		t.Append(table.NewRow(values, g))
	}
	return t, eris.Wrap(rows.Err(), "sqlite: load rows iterate")
}

func (s *SQLiteStore) ListTables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, fields, row_count, saved_at FROM output_tables ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var info TableInfo
		var fieldsJSON string
		if err := rows.Scan(&info.Name, &fieldsJSON, &info.Rows, &info.SavedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table info")
		}
		var recs []fieldRecord
		if err := json.Unmarshal([]byte(fieldsJSON), &recs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal fields")
		}
		info.Fields = len(recs)
		out = append(out, info)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list tables iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var specJSON string
	var output, errMsg sql.NullString

	err := row.Scan(&r.ID, &specJSON, &r.Status, &output, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(specJSON), &r.Spec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run spec")
	}
	r.Output = output.String
	r.Error = errMsg.String
	return &r, nil
}

type fieldRecord struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Length int    `json:"length,omitempty"`
}

func encodeFields(fields []table.Field) []fieldRecord {
	out := make([]fieldRecord, len(fields))
	for i, f := range fields {
		out[i] = fieldRecord{Name: f.Name, Type: string(f.Type), Length: f.Length}
	}
	return out
}

func decodeFields(recs []fieldRecord) []table.Field {
	out := make([]table.Field, len(recs))
	for i, r := range recs {
		out[i] = table.Field{Name: r.Name, Type: table.FieldType(r.Type), Length: r.Length}
	}
	return out
}

// decodeValues restores row values to the Go types their fields declare.
func decodeValues(attrs string, types map[string]table.FieldType) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(attrs))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal row")
	}

	for k, v := range raw {
		switch x := v.(type) {
		case json.Number:
			raw[k] = numberValue(x, types[k])
		case string:
			if types[k] == table.Date {
				if ts, err := time.Parse(time.RFC3339Nano, x); err == nil {
					raw[k] = ts
				}
			}
		}
	}
	return raw, nil
}

func numberValue(n json.Number, ft table.FieldType) any {
	switch ft {
	case table.Integer, table.OID:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case table.String:
		return n.String()
	case table.Double:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
