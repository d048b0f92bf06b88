package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/persistence-cli/internal/store"
)

// openStore opens and migrates the local store at cfg.Store.Path.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}
