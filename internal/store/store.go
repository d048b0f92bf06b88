// Package store keeps run history and analysis outputs in a local SQLite
// database, and evaluates attribute filters over staged rows.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/persistence-cli/internal/table"
)

// ErrNotFound is returned when a run or table does not exist.
var ErrNotFound = eris.New("store: not found")

// RunStatus is the lifecycle state of an analysis run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSpec describes the inputs of a run.
type RunSpec struct {
	Name      string   `json:"name"`
	Mode      string   `json:"mode"`
	InputDir  string   `json:"input_dir,omitempty"`
	Slices    []string `json:"slices"`
	Distances []int    `json:"distances"`
}

// Run is one recorded analysis run.
type Run struct {
	ID        string    `json:"id"`
	Spec      RunSpec   `json:"spec"`
	Status    RunStatus `json:"status"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableInfo summarizes a saved output table.
type TableInfo struct {
	Name    string    `json:"name"`
	Rows    int       `json:"rows"`
	Fields  int       `json:"fields"`
	SavedAt time.Time `json:"saved_at"`
}

// Filter is a pair of SQL boolean expressions over a table's fields.
// Rows are kept when Keep holds and Reject does not. With RejectOnly the
// Keep expression is ignored. Empty expressions do not constrain.
type Filter struct {
	Keep       string
	Reject     string
	RejectOnly bool
}

// Store defines the persistence interface for analysis runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, spec RunSpec) (*Run, error)
	CompleteRun(ctx context.Context, runID, output string) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Outputs
	SaveTable(ctx context.Context, name string, t *table.Table) error
	LoadTable(ctx context.Context, name string) (*table.Table, error)
	ListTables(ctx context.Context) ([]TableInfo, error)

	// Filtering
	FilterRows(ctx context.Context, t *table.Table, f Filter) ([]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
