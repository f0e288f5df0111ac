package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/tasknest/tasknest/internal/backend"
	"github.com/tasknest/tasknest/internal/sanitize"
	"github.com/tasknest/tasknest/internal/tables"
)

var (
	// ErrMalformedInput means the snapshot document is missing required
	// fields or is not valid JSON. Rejected before any mutation.
	ErrMalformedInput = errors.New("snapshot: malformed document")

	// ErrOwnershipViolation means the snapshot belongs to a different
	// user than the caller. Rejected before any mutation and worth
	// flagging in logs as a potential security event.
	ErrOwnershipViolation = errors.New("snapshot: document belongs to a different user")
)

// insertBatchSize bounds how many rows go into a single INSERT.
const insertBatchSize = 100

// Importer replaces a user's current remote data with the contents of a
// snapshot document.
type Importer struct {
	backend backend.Backend
	logger  *log.Logger
}

// TableResult records the outcome of restoring one table.
type TableResult struct {
	Table    string `json:"table"`
	Restored int    `json:"restored"`
	Error    string `json:"error,omitempty"`
}

// Report is the structured outcome of a restore. Success is false if
// any table reported an error.
type Report struct {
	Success       bool          `json:"success"`
	TotalRestored int           `json:"total_records_restored"`
	Tables        []TableResult `json:"per_table_results"`
}

// NewImporter creates an Importer. If logger is nil, a default logger
// writing to stderr is used.
func NewImporter(b backend.Backend, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(os.Stderr, "[restore] ", log.LstdFlags)
	}
	return &Importer{backend: b, logger: logger}
}

// Restore clears the caller's existing rows and re-inserts the
// snapshot's contents.
//
// Preconditions run before any destructive step: the document must
// carry a version, a non-empty table map, and a user_id equal to
// callerID. After the clear phase begins the operation runs to
// completion; per-table insert failures are recorded in the report and
// processing continues, because re-running restore is safe while an
// aborted clear would leave the user with nothing.
func (i *Importer) Restore(ctx context.Context, doc *Document, callerID string) (*Report, error) {
	if doc == nil || doc.Version == "" || len(doc.Tables) == 0 || doc.UserID == "" {
		return nil, ErrMalformedInput
	}
	if callerID == "" || doc.UserID != callerID {
		i.logger.Printf("WARNING: restore rejected: snapshot for user %s presented by %s",
			doc.UserID, callerID)
		return nil, ErrOwnershipViolation
	}
	scope := backend.ServiceScope()

	if err := i.clear(ctx, scope, callerID); err != nil {
		return nil, err
	}

	report := &Report{Success: true}
	for _, tbl := range tables.Forward() {
		rows := doc.Tables[tbl.Name]
		res := TableResult{Table: tbl.Name}
		n, err := i.insertTable(ctx, scope, tbl, callerID, rows)
		res.Restored = n
		if err != nil {
			i.logger.Printf("WARNING: restore of %s failed after %d rows: %v", tbl.Name, n, err)
			res.Error = err.Error()
			report.Success = false
		}
		report.TotalRestored += n
		report.Tables = append(report.Tables, res)
	}

	i.logger.Printf("Restored %d records for user %s (success=%v)",
		report.TotalRestored, callerID, report.Success)
	return report, nil
}

// clear deletes the caller's rows from every syncable table in reverse
// dependency order so children go before parents.
func (i *Importer) clear(ctx context.Context, scope backend.Scope, userID string) error {
	taskIDs, err := i.taskIDs(ctx, scope, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve task ids: %w", err)
	}

	for _, tbl := range tables.Reverse() {
		switch {
		case tbl.Join:
			err = i.backend.DeleteIn(ctx, scope, tbl.Name, "task_id", taskIDs)
		case tbl.Profile:
			err = i.backend.DeleteByField(ctx, scope, tbl.Name, "id", userID)
		default:
			err = i.backend.DeleteByField(ctx, scope, tbl.Name, tbl.OwnerColumn, userID)
		}
		if err != nil {
			return fmt.Errorf("failed to clear %s: %w", tbl.Name, err)
		}
	}
	return nil
}

// insertTable inserts rows in fixed-size batches, rewriting each row's
// owner field to the caller so the restored data always belongs to the
// restoring account. Returns the number of rows inserted before any
// failure.
func (i *Importer) insertTable(ctx context.Context, scope backend.Scope, tbl tables.Table, userID string, rows []backend.Row) (int, error) {
	batch := make([]backend.Row, 0, insertBatchSize)
	inserted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := i.backend.InsertRows(ctx, scope, tbl.Name, batch); err != nil {
			return err
		}
		inserted += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, row := range rows {
		rec := sanitize.Record(row)
		if len(rec) == 0 {
			continue
		}
		if tbl.Profile {
			rec["id"] = userID
		} else if tbl.OwnerColumn != "" {
			rec[tbl.OwnerColumn] = userID
		}
		batch = append(batch, rec)
		if len(batch) == insertBatchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func (i *Importer) taskIDs(ctx context.Context, scope backend.Scope, userID string) ([]any, error) {
	rows, err := i.backend.SelectByField(ctx, scope, "tasks", "user_id", userID)
	if err != nil {
		return nil, err
	}
	return rowIDs(rows), nil
}
