package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tasknest/tasknest/internal/backend"
	"github.com/tasknest/tasknest/internal/blob"
	"github.com/tasknest/tasknest/internal/tables"
)

// Exporter reads one user's rows across all syncable tables and
// persists them as a snapshot document in blob storage. Reads run under
// an elevated scope because the scheduled all-users path has no user
// session to borrow.
type Exporter struct {
	backend backend.Backend
	store   blob.Store
	logger  *log.Logger
	now     func() time.Time
}

// ExportResult summarizes one user's export.
type ExportResult struct {
	UserID          string    `json:"user_id"`
	CreatedAt       time.Time `json:"created_at"`
	TablesAttempted int       `json:"tables_attempted"`
	TablesExported  int       `json:"tables_exported"`
	TotalRecords    int       `json:"total_records"`
}

// UserReport is one entry of an all-users export run.
type UserReport struct {
	UserID  string `json:"user_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewExporter creates an Exporter. If logger is nil, a default logger
// writing to stderr is used.
func NewExporter(b backend.Backend, store blob.Store, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[export] ", log.LstdFlags)
	}
	return &Exporter{backend: b, store: store, logger: logger, now: time.Now}
}

// Export reads every syncable table for userID and writes the snapshot
// document to blob storage, replacing any previous snapshot for that
// user. A single table's read failure yields an empty table in the
// document rather than aborting; only a storage failure aborts.
func (e *Exporter) Export(ctx context.Context, userID string) (*ExportResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}
	scope := backend.ServiceScope()

	doc := &Document{
		Version:   FormatVersion,
		CreatedAt: e.now().UTC(),
		UserID:    userID,
		Tables:    make(map[string][]backend.Row),
	}

	result := &ExportResult{UserID: userID, CreatedAt: doc.CreatedAt}
	for _, tbl := range tables.Forward() {
		result.TablesAttempted++
		rows, err := e.readTable(ctx, scope, tbl, userID, doc)
		if err != nil {
			e.logger.Printf("WARNING: export of %s for user %s failed: %v", tbl.Name, userID, err)
			doc.Tables[tbl.Name] = []backend.Row{}
			continue
		}
		doc.Tables[tbl.Name] = rows
		result.TablesExported++
		result.TotalRecords += len(rows)
	}

	data, err := doc.Encode()
	if err != nil {
		return nil, err
	}

	// Remove the previous snapshot first so a crash between the two
	// steps leaves no stale document behind.
	key := blob.SnapshotKey(userID)
	if err := e.store.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to remove previous snapshot: %w", err)
	}
	if err := e.store.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	e.logger.Printf("Exported %d records across %d/%d tables for user %s",
		result.TotalRecords, result.TablesExported, result.TablesAttempted, userID)
	return result, nil
}

// readTable issues the scoped read for one table. The profile table is
// keyed by id, the join table is resolved through the user's already
// exported task rows, everything else filters by its owner column.
func (e *Exporter) readTable(ctx context.Context, scope backend.Scope, tbl tables.Table, userID string, doc *Document) ([]backend.Row, error) {
	switch {
	case tbl.Profile:
		return e.backend.SelectByField(ctx, scope, tbl.Name, "id", userID)
	case tbl.Join:
		taskIDs := rowIDs(doc.Tables["tasks"])
		return e.backend.SelectIn(ctx, scope, tbl.Name, "task_id", taskIDs)
	default:
		return e.backend.SelectByField(ctx, scope, tbl.Name, tbl.OwnerColumn, userID)
	}
}

// ExportAll exports every known user independently. One user's failure
// is recorded in the report and does not stop the run.
func (e *Exporter) ExportAll(ctx context.Context) ([]UserReport, error) {
	userIDs, err := e.backend.ListUsers(ctx, backend.ServiceScope())
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	reports := make([]UserReport, 0, len(userIDs))
	for _, id := range userIDs {
		if _, err := e.Export(ctx, id); err != nil {
			e.logger.Printf("WARNING: scheduled export failed for user %s: %v", id, err)
			reports = append(reports, UserReport{UserID: id, Success: false, Error: err.Error()})
			continue
		}
		reports = append(reports, UserReport{UserID: id, Success: true})
	}
	return reports, nil
}

// Status reports whether a snapshot exists for userID and, if so, its
// creation time and record count.
func (e *Exporter) Status(ctx context.Context, userID string) (exists bool, createdAt time.Time, records int, err error) {
	data, err := e.store.Get(ctx, blob.SnapshotKey(userID))
	if errors.Is(err, blob.ErrNotFound) {
		return false, time.Time{}, 0, nil
	}
	if err != nil {
		return false, time.Time{}, 0, err
	}
	doc, err := Decode(data)
	if err != nil {
		return false, time.Time{}, 0, err
	}
	return true, doc.CreatedAt, doc.TotalRecords(), nil
}

func rowIDs(rows []backend.Row) []any {
	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		if id, ok := r["id"]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
