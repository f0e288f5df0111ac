// Package backend abstracts the remote relational store behind scoped
// per-table read/write operations, so the sync connector, the snapshot
// exporter, and the snapshot importer are portable to any relational
// database.
//
// Two implementations are provided: Postgres (production) and embedded
// SQLite (self-hosted deployments and tests). Both restrict every
// operation to the syncable table catalog and enforce the caller's Scope,
// so a per-user credential can never read or write another user's rows.
package backend

import (
	"context"
	"errors"
)

// Row is one table row as a column-name to value map. Values are the
// driver's scanned representation with []byte normalized to string, so a
// Row marshals cleanly to JSON.
type Row = map[string]any

var (
	// ErrUnknownTable is returned for any table outside the syncable
	// catalog.
	ErrUnknownTable = errors.New("backend: table not in syncable catalog")

	// ErrPermissionDenied is returned when a scope attempts an operation
	// it is not entitled to, such as a per-user scope listing all users
	// or writing a row owned by someone else.
	ErrPermissionDenied = errors.New("backend: scope not permitted for this operation")
)

// Backend is the scoped operation surface of the remote relational store.
//
// Every method validates table against the catalog and applies the scope:
// a user scope is silently narrowed to the caller's own rows, a service
// scope (elevated, explicitly obtained) bypasses per-row ownership.
type Backend interface {
	// SelectByField reads all rows where column equals value.
	SelectByField(ctx context.Context, scope Scope, table, column string, value any) ([]Row, error)

	// SelectIn reads all rows where column is in values. An empty values
	// slice yields an empty result without touching the store.
	SelectIn(ctx context.Context, scope Scope, table, column string, values []any) ([]Row, error)

	// Upsert inserts row or replaces the existing row with the same key
	// (insert-or-replace keyed on the table's key columns; safe to retry).
	Upsert(ctx context.Context, scope Scope, table string, row Row) error

	// UpdateByID applies fields to the row with the given id.
	UpdateByID(ctx context.Context, scope Scope, table, id string, fields Row) error

	// DeleteByID removes the row with the given id. Deleting an absent
	// row is not an error (idempotent).
	DeleteByID(ctx context.Context, scope Scope, table, id string) error

	// DeleteByField removes all rows where column equals value.
	DeleteByField(ctx context.Context, scope Scope, table, column string, value any) error

	// DeleteIn removes all rows where column is in values.
	DeleteIn(ctx context.Context, scope Scope, table, column string, values []any) error

	// DeleteMatch removes all rows whose columns equal every entry in
	// match. This is the delete path for composite-keyed tables, which
	// have no id column for DeleteByID to target.
	DeleteMatch(ctx context.Context, scope Scope, table string, match Row) error

	// InsertRows inserts rows in one statement. Used by the snapshot
	// importer's batched insert phase; requires an elevated scope.
	InsertRows(ctx context.Context, scope Scope, table string, rows []Row) error

	// ListUsers returns every known user id. Requires an elevated scope.
	ListUsers(ctx context.Context, scope Scope) ([]string, error)
}

// validIdent reports whether s is safe to splice into SQL as an
// identifier. Table names come from the catalog; this guards column names
// arriving inside records.
func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
