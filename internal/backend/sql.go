package backend

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/tasknest/tasknest/internal/tables"
)

// dialect captures the two things Postgres and SQLite disagree on.
type dialect interface {
	placeholder(i int) string
	quote(ident string) string
}

// sqlStore implements Backend on top of database/sql for any dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

// lookupTable resolves name against the catalog.
func lookupTable(name string) (tables.Table, error) {
	t, ok := tables.Lookup(name)
	if !ok {
		return tables.Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// scopeFilter returns the extra WHERE predicate a non-elevated scope
// imposes on tbl. The join table is handled by appendScope, which
// narrows it through task ownership instead of an owner column.
func scopeFilter(scope Scope, tbl tables.Table) (column string, value any, ok bool) {
	if scope.Elevated() {
		return "", nil, false
	}
	switch {
	case tbl.Profile:
		return "id", scope.UserID(), true
	case tbl.OwnerColumn != "":
		return tbl.OwnerColumn, scope.UserID(), true
	default:
		return "", nil, false
	}
}

// appendScope adds the scope's ownership predicate to query. Owned and
// profile tables get an equality on the owner column, skipped when the
// caller already filters by it. The join table has no owner column, so
// it is narrowed to rows whose task belongs to the scoped user.
func (s *sqlStore) appendScope(query string, args []any, scope Scope, tbl tables.Table, filterColumn string) (string, []any) {
	if tbl.Join {
		if scope.Elevated() {
			return query, args
		}
		query += fmt.Sprintf(" AND %s IN (SELECT %s FROM %s WHERE %s = %s)",
			s.d.quote("task_id"), s.d.quote("id"), s.d.quote("tasks"),
			s.d.quote("user_id"), s.d.placeholder(len(args)+1))
		return query, append(args, scope.UserID())
	}
	if col, val, ok := scopeFilter(scope, tbl); ok && col != filterColumn {
		query += fmt.Sprintf(" AND %s = %s", s.d.quote(col), s.d.placeholder(len(args)+1))
		args = append(args, val)
	}
	return query, args
}

// checkWriteOwnership verifies (and pins) the owner field of a row being
// written under a non-elevated scope.
func checkWriteOwnership(scope Scope, tbl tables.Table, row Row) error {
	if scope.Elevated() {
		return nil
	}
	col := tbl.OwnerColumn
	if tbl.Profile {
		col = "id"
	}
	if col == "" {
		return nil
	}
	if v, present := row[col]; present && v != nil {
		if s, _ := v.(string); s != scope.UserID() {
			return fmt.Errorf("%w: row %s=%v does not belong to %s", ErrPermissionDenied, col, v, scope.UserID())
		}
	}
	row[col] = scope.UserID()
	return nil
}

// checkJoinOwnership verifies that a join row written under a
// non-elevated scope references a task and a label owned by the scoped
// user. The join table carries no owner column, so ownership is proved
// through both parents.
func (s *sqlStore) checkJoinOwnership(ctx context.Context, scope Scope, row Row) error {
	if scope.Elevated() {
		return nil
	}
	refs := []struct{ column, parent string }{
		{"task_id", "tasks"},
		{"label_id", "labels"},
	}
	for _, ref := range refs {
		id, _ := row[ref.column].(string)
		if id == "" {
			return fmt.Errorf("%w: join row missing %s", ErrPermissionDenied, ref.column)
		}
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s AND %s = %s",
			s.d.quote(ref.parent), s.d.quote("id"), s.d.placeholder(1),
			s.d.quote("user_id"), s.d.placeholder(2))
		var n int
		if err := s.db.QueryRowContext(ctx, query, id, scope.UserID()).Scan(&n); err != nil {
			return fmt.Errorf("failed to verify %s ownership: %w", ref.column, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s %s does not belong to %s",
				ErrPermissionDenied, ref.column, id, scope.UserID())
		}
	}
	return nil
}

func (s *sqlStore) SelectByField(ctx context.Context, scope Scope, table, column string, value any) ([]Row, error) {
	tbl, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if !validIdent(column) {
		return nil, fmt.Errorf("invalid column name %q", column)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		s.d.quote(table), s.d.quote(column), s.d.placeholder(1))
	args := []any{value}
	query, args = s.appendScope(query, args, scope, tbl, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *sqlStore) SelectIn(ctx context.Context, scope Scope, table, column string, values []any) ([]Row, error) {
	tbl, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if !validIdent(column) {
		return nil, fmt.Errorf("invalid column name %q", column)
	}
	if len(values) == 0 {
		return []Row{}, nil
	}

	marks := make([]string, len(values))
	for i := range values {
		marks[i] = s.d.placeholder(i + 1)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)",
		s.d.quote(table), s.d.quote(column), strings.Join(marks, ", "))
	args := append([]any{}, values...)
	query, args = s.appendScope(query, args, scope, tbl, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *sqlStore) Upsert(ctx context.Context, scope Scope, table string, row Row) error {
	tbl, err := lookupTable(table)
	if err != nil {
		return err
	}
	if tbl.Join {
		if err := s.checkJoinOwnership(ctx, scope, row); err != nil {
			return err
		}
	} else if err := checkWriteOwnership(scope, tbl, row); err != nil {
		return err
	}

	cols := sortedColumns(row)
	if len(cols) == 0 {
		return fmt.Errorf("upsert into %s: empty record", table)
	}

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = s.d.quote(c)
		marks[i] = s.d.placeholder(i + 1)
		args[i] = row[c]
	}

	key := make(map[string]bool, len(tbl.KeyColumns))
	keyQuoted := make([]string, len(tbl.KeyColumns))
	for i, c := range tbl.KeyColumns {
		key[c] = true
		keyQuoted[i] = s.d.quote(c)
	}

	var sets []string
	for _, c := range cols {
		if key[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", s.d.quote(c), s.d.quote(c)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO ",
		s.d.quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "),
		strings.Join(keyQuoted, ", "))
	if len(sets) == 0 {
		query += "NOTHING"
	} else {
		query += "UPDATE SET " + strings.Join(sets, ", ")
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}

func (s *sqlStore) UpdateByID(ctx context.Context, scope Scope, table, id string, fields Row) error {
	tbl, err := lookupTable(table)
	if err != nil {
		return err
	}
	if tbl.Join {
		return fmt.Errorf("cannot update %s by id: rows are keyed by (%s)",
			table, strings.Join(tbl.KeyColumns, ", "))
	}
	if len(fields) == 0 {
		return nil
	}
	if err := checkWriteOwnership(scope, tbl, fields); err != nil {
		return err
	}

	var sets []string
	var args []any
	i := 1
	for _, c := range sortedColumns(fields) {
		if c == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", s.d.quote(c), s.d.placeholder(i)))
		args = append(args, fields[c])
		i++
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		s.d.quote(table), strings.Join(sets, ", "), s.d.placeholder(i))
	args = append(args, id)
	query, args = s.appendScope(query, args, scope, tbl, "id")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	return nil
}

func (s *sqlStore) DeleteByID(ctx context.Context, scope Scope, table, id string) error {
	tbl, err := lookupTable(table)
	if err != nil {
		return err
	}
	if tbl.Join {
		return fmt.Errorf("cannot delete from %s by id: rows are keyed by (%s)",
			table, strings.Join(tbl.KeyColumns, ", "))
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", s.d.quote(table), s.d.placeholder(1))
	args := []any{id}
	query, args = s.appendScope(query, args, scope, tbl, "id")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func (s *sqlStore) DeleteByField(ctx context.Context, scope Scope, table, column string, value any) error {
	tbl, err := lookupTable(table)
	if err != nil {
		return err
	}
	if !validIdent(column) {
		return fmt.Errorf("invalid column name %q", column)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		s.d.quote(table), s.d.quote(column), s.d.placeholder(1))
	args := []any{value}
	query, args = s.appendScope(query, args, scope, tbl, column)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func (s *sqlStore) DeleteIn(ctx context.Context, scope Scope, table, column string, values []any) error {
	tbl, err := lookupTable(table)
	if err != nil {
		return err
	}
	if !validIdent(column) {
		return fmt.Errorf("invalid column name %q", column)
	}
	if len(values) == 0 {
		return nil
	}

	marks := make([]string, len(values))
	for i := range values {
		marks[i] = s.d.placeholder(i + 1)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		s.d.quote(table), s.d.quote(column), strings.Join(marks, ", "))
	args := append([]any{}, values...)
	query, args = s.appendScope(query, args, scope, tbl, column)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func (s *sqlStore) DeleteMatch(ctx context.Context, scope Scope, table string, match Row) error {
	tbl, err := lookupTable(table)
	if err != nil {
		return err
	}
	cols := sortedColumns(match)
	if len(cols) == 0 {
		return fmt.Errorf("delete from %s: empty match", table)
	}

	preds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		preds[i] = fmt.Sprintf("%s = %s", s.d.quote(c), s.d.placeholder(i+1))
		args[i] = match[c]
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s",
		s.d.quote(table), strings.Join(preds, " AND "))
	query, args = s.appendScope(query, args, scope, tbl, "")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func (s *sqlStore) InsertRows(ctx context.Context, scope Scope, table string, rows []Row) error {
	if _, err := lookupTable(table); err != nil {
		return err
	}
	if !scope.Elevated() {
		return fmt.Errorf("%w: bulk insert requires the service scope", ErrPermissionDenied)
	}
	if len(rows) == 0 {
		return nil
	}

	// The column set is the union across the batch; a row missing a
	// column inserts NULL for it rather than dropping another row's
	// value.
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for _, c := range sortedColumns(row) {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		return fmt.Errorf("insert into %s: empty record", table)
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = s.d.quote(c)
	}

	var tuples []string
	var args []any
	i := 1
	for _, row := range rows {
		marks := make([]string, len(cols))
		for j, c := range cols {
			marks[j] = s.d.placeholder(i)
			args = append(args, row[c])
			i++
		}
		tuples = append(tuples, "("+strings.Join(marks, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		s.d.quote(table), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

func (s *sqlStore) ListUsers(ctx context.Context, scope Scope) ([]string, error) {
	if !scope.Elevated() {
		return nil, fmt.Errorf("%w: listing users requires the service scope", ErrPermissionDenied)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s ORDER BY id", s.d.quote("users")))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return ids, nil
}

// sortedColumns returns the record's column names in deterministic order,
// rejecting any that are not safe identifiers.
func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		if validIdent(c) {
			cols = append(cols, c)
		}
	}
	sort.Strings(cols)
	return cols
}

// scanRows converts a result set into Rows, normalizing []byte to string
// so the result marshals cleanly to JSON.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	out := []Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
