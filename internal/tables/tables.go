// Package tables defines the catalog of syncable entity tables and the
// foreign-key dependency order shared by the sync connector, the snapshot
// exporter, and the snapshot importer.
//
// The catalog is the single source of truth: a table not listed here is
// invisible to sync and backup, and the forward/reverse orderings here are
// what keep bulk inserts and bulk deletes free of constraint violations.
package tables

// Table describes one syncable entity table.
type Table struct {
	// Name is the table name as it appears in both the local replica and
	// the remote backend.
	Name string

	// OwnerColumn is the column holding the owning user's id. Empty for
	// the join table and for the profile table (which is keyed by the
	// user id itself).
	OwnerColumn string

	// KeyColumns are the columns forming the conflict target for upserts.
	KeyColumns []string

	// Profile marks the user identity table, which is scoped by its
	// primary id rather than an owner column.
	Profile bool

	// Join marks the task-label join table, which has no owner column and
	// is scoped through the task ids it references.
	Join bool
}

// catalog lists every syncable table in forward dependency order:
// parents strictly before children, so inserting top to bottom never
// violates a foreign key.
var catalog = []Table{
	{Name: "users", KeyColumns: []string{"id"}, Profile: true},
	{Name: "categories", OwnerColumn: "user_id", KeyColumns: []string{"id"}},
	{Name: "themes", OwnerColumn: "user_id", KeyColumns: []string{"id"}},
	{Name: "subjects", OwnerColumn: "user_id", KeyColumns: []string{"id"}},
	{Name: "labels", OwnerColumn: "user_id", KeyColumns: []string{"id"}},
	{Name: "tasks", OwnerColumn: "user_id", KeyColumns: []string{"id"}},
	{Name: "task_labels", KeyColumns: []string{"task_id", "label_id"}, Join: true},
	{Name: "task_attachments", OwnerColumn: "user_id", KeyColumns: []string{"id"}},
	{Name: "pending_items", OwnerColumn: "user_id", KeyColumns: []string{"id"}},
	{Name: "user_preferences", OwnerColumn: "user_id", KeyColumns: []string{"id"}},
}

var byName = func() map[string]Table {
	m := make(map[string]Table, len(catalog))
	for _, t := range catalog {
		m[t.Name] = t
	}
	return m
}()

// Forward returns the catalog in insert-safe order (parents before
// children). The returned slice is a copy and may be modified freely.
func Forward() []Table {
	out := make([]Table, len(catalog))
	copy(out, catalog)
	return out
}

// Reverse returns the catalog in delete-safe order (children before
// parents).
func Reverse() []Table {
	out := make([]Table, len(catalog))
	for i, t := range catalog {
		out[len(catalog)-1-i] = t
	}
	return out
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Table, bool) {
	t, ok := byName[name]
	return t, ok
}

// IsSyncable reports whether name is in the syncable allowlist.
func IsSyncable(name string) bool {
	_, ok := byName[name]
	return ok
}

// Names returns every syncable table name in forward order.
func Names() []string {
	out := make([]string, len(catalog))
	for i, t := range catalog {
		out[i] = t.Name
	}
	return out
}

// Count returns the number of syncable tables.
func Count() int {
	return len(catalog)
}
