package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is the embedded backend used by self-hosted deployments and by
// the test suite. It runs libSQL-compatible SQLite in WAL mode for
// concurrent reads.
type SQLite struct {
	sqlStore
	path string
}

type sqliteDialect struct{}

func (sqliteDialect) placeholder(int) string    { return "?" }
func (sqliteDialect) quote(ident string) string { return `"` + ident + `"` }

// OpenSQLite opens (creating if needed) the embedded database at path.
//
// The caller must Close when done. Foreign keys are enabled so the
// dependency orderings in the tables catalog are actually exercised.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := openSQL("sqlite3", "file:"+path)
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &SQLite{sqlStore: sqlStore{db: conn, d: sqliteDialect{}}, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// InitSchema creates the syncable tables if they don't exist. Idempotent.
func (s *SQLite) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT,
		display_name TEXT,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT,
		position INTEGER,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS themes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category_id TEXT REFERENCES categories(id) ON DELETE CASCADE,
		name TEXT,
		color TEXT,
		position INTEGER,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		theme_id TEXT REFERENCES themes(id) ON DELETE CASCADE,
		name TEXT,
		position INTEGER,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS labels (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_id TEXT REFERENCES subjects(id) ON DELETE CASCADE,
		name TEXT,
		color TEXT,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_id TEXT,
		title TEXT,
		description TEXT,
		status TEXT,
		priority INTEGER,
		due_at TEXT,
		completed_at TEXT,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS task_labels (
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		label_id TEXT NOT NULL REFERENCES labels(id) ON DELETE CASCADE,
		created_at TEXT,
		PRIMARY KEY (task_id, label_id)
	);

	CREATE TABLE IF NOT EXISTS task_attachments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		task_id TEXT REFERENCES tasks(id) ON DELETE CASCADE,
		file_name TEXT,
		mime_type TEXT,
		storage_path TEXT,
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS pending_items (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		task_id TEXT,
		title TEXT,
		scheduled_for TEXT,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		key TEXT,
		value TEXT,
		updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_categories_user ON categories(user_id);
	CREATE INDEX IF NOT EXISTS idx_themes_user ON themes(user_id);
	CREATE INDEX IF NOT EXISTS idx_subjects_user ON subjects(user_id);
	CREATE INDEX IF NOT EXISTS idx_labels_user ON labels(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_attachments_user ON task_attachments(user_id);
	CREATE INDEX IF NOT EXISTS idx_pending_user ON pending_items(user_id);
	CREATE INDEX IF NOT EXISTS idx_prefs_user ON user_preferences(user_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
