package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"chatdesk/config"
	"chatdesk/model"

	_ "modernc.org/sqlite"
)

const dbFileName = "chatdesk.db"

// DB is the application database. Messages, settings and model lists share
// one sqlite file under the data directory.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

type Option func(*DB)

func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// Open opens (creating if needed) the database in dataDir and brings its
// schema up to date.
func Open(dataDir string, opts ...Option) (*DB, error) {
	if err := config.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, dbFileName)

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db, path: dbPath, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return d, nil
}

func (d *DB) Path() string {
	return d.path
}

func (d *DB) Messages() *MessageStore {
	return &MessageStore{db: d.db}
}

func (d *DB) Settings() *SettingsStore {
	return &SettingsStore{db: d.db, logger: d.logger}
}

func (d *DB) Models() *ModelStore {
	return &ModelStore{db: d.db}
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *DB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		order_seq INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		is_variant INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, order_seq);
	CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_status (
		provider_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		PRIMARY KEY (provider_id, model_id)
	);

	CREATE TABLE IF NOT EXISTS provider_models (
		provider_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		models TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (provider_id, kind)
	);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return err
	}

	if err := d.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// columnMigrations are columns added to messages after the first schema.
var columnMigrations = []struct {
	table  string
	column string
	ddl    string
}{
	{"messages", "status", `ALTER TABLE messages ADD COLUMN status TEXT NOT NULL DEFAULT 'complete'`},
	{"messages", "metadata", `ALTER TABLE messages ADD COLUMN metadata TEXT NOT NULL DEFAULT '{}'`},
	{"messages", "is_context_edge", `ALTER TABLE messages ADD COLUMN is_context_edge INTEGER NOT NULL DEFAULT 0`},
}

// migrateSchema adds missing columns to existing databases
func (d *DB) migrateSchema() error {
	for _, m := range columnMigrations {
		exists, err := d.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", m.column, err)
		}
		if exists {
			continue
		}
		if _, err := d.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("failed to add %s column: %w", m.column, err)
		}
	}
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (d *DB) columnExists(tableName, columnName string) (bool, error) {
	rows, err := d.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}

	return false, rows.Err()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStorage, op, err)
}

// withTx runs fn in a transaction, rolling back when fn fails.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
