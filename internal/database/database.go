package database

import (
	"database/sql"
	"embed"
	"fmt"
	"net/url"

	"hyperyapper/internal/logging"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the persistence layer: a SQLite database holding one JSON document
// per logical store (sessions, bluesky vault, notifications, reply cache,
// recent emojis), each under its own namespaced key. Documents are loaded
// fully into memory and rewritten fully on every mutation; there is no
// incremental patching.
type DB struct {
	*sql.DB
}

// NewDB opens a connection to the SQLite database specified by the path
// and runs any pending migrations.
func NewDB(dataSourceName string) (*DB, error) {
	logging.Info("Opening database connection to: %s", dataSourceName)
	// Enable foreign keys and WAL mode via the DSN query string.
	u, err := url.Parse(dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	q := u.Query()
	q.Set("_foreign_keys", "1")
	q.Set("_journal_mode", "WAL")
	u.RawQuery = q.Encode()

	dbConn, err := sql.Open("sqlite3", u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = dbConn.Ping(); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{dbConn}

	if err := db.applyMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return db, nil
}

// applyMigrations checks the current database schema version and applies
// any pending migrations from the embedded migrations filesystem.
func (db *DB) applyMigrations() error {
	logging.Info("Checking database migrations...")

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err == migrate.ErrNoChange {
		logging.Info("Database schema is up to date.")
	} else {
		logging.Info("Database migrations applied successfully.")
	}

	if srcErr := src.Close(); srcErr != nil {
		return fmt.Errorf("failed to close migration source: %w", srcErr)
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	logging.Info("Closing database connection.")
	return db.DB.Close()
}

// ---- Blob store operations ----

// LoadStore returns the JSON document persisted under the given store name,
// or nil when the store has never been written.
func (db *DB) LoadStore(name string) ([]byte, error) {
	query := `SELECT data FROM stores WHERE name = ?;`
	var data []byte
	err := db.QueryRow(query, name).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load store %s: %w", name, err)
	}
	return data, nil
}

// SaveStore rewrites the full JSON document for the given store name.
func (db *DB) SaveStore(name string, data []byte) error {
	query := `
		INSERT INTO stores (name, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP;
	`
	if _, err := db.Exec(query, name, data); err != nil {
		return fmt.Errorf("failed to save store %s: %w", name, err)
	}
	return nil
}

// DeleteStore removes a store's document entirely.
func (db *DB) DeleteStore(name string) error {
	if _, err := db.Exec(`DELETE FROM stores WHERE name = ?;`, name); err != nil {
		return fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	return nil
}
