// Package store persists sheets, phase logs and live sessions for the core
// server on SQLite or PostgreSQL.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phasetrack/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrBusy means the operator already has an open live session or dead time.
	ErrBusy = errors.New("operator already has an open session")
)

type DB struct {
	*sql.DB
	dialect dialect
}

func Open(cfg *config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return openSQLite(cfg.SQLite.Path)
	case "postgres":
		return openPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func openSQLite(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return newDB(sqlDB, sqliteDialect{})
}

func openPostgres(cfg *config.PostgresConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	return newDB(sqlDB, postgresDialect{})
}

func newDB(sqlDB *sql.DB, d dialect) (*DB, error) {
	db := &DB{DB: sqlDB, dialect: d}
	if _, err := db.Exec(d.schema()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.name(), err)
	}
	return db, nil
}

// Driver names the database in use, "sqlite" or "postgres".
func (db *DB) Driver() string { return db.dialect.name() }

// Q adapts a ?-placeholder query to the database in use.
func (db *DB) Q(query string) string { return db.dialect.rebind(query) }

// ts prepares a timestamp parameter.
func (db *DB) ts(t time.Time) any { return db.dialect.timestamp(t) }

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

// insertID runs an INSERT ... RETURNING id.
func (db *DB) insertID(q queryer, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRow(db.Q(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// inTx runs fn in a transaction, rolling back on error.
func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
