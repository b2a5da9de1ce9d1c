package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Store owns the connection pool. Its embedded Repo runs queries outside of
// any transaction; WithTx hands a transaction-bound Repo to a unit of work.
type Store struct {
	*Repo
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a new database store and applies the schema
func NewStore(driver, databaseURL string) (*Store, error) {
	dsn := databaseURL
	if driver == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on"
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// an in-memory database lives and dies with its single connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	s.Repo = &Repo{q: db, now: s.clock}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) clock() time.Time {
	return s.now()
}

// SetClock overrides the time source used for created_at/updated_at columns
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) migrate() error {
	schema := postgresSchema
	if s.db.DriverName() == DriverSQLite {
		schema = sqliteSchema
	}
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a transaction. If fn returns an error the
// transaction is rolled back, otherwise it is committed.
func (s *Store) WithTx(ctx context.Context, fn func(*Repo) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Repo{q: tx, now: s.clock}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Repo runs queries against either the pool or a transaction
type Repo struct {
	q   sqlx.ExtContext
	now func() time.Time
}

func (r *Repo) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r *Repo) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r *Repo) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ErrUniqueViolation is returned when an insert hits a unique index
var ErrUniqueViolation = errors.New("unique constraint violation")

func translate(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
