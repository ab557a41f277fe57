package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Supported database/sql driver names
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// SQLSTATE codes the store maps onto the error taxonomy
const (
	sqlStateLockNotAvailable = "55P03"
	sqlStateUniqueViolation  = "23505"
)

// DefaultSessionSetup runs on every new pooled connection
var DefaultSessionSetup = []string{
	"SET TIME ZONE 'UTC'",
	"SET client_encoding TO 'UTF8'",
}

// Store runs queries against a database handle or an open transaction
type Store struct {
	db sqlx.ExtContext
}

// New binds a Store to db, which may be a *sqlx.DB or a *sqlx.Tx
func New(db sqlx.ExtContext) *Store {
	return &Store{db: db}
}

// Open connects to the database with the given driver
func Open(driver, databaseURL string, maxOpen int) (*sqlx.DB, error) {
	if driver == "" {
		driver = DriverPQ
	}
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// headroom for read-only queries that bypass the pool
	db.SetMaxOpenConns(maxOpen + 5)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// SessionDialer returns a DialFunc that checks out a dedicated connection
// from db and applies the session setup statements to it.
func SessionDialer(db *sqlx.DB, setup ...string) DialFunc[*sqlx.Conn] {
	return func(ctx context.Context) (*sqlx.Conn, error) {
		conn, err := db.Connx(ctx)
		if err != nil {
			return nil, err
		}
		for _, stmt := range setup {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("session setup %q: %w", stmt, err)
			}
		}
		return conn, nil
	}
}

// sqlState extracts the SQLSTATE from a lib/pq or pgx error, or ""
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsLockTimeout reports whether err is a row-lock wait timeout from either driver
func IsLockTimeout(err error) bool {
	return sqlState(err) == sqlStateLockNotAvailable
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}

// wrapErr maps store failures onto the error taxonomy
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if IsLockTimeout(err) {
		return apperr.LockAcquisitionFailed(err, "%s: row lock wait timed out", op)
	}
	return apperr.Persistence(err, "%s", op)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
