// Package chiodb owns the Postgres connection pool and the registry of
// self-describing tables whose schemas are asserted at startup.
package chiodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
)

var (
	// ErrPoolUnavailable is reported by Connect when the DSN is invalid or
	// the server rejects the connection.
	ErrPoolUnavailable = errors.New("pool unavailable")
	// ErrPoolNotReady is reported when the pool is used before Connect.
	ErrPoolNotReady = errors.New("pool not ready")
	// ErrDuplicateTable is reported when a table name is registered twice.
	ErrDuplicateTable = errors.New("duplicate table")
	// ErrRegistryClosed is reported when a table is registered after
	// CreateTables has completed.
	ErrRegistryClosed = errors.New("table registry closed")
)

// Table is a typed wrapper over one persisted relation. CreateTable must
// be idempotent; every implementation issues CREATE TABLE IF NOT EXISTS.
type Table interface {
	// Name is the relation name, unique within one ChioDB.
	Name() string
	// CreateTable asserts the table's schema.
	CreateTable(ctx context.Context, pool *sqlx.DB) error
}

// ChioDB owns the connection pool and the table registry. Tables hold a
// reference to the ChioDB and draw connections from the pool per
// operation.
type ChioDB struct {
	dsn    string
	pool   *sqlx.DB
	order  []Table
	names  map[string]Table
	sealed bool
}

// New creates a ChioDB for the given Postgres DSN. The pool is not
// opened until Connect.
func New(dsn string) *ChioDB {
	return &ChioDB{dsn: dsn, names: make(map[string]Table)}
}

// NewWithPool wraps an already-open pool. It exists for tests and
// one-off tools; the bot itself uses New and Connect.
func NewWithPool(pool *sqlx.DB) *ChioDB {
	return &ChioDB{pool: pool, names: make(map[string]Table)}
}

// Connect opens and verifies the connection pool.
func (db *ChioDB) Connect(ctx context.Context) error {
	pool, err := sqlx.Open("pgx", db.dsn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPoolUnavailable, err)
	}
	pool.SetMaxOpenConns(20)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxLifetime(30 * time.Minute)
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("%w: %w", ErrPoolUnavailable, err)
	}
	db.pool = pool
	return nil
}

// Close releases the pool. It is safe to call with no open pool.
func (db *ChioDB) Close() {
	if db.pool == nil {
		slog.Warn("closing ChioDB with no open pool")
		return
	}
	if err := db.pool.Close(); err != nil {
		slog.Error("couldn't close pool", slog.Any("err", err))
	}
	db.pool = nil
}

// Pool returns the open connection pool.
func (db *ChioDB) Pool() (*sqlx.DB, error) {
	if db.pool == nil {
		return nil, ErrPoolNotReady
	}
	return db.pool, nil
}

// Ping executes a trivial round-trip and returns its elapsed time.
func (db *ChioDB) Ping(ctx context.Context) (time.Duration, error) {
	pool, err := db.Pool()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if err := pool.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("couldn't ping: %w", err)
	}
	return time.Since(start), nil
}

// Register attaches a table. Registration closes once CreateTables has
// run; plugins attach all of their tables before startup completes.
func (db *ChioDB) Register(t Table) error {
	if db.sealed {
		return fmt.Errorf("%w: %s", ErrRegistryClosed, t.Name())
	}
	if _, ok := db.names[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTable, t.Name())
	}
	db.names[t.Name()] = t
	db.order = append(db.order, t)
	return nil
}

// Unregister detaches a table by name. Schemas are never dropped. It
// reports whether the table was registered.
func (db *ChioDB) Unregister(name string) bool {
	if _, ok := db.names[name]; !ok {
		return false
	}
	delete(db.names, name)
	for i, t := range db.order {
		if t.Name() == name {
			db.order = append(db.order[:i], db.order[i+1:]...)
			break
		}
	}
	return true
}

// Tables returns the names of registered tables in registration order.
func (db *ChioDB) Tables() []string {
	names := make([]string, len(db.order))
	for i, t := range db.order {
		names[i] = t.Name()
	}
	return names
}

// CreateTables asserts every registered table's schema in registration
// order and then closes the registry. A schema failure aborts startup.
func (db *ChioDB) CreateTables(ctx context.Context) error {
	pool, err := db.Pool()
	if err != nil {
		return err
	}
	for _, t := range db.order {
		if err := t.CreateTable(ctx, pool); err != nil {
			return fmt.Errorf("couldn't create table %s: %w", t.Name(), err)
		}
		slog.DebugContext(ctx, "table ready", slog.String("table", t.Name()))
	}
	db.sealed = true
	return nil
}
