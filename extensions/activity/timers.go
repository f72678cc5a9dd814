package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chiobot/chio/chiodb"
)

const createTimers = `
CREATE TABLE IF NOT EXISTS timers (
	user_id BIGINT NOT NULL,
	name VARCHAR(32) NOT NULL,
	reset_time TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, name)
)`

// Timers persists per-user named cooldowns.
type Timers struct {
	db *chiodb.ChioDB
}

// NewTimers creates the timers table wrapper.
func NewTimers(db *chiodb.ChioDB) *Timers {
	return &Timers{db: db}
}

// Name implements chiodb.Table.
func (t *Timers) Name() string { return "timers" }

// CreateTable implements chiodb.Table.
func (t *Timers) CreateTable(ctx context.Context, pool *sqlx.DB) error {
	_, err := pool.ExecContext(ctx, createTimers)
	return err
}

// Get returns when the named timer resets for a user. The zero time
// means the timer has never been set.
func (t *Timers) Get(ctx context.Context, user int64, name string) (time.Time, error) {
	pool, err := t.db.Pool()
	if err != nil {
		return time.Time{}, err
	}
	var reset time.Time
	const q = `SELECT reset_time FROM timers WHERE user_id = $1 AND name = $2`
	switch err := pool.GetContext(ctx, &reset, q, user, name); {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, nil
	case err != nil:
		return time.Time{}, fmt.Errorf("couldn't get timer %s for %d: %w", name, user, err)
	}
	return reset, nil
}

// Set records when the named timer next resets.
func (t *Timers) Set(ctx context.Context, user int64, name string, reset time.Time) error {
	pool, err := t.db.Pool()
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO timers (user_id, name, reset_time) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, name) DO UPDATE SET reset_time = EXCLUDED.reset_time`
	if _, err := pool.ExecContext(ctx, q, user, name, reset); err != nil {
		return fmt.Errorf("couldn't set timer %s for %d: %w", name, user, err)
	}
	return nil
}
