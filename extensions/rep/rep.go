// Package rep tracks user reputation with a cooldown between grants.
package rep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/plugin"
)

const cooldown = 12 * time.Hour

// ErrCooldown is reported when a user grants reputation too soon.
var ErrCooldown = errors.New("reputation on cooldown")

// Row is one user's reputation record.
type Row struct {
	UserID   int64     `db:"user_id"`
	Positive int       `db:"positive"`
	Negative int       `db:"negative"`
	NextRep  time.Time `db:"next_rep"`
}

const createReputation = `
CREATE TABLE IF NOT EXISTS reputation (
	user_id BIGINT PRIMARY KEY,
	positive INT NOT NULL DEFAULT 0,
	negative INT NOT NULL DEFAULT 0,
	next_rep TIMESTAMP NOT NULL DEFAULT NOW()
)`

// Table reads and writes the reputation table.
type Table struct {
	db *chiodb.ChioDB
}

// NewTable creates the reputation table wrapper.
func NewTable(db *chiodb.ChioDB) *Table {
	return &Table{db: db}
}

// Name implements chiodb.Table.
func (t *Table) Name() string { return "reputation" }

// CreateTable implements chiodb.Table.
func (t *Table) CreateTable(ctx context.Context, pool *sqlx.DB) error {
	_, err := pool.ExecContext(ctx, createReputation)
	return err
}

// Get returns a user's reputation, or nil if none is recorded.
func (t *Table) Get(ctx context.Context, user int64) (*Row, error) {
	pool, err := t.db.Pool()
	if err != nil {
		return nil, err
	}
	var r Row
	const q = `SELECT user_id, positive, negative, next_rep FROM reputation WHERE user_id = $1`
	switch err := pool.GetContext(ctx, &r, q, user); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("couldn't get reputation for %d: %w", user, err)
	}
	return &r, nil
}

// Grant adds one positive or negative point to target from grantor,
// honoring the grantor's cooldown.
func (t *Table) Grant(ctx context.Context, grantor, target int64, positive bool) error {
	pool, err := t.db.Pool()
	if err != nil {
		return err
	}
	g, err := t.Get(ctx, grantor)
	if err != nil {
		return err
	}
	now := time.Now()
	if g != nil && now.Before(g.NextRep) {
		return fmt.Errorf("%w until %v", ErrCooldown, g.NextRep.UTC())
	}
	col := "negative"
	if positive {
		col = "positive"
	}
	q := fmt.Sprintf(`
		INSERT INTO reputation (user_id, %[1]s) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET %[1]s = reputation.%[1]s + 1`, col)
	if _, err := pool.ExecContext(ctx, q, target); err != nil {
		return fmt.Errorf("couldn't grant reputation to %d: %w", target, err)
	}
	const stamp = `
		INSERT INTO reputation (user_id, next_rep) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET next_rep = EXCLUDED.next_rep`
	if _, err := pool.ExecContext(ctx, stamp, grantor, now.Add(cooldown)); err != nil {
		return fmt.Errorf("couldn't stamp cooldown for %d: %w", grantor, err)
	}
	return nil
}

// New builds the reputation plugin.
func New(env plugin.Env) *plugin.Plugin {
	table := NewTable(env.DB)
	return &plugin.Plugin{
		Name:   "rep",
		Tables: []chiodb.Table{table},
		Commands: []plugin.Command{
			{
				Name:  "rep",
				Usage: "Show a user's reputation.",
				Run: func(ctx context.Context, inv *plugin.Invocation) error {
					user := inv.Caller.UserID
					if len(inv.Message.Mentions) > 0 {
						user = plugin.Snowflake(inv.Message.Mentions[0].ID)
					}
					r, err := table.Get(ctx, user)
					if err != nil {
						return err
					}
					if r == nil {
						return inv.Reply(ctx, "No reputation recorded.")
					}
					return inv.Reply(ctx, fmt.Sprintf("+%d / -%d", r.Positive, r.Negative))
				},
			},
			{
				Name:  "thank",
				Usage: "Give a mentioned user a reputation point.",
				Run: func(ctx context.Context, inv *plugin.Invocation) error {
					if len(inv.Message.Mentions) == 0 {
						return inv.Reply(ctx, "Mention someone to thank.")
					}
					target := plugin.Snowflake(inv.Message.Mentions[0].ID)
					if target == inv.Caller.UserID {
						return inv.Reply(ctx, "You can't thank yourself.")
					}
					err := table.Grant(ctx, inv.Caller.UserID, target, true)
					if errors.Is(err, ErrCooldown) {
						return inv.Reply(ctx, "You've thanked someone recently. Try again later.")
					}
					if err != nil {
						return err
					}
					return inv.Reply(ctx, "Reputation granted.")
				},
			},
		},
	}
}
