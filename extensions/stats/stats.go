// Package stats records command usage.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"

	"github.com/chiobot/chio/bus"
	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/plugin"
	"github.com/chiobot/chio/roles"
)

const createCommandsStat = `
CREATE TABLE IF NOT EXISTS commands_stat (
	id SERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	guild_id BIGINT,
	command TEXT NOT NULL,
	used_at TIMESTAMP NOT NULL DEFAULT NOW()
)`

// Count is one command's usage total.
type Count struct {
	Command string `db:"command"`
	Uses    int    `db:"uses"`
}

// Table reads and writes the commands_stat table.
type Table struct {
	db *chiodb.ChioDB
}

// NewTable creates the command stats table wrapper.
func NewTable(db *chiodb.ChioDB) *Table {
	return &Table{db: db}
}

// Name implements chiodb.Table.
func (t *Table) Name() string { return "commands_stat" }

// CreateTable implements chiodb.Table.
func (t *Table) CreateTable(ctx context.Context, pool *sqlx.DB) error {
	_, err := pool.ExecContext(ctx, createCommandsStat)
	return err
}

// Record appends one command use. A zero guild records NULL, marking a
// direct message.
func (t *Table) Record(ctx context.Context, used plugin.CommandUsed) error {
	pool, err := t.db.Pool()
	if err != nil {
		return err
	}
	var guild *int64
	if used.GuildID != 0 {
		guild = &used.GuildID
	}
	const q = `INSERT INTO commands_stat (user_id, guild_id, command, used_at) VALUES ($1, $2, $3, $4)`
	if _, err := pool.ExecContext(ctx, q, used.UserID, guild, used.Command, used.Time); err != nil {
		return fmt.Errorf("couldn't record command use: %w", err)
	}
	return nil
}

// Top returns the most used commands.
func (t *Table) Top(ctx context.Context, limit int) ([]Count, error) {
	pool, err := t.db.Pool()
	if err != nil {
		return nil, err
	}
	var counts []Count
	const q = `SELECT command, COUNT(*) AS uses FROM commands_stat GROUP BY command ORDER BY uses DESC, command LIMIT $1`
	if err := pool.SelectContext(ctx, &counts, q, limit); err != nil {
		return nil, fmt.Errorf("couldn't get top commands: %w", err)
	}
	return counts, nil
}

// New builds the stats plugin. It records every dispatched command from
// the bus and exposes a moderator-only usage report.
func New(env plugin.Env) *plugin.Plugin {
	table := NewTable(env.DB)
	return &plugin.Plugin{
		Name:   "stats",
		Tables: []chiodb.Table{table},
		Commands: []plugin.Command{
			{
				Name:  "cmdstats",
				Usage: "Show the most used commands.",
				Level: roles.Moderator,
				Run: func(ctx context.Context, inv *plugin.Invocation) error {
					top, err := table.Top(ctx, 10)
					if err != nil {
						return err
					}
					if len(top) == 0 {
						return inv.Reply(ctx, "No command usage recorded.")
					}
					var b strings.Builder
					for _, c := range top {
						fmt.Fprintf(&b, "%s: %d\n", c.Command, c.Uses)
					}
					return inv.Reply(ctx, b.String())
				},
			},
		},
		Listeners: []plugin.Listener{
			func(*discordgo.Session) func() {
				return bus.On(env.Bus, func(ctx context.Context, used plugin.CommandUsed) {
					if err := table.Record(ctx, used); err != nil {
						slog.ErrorContext(ctx, "couldn't record command use",
							slog.String("command", used.Command),
							slog.Any("err", err),
						)
					}
				})
			},
		},
	}
}
