// Package shop lists purchasable guild roles.
package shop

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/plugin"
	"github.com/chiobot/chio/roles"
)

// Item is one purchasable role.
type Item struct {
	ID          int64  `db:"id"`
	GuildID     int64  `db:"guild_id"`
	RoleID      int64  `db:"role_id"`
	Price       int    `db:"price"`
	RequireRole *int64 `db:"require_role"`
}

const createShop = `
CREATE TABLE IF NOT EXISTS roles_shop (
	id SERIAL PRIMARY KEY,
	guild_id BIGINT NOT NULL,
	role_id BIGINT NOT NULL,
	price INT NOT NULL,
	require_role BIGINT
)`

// Table reads and writes the roles_shop table.
type Table struct {
	db *chiodb.ChioDB
}

// NewTable creates the role shop table wrapper.
func NewTable(db *chiodb.ChioDB) *Table {
	return &Table{db: db}
}

// Name implements chiodb.Table.
func (t *Table) Name() string { return "roles_shop" }

// CreateTable implements chiodb.Table.
func (t *Table) CreateTable(ctx context.Context, pool *sqlx.DB) error {
	_, err := pool.ExecContext(ctx, createShop)
	return err
}

// List returns a guild's shop items ordered by price.
func (t *Table) List(ctx context.Context, guild int64) ([]Item, error) {
	pool, err := t.db.Pool()
	if err != nil {
		return nil, err
	}
	var items []Item
	const q = `SELECT id, guild_id, role_id, price, require_role FROM roles_shop WHERE guild_id = $1 ORDER BY price, id`
	if err := pool.SelectContext(ctx, &items, q, guild); err != nil {
		return nil, fmt.Errorf("couldn't list shop for %d: %w", guild, err)
	}
	return items, nil
}

// Add inserts a shop item and returns its ID.
func (t *Table) Add(ctx context.Context, guild, role int64, price int, require *int64) (int64, error) {
	pool, err := t.db.Pool()
	if err != nil {
		return 0, err
	}
	var id int64
	const q = `INSERT INTO roles_shop (guild_id, role_id, price, require_role) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := pool.GetContext(ctx, &id, q, guild, role, price, require); err != nil {
		return 0, fmt.Errorf("couldn't add shop item: %w", err)
	}
	return id, nil
}

// Remove deletes a shop item by ID.
func (t *Table) Remove(ctx context.Context, id int64) error {
	pool, err := t.db.Pool()
	if err != nil {
		return err
	}
	if _, err := pool.ExecContext(ctx, `DELETE FROM roles_shop WHERE id = $1`, id); err != nil {
		return fmt.Errorf("couldn't remove shop item %d: %w", id, err)
	}
	return nil
}

// New builds the role shop plugin.
func New(env plugin.Env) *plugin.Plugin {
	table := NewTable(env.DB)
	return &plugin.Plugin{
		Name:   "shop",
		Tables: []chiodb.Table{table},
		Commands: []plugin.Command{
			{
				Name:  "shop",
				Usage: "List purchasable roles.",
				Run: func(ctx context.Context, inv *plugin.Invocation) error {
					items, err := table.List(ctx, inv.Caller.GuildID)
					if err != nil {
						return err
					}
					if len(items) == 0 {
						return inv.Reply(ctx, "The shop is empty.")
					}
					var b strings.Builder
					for _, it := range items {
						fmt.Fprintf(&b, "#%d <@&%d> • %d", it.ID, it.RoleID, it.Price)
						if it.RequireRole != nil {
							fmt.Fprintf(&b, " (requires <@&%d>)", *it.RequireRole)
						}
						b.WriteByte('\n')
					}
					return inv.Reply(ctx, b.String())
				},
			},
			{
				Name:  "shopadd",
				Usage: "shopadd <role id> <price> [required role id]",
				Level: roles.Moderator,
				Run: func(ctx context.Context, inv *plugin.Invocation) error {
					if len(inv.Args) < 2 {
						return inv.Reply(ctx, "Usage: shopadd <role id> <price> [required role id]")
					}
					role := plugin.Snowflake(inv.Args[0])
					price, err := strconv.Atoi(inv.Args[1])
					if role == 0 || err != nil || price < 0 {
						return inv.Reply(ctx, "Usage: shopadd <role id> <price> [required role id]")
					}
					var require *int64
					if len(inv.Args) > 2 {
						if r := plugin.Snowflake(inv.Args[2]); r != 0 {
							require = &r
						}
					}
					id, err := table.Add(ctx, inv.Caller.GuildID, role, price, require)
					if err != nil {
						return err
					}
					return inv.Reply(ctx, fmt.Sprintf("Added shop item #%d.", id))
				},
			},
			{
				Name:  "shopdel",
				Usage: "shopdel <item id>",
				Level: roles.Moderator,
				Run: func(ctx context.Context, inv *plugin.Invocation) error {
					if len(inv.Args) != 1 {
						return inv.Reply(ctx, "Usage: shopdel <item id>")
					}
					id, err := strconv.ParseInt(inv.Args[0], 10, 64)
					if err != nil {
						return inv.Reply(ctx, "Usage: shopdel <item id>")
					}
					if err := table.Remove(ctx, id); err != nil {
						return err
					}
					return inv.Reply(ctx, fmt.Sprintf("Removed shop item #%d.", id))
				},
			},
		},
	}
}
