// Package guilds persists named channel bindings per guild and injects
// the current guild's bindings into each invocation.
package guilds

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/deps"
)

// GuildChannels maps channel binding names to channel IDs for one guild.
type GuildChannels map[string]int64

// Dep resolves the invocation guild's channel bindings.
var Dep = deps.NewKey[GuildChannels]("guilds.channels")

// NamedChannel is one row of the channels table.
type NamedChannel struct {
	GuildID   int64  `db:"guild_id"`
	Name      string `db:"name"`
	ChannelID int64  `db:"channel_id"`
}

const createChannels = `
CREATE TABLE IF NOT EXISTS channels (
	guild_id BIGINT NOT NULL,
	name VARCHAR(32) NOT NULL,
	channel_id BIGINT NOT NULL,
	PRIMARY KEY (guild_id, name)
)`

// Channels reads and writes the channels table.
type Channels struct {
	db *chiodb.ChioDB
}

// NewChannels creates the named-channel table wrapper.
func NewChannels(db *chiodb.ChioDB) *Channels {
	return &Channels{db: db}
}

// Name implements chiodb.Table.
func (t *Channels) Name() string { return "channels" }

// CreateTable implements chiodb.Table.
func (t *Channels) CreateTable(ctx context.Context, pool *sqlx.DB) error {
	_, err := pool.ExecContext(ctx, createChannels)
	return err
}

// Get returns the channel bound to name in guild, or 0 if unbound.
func (t *Channels) Get(ctx context.Context, guild int64, name string) (int64, error) {
	all, err := t.All(ctx, guild)
	if err != nil {
		return 0, err
	}
	return all[name], nil
}

// Set binds name to channel in guild, replacing any existing binding.
func (t *Channels) Set(ctx context.Context, guild int64, name string, channel int64) error {
	pool, err := t.db.Pool()
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO channels (guild_id, name, channel_id) VALUES ($1, $2, $3)
		ON CONFLICT (guild_id, name) DO UPDATE SET channel_id = EXCLUDED.channel_id`
	if _, err := pool.ExecContext(ctx, q, guild, name, channel); err != nil {
		return fmt.Errorf("couldn't bind channel %s in %d: %w", name, guild, err)
	}
	return nil
}

// Remove deletes a binding.
func (t *Channels) Remove(ctx context.Context, guild int64, name string) error {
	pool, err := t.db.Pool()
	if err != nil {
		return err
	}
	if _, err := pool.ExecContext(ctx, `DELETE FROM channels WHERE guild_id = $1 AND name = $2`, guild, name); err != nil {
		return fmt.Errorf("couldn't unbind channel %s in %d: %w", name, guild, err)
	}
	return nil
}

// All returns every binding for a guild.
func (t *Channels) All(ctx context.Context, guild int64) (GuildChannels, error) {
	pool, err := t.db.Pool()
	if err != nil {
		return nil, err
	}
	var rows []NamedChannel
	const q = `SELECT guild_id, name, channel_id FROM channels WHERE guild_id = $1`
	if err := pool.SelectContext(ctx, &rows, q, guild); err != nil {
		return nil, fmt.Errorf("couldn't list channels for %d: %w", guild, err)
	}
	out := make(GuildChannels, len(rows))
	for _, r := range rows {
		out[r.Name] = r.ChannelID
	}
	return out, nil
}

// Hook returns the injection hook supplying GuildChannels for the
// invocation's guild. Direct messages get an empty map.
func (t *Channels) Hook() deps.Hook {
	return func(ctx context.Context, call deps.Caller, o *deps.Overlay) error {
		if call.GuildID == 0 {
			Dep.Fill(o, GuildChannels{})
			return nil
		}
		all, err := t.All(ctx, call.GuildID)
		if err != nil {
			return err
		}
		Dep.Fill(o, all)
		return nil
	}
}
