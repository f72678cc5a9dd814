// Package activity tracks per-user message and voice activity, awards
// XP, and publishes level-up events.
package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chiobot/chio/bus"
	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/deps"
)

// XP awards per unit of activity.
const (
	xpPerMessage = 2
	xpPerWord    = 1
	xpPerMinute  = 5
	xpPerBump    = 30
)

// Row is one user's accumulated activity.
type Row struct {
	UserID   int64 `db:"user_id"`
	Messages int   `db:"messages"`
	Words    int   `db:"words"`
	Voice    int   `db:"voice"`
	Bumps    int   `db:"bumps"`
	Level    int   `db:"level"`
	XP       int   `db:"xp"`
}

// LevelUpEvent is published when a user crosses a level boundary.
type LevelUpEvent struct {
	UserID int64
	Level  int
}

func (LevelUpEvent) Kind() string { return "activity.levelup" }

// Dep resolves the shared activity table.
var Dep = deps.NewKey[*Table]("activity.table")

const createActive = `
CREATE TABLE IF NOT EXISTS active (
	user_id BIGINT PRIMARY KEY,
	messages INT NOT NULL DEFAULT 0,
	words INT NOT NULL DEFAULT 0,
	voice INT NOT NULL DEFAULT 0,
	bumps INT NOT NULL DEFAULT 0,
	level INT NOT NULL DEFAULT 0,
	xp INT NOT NULL DEFAULT 0
)`

// Table reads and writes the active table.
type Table struct {
	db  *chiodb.ChioDB
	bus *bus.Bus
}

// NewTable creates the activity table wrapper.
func NewTable(db *chiodb.ChioDB, b *bus.Bus) *Table {
	return &Table{db: db, bus: b}
}

// Name implements chiodb.Table.
func (t *Table) Name() string { return "active" }

// CreateTable implements chiodb.Table.
func (t *Table) CreateTable(ctx context.Context, pool *sqlx.DB) error {
	_, err := pool.ExecContext(ctx, createActive)
	return err
}

// Get returns a user's activity row, or nil if the user has none.
func (t *Table) Get(ctx context.Context, user int64) (*Row, error) {
	pool, err := t.db.Pool()
	if err != nil {
		return nil, err
	}
	var r Row
	const q = `SELECT user_id, messages, words, voice, bumps, level, xp FROM active WHERE user_id = $1`
	switch err := pool.GetContext(ctx, &r, q, user); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("couldn't get activity for %d: %w", user, err)
	}
	return &r, nil
}

// AddMessage accrues one message with the given word count.
func (t *Table) AddMessage(ctx context.Context, user int64, words int) error {
	const q = `
		INSERT INTO active (user_id, messages, words, xp) VALUES ($1, 1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET messages = active.messages + 1, words = active.words + $2, xp = active.xp + $3
		RETURNING level, xp`
	return t.accrue(ctx, user, q, words, xpPerMessage+words*xpPerWord)
}

// AddVoice accrues a completed voice span.
func (t *Table) AddVoice(ctx context.Context, user int64, d time.Duration) error {
	secs := int(d.Seconds())
	if secs <= 0 {
		return nil
	}
	const q = `
		INSERT INTO active (user_id, voice, xp) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET voice = active.voice + $2, xp = active.xp + $3
		RETURNING level, xp`
	return t.accrue(ctx, user, q, secs, secs/60*xpPerMinute)
}

// AddBump accrues one server bump.
func (t *Table) AddBump(ctx context.Context, user int64) error {
	const q = `
		INSERT INTO active (user_id, bumps, xp) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET bumps = active.bumps + $2, xp = active.xp + $3
		RETURNING level, xp`
	return t.accrue(ctx, user, q, 1, xpPerBump)
}

// accrue applies an XP-granting upsert and promotes the user through any
// level boundaries the new total crosses.
func (t *Table) accrue(ctx context.Context, user int64, q string, amount, xp int) error {
	pool, err := t.db.Pool()
	if err != nil {
		return err
	}
	var after struct {
		Level int `db:"level"`
		XP    int `db:"xp"`
	}
	if err := pool.GetContext(ctx, &after, q, user, amount, xp); err != nil {
		return fmt.Errorf("couldn't accrue activity for %d: %w", user, err)
	}
	level := after.Level
	for after.XP >= Threshold(level+1) {
		level++
	}
	if level == after.Level {
		return nil
	}
	if _, err := pool.ExecContext(ctx, `UPDATE active SET level = $2 WHERE user_id = $1`, user, level); err != nil {
		return fmt.Errorf("couldn't promote %d to level %d: %w", user, level, err)
	}
	t.bus.Publish(ctx, LevelUpEvent{UserID: user, Level: level})
	return nil
}

// Threshold is the total XP required to hold a level.
func Threshold(level int) int {
	return level * level * 50
}

// CountWords counts whitespace-separated words in a message.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
