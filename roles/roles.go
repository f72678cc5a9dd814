// Package roles is the role and permission authority. It persists
// per-user role assignments in the roles table and injects a UserRole
// capability into every command invocation.
package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chiobot/chio/bus"
	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/deps"
)

// Level is an ordinal authority level. A higher level implies strictly
// more authority.
type Level int

const (
	Banned Level = iota
	User
	VIP
	Moderator
	Administrator
	Owner
)

var levelNames = [...]string{"banned", "user", "vip", "moderator", "administrator", "owner"}

func (l Level) String() string {
	if l < Banned || l > Owner {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ErrDenied is reported when a command requires more authority than the
// invoking user holds.
var ErrDenied = errors.New("insufficient role")

// UserRole is one user's role assignment. Rows are keyed by UserID; the
// owner's role is synthesised and never stored.
type UserRole struct {
	UserID    int64     `db:"user_id"`
	FromID    *int64    `db:"from_id"`
	Level     Level     `db:"role"`
	StartTime time.Time `db:"start_time"`
	Reason    *string   `db:"reason"`
}

// ChangeRoleEvent is published on every successful role mutation. Old is
// nil when the user had no prior record.
type ChangeRoleEvent struct {
	Old *UserRole
	New *UserRole
}

func (ChangeRoleEvent) Kind() string { return "role.change" }

// Dep resolves the invoking user's role, filled by the injection hook.
var Dep = deps.NewKey[*UserRole]("roles.user_role")

// StoreDep resolves the shared role store.
var StoreDep = deps.NewKey[*Store]("roles.store")

const createRoles = `
CREATE TABLE IF NOT EXISTS roles (
	user_id BIGINT PRIMARY KEY,
	from_id BIGINT,
	role INT NOT NULL,
	start_time TIMESTAMP NOT NULL DEFAULT NOW(),
	reason TEXT
)`

// Store reads and writes the roles table.
type Store struct {
	db    *chiodb.ChioDB
	bus   *bus.Bus
	owner int64
}

// NewStore creates the role store. owner is the bot owner's user ID; the
// owner's role is computed, never persisted, so changing the configured
// owner takes effect immediately.
func NewStore(db *chiodb.ChioDB, b *bus.Bus, owner int64) *Store {
	return &Store{db: db, bus: b, owner: owner}
}

// Name implements chiodb.Table.
func (s *Store) Name() string { return "roles" }

// CreateTable implements chiodb.Table.
func (s *Store) CreateTable(ctx context.Context, pool *sqlx.DB) error {
	_, err := pool.ExecContext(ctx, createRoles)
	return err
}

// GetUser returns the stored role for a user, or nil if there is none.
func (s *Store) GetUser(ctx context.Context, id int64) (*UserRole, error) {
	pool, err := s.db.Pool()
	if err != nil {
		return nil, err
	}
	var r UserRole
	const q = `SELECT user_id, from_id, role, start_time, reason FROM roles WHERE user_id = $1`
	switch err := pool.GetContext(ctx, &r, q, id); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("couldn't get role for %d: %w", id, err)
	}
	return &r, nil
}

// GetOrCreate returns the stored role for a user, or a synthesised
// default (User, now) without writing. The default exists for injection
// and display only.
func (s *Store) GetOrCreate(ctx context.Context, id int64) (*UserRole, error) {
	r, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = &UserRole{UserID: id, Level: User, StartTime: time.Now()}
	}
	return r, nil
}

// SetRole upserts a user's role and publishes a ChangeRoleEvent after the
// write returns. The event's Old is nil on first assignment.
func (s *Store) SetRole(ctx context.Context, userID, fromID int64, level Level, reason string) (*UserRole, error) {
	pool, err := s.db.Pool()
	if err != nil {
		return nil, err
	}
	old, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	const q = `
		INSERT INTO roles (user_id, from_id, role, start_time, reason)
		VALUES ($1, $2, $3, NOW(), $4)
		ON CONFLICT (user_id) DO UPDATE
		SET from_id = EXCLUDED.from_id, role = EXCLUDED.role,
		    start_time = NOW(), reason = EXCLUDED.reason
		RETURNING user_id, from_id, role, start_time, reason`
	var r UserRole
	if err := pool.GetContext(ctx, &r, q, userID, fromID, int(level), reason); err != nil {
		return nil, fmt.Errorf("couldn't set role for %d: %w", userID, err)
	}
	s.bus.Publish(ctx, ChangeRoleEvent{Old: old, New: &r})
	return &r, nil
}

// RemoveRole deletes a user's role record. No event is published.
func (s *Store) RemoveRole(ctx context.Context, id int64) error {
	pool, err := s.db.Pool()
	if err != nil {
		return err
	}
	if _, err := pool.ExecContext(ctx, `DELETE FROM roles WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("couldn't remove role for %d: %w", id, err)
	}
	return nil
}

// GetRoles enumerates users holding a given level.
func (s *Store) GetRoles(ctx context.Context, level Level) ([]UserRole, error) {
	pool, err := s.db.Pool()
	if err != nil {
		return nil, err
	}
	var rs []UserRole
	const q = `SELECT user_id, from_id, role, start_time, reason FROM roles WHERE role = $1 ORDER BY user_id`
	if err := pool.SelectContext(ctx, &rs, q, int(level)); err != nil {
		return nil, fmt.Errorf("couldn't list roles at %v: %w", level, err)
	}
	return rs, nil
}

// Hook returns the injection hook that supplies the invoking user's role.
// The owner gets a synthetic Owner role with no store access.
func (s *Store) Hook() deps.Hook {
	return func(ctx context.Context, call deps.Caller, o *deps.Overlay) error {
		if s.owner != 0 && call.UserID == s.owner {
			Dep.Fill(o, &UserRole{UserID: call.UserID, Level: Owner, StartTime: time.Now()})
			return nil
		}
		r, err := s.GetOrCreate(ctx, call.UserID)
		if err != nil {
			return err
		}
		Dep.Fill(o, r)
		return nil
	}
}

// Check gates an invocation on a minimum level. It resolves the injected
// UserRole from v and fails with ErrDenied when the level is too low.
func Check(v deps.View, min Level) error {
	r, err := Dep.Get(v)
	if err != nil {
		return err
	}
	if r.Level < min {
		return fmt.Errorf("%w: have %v, need %v", ErrDenied, r.Level, min)
	}
	return nil
}
