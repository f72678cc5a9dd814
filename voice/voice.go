// Package voice derives session lifecycle events from raw voice state
// updates.
//
// The tracker keeps a map of channel ID to session, where a session
// records when the channel became occupied and when each present user
// joined. Raw gateway updates drive a small state machine that emits
// user-level and guild-level events on the bus. State transition and
// event emission happen atomically under the tracker's lock, so
// subscribers always observe a consistent ordering.
package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chiobot/chio/bus"
)

// State is one user's raw voice state. A zero ChannelID means the user
// is not in a voice channel.
type State struct {
	UserID    int64
	GuildID   int64
	ChannelID int64
	Mute      bool
	Deaf      bool
	SelfMute  bool
	SelfDeaf  bool
	Stream    bool
	Video     bool
}

// UserStart is emitted when a user joins a voice channel.
type UserStart struct {
	State  State
	Joined time.Time
}

func (UserStart) Kind() string { return "voice.user.start" }

// UserUpdate is emitted when a user's flags change without moving
// channels. It carries both raw states.
type UserUpdate struct {
	Old State
	New State
}

func (UserUpdate) Kind() string { return "voice.user.update" }

// UserEnd is emitted when a user leaves a voice channel or at shutdown
// flush. Joined is the original join time so downstream accrual can
// compute the session duration.
type UserEnd struct {
	State  State
	Joined time.Time
	Left   time.Time
}

func (UserEnd) Kind() string { return "voice.user.end" }

// GuildStart is emitted when a channel gains its first user.
type GuildStart struct {
	GuildID   int64
	ChannelID int64
	Start     time.Time
}

func (GuildStart) Kind() string { return "voice.guild.start" }

// GuildUpdate is emitted when an occupied channel's population changes
// without opening or closing the session.
type GuildUpdate struct {
	GuildID   int64
	ChannelID int64
	Users     int
}

func (GuildUpdate) Kind() string { return "voice.guild.update" }

// GuildEnd is emitted when a channel's last user leaves.
type GuildEnd struct {
	GuildID   int64
	ChannelID int64
	Start     time.Time
	End       time.Time
}

func (GuildEnd) Kind() string { return "voice.guild.end" }

// session is the derived per-channel state.
type session struct {
	guild int64
	start time.Time
	users map[int64]time.Time
}

// Tracker converts raw voice state updates into session events.
type Tracker struct {
	bus  *bus.Bus
	self int64
	now  func() time.Time

	mu       sync.Mutex
	channels map[int64]*session
	// user index maintains the invariant that a user is in at most one
	// channel at a time.
	where map[int64]int64
}

// NewTracker creates a tracker publishing on b. self is the bot's own
// user ID; updates about the bot are ignored. Pass 0 when the identity
// is not known yet and record it later with SetSelf.
func NewTracker(b *bus.Bus, self int64) *Tracker {
	return &Tracker{
		bus:      b,
		self:     self,
		now:      time.Now,
		channels: make(map[int64]*session),
		where:    make(map[int64]int64),
	}
}

// SetSelf records the bot's own user ID once the gateway reports it.
// The tracker can receive updates before that point; they are tracked
// normally, since the bot is not in a voice channel at startup.
func (t *Tracker) SetSelf(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.self = id
}

// Update consumes one raw voice state update. old is nil when the
// gateway did not report a prior state.
func (t *Tracker) Update(ctx context.Context, old *State, new State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if new.UserID == t.self {
		return
	}

	tracked := t.where[new.UserID]
	oldChannel := tracked
	if old != nil && old.ChannelID != 0 {
		if tracked != 0 && tracked != old.ChannelID {
			// The gateway and our state disagree; trust our own record so
			// the session we opened is the one we close.
			slog.WarnContext(ctx, "voice state mismatch",
				slog.Int64("user", new.UserID),
				slog.Int64("tracked", tracked),
				slog.Int64("reported", old.ChannelID),
			)
		} else {
			oldChannel = old.ChannelID
		}
	}

	switch {
	case oldChannel == 0 && new.ChannelID != 0:
		t.join(ctx, new)
	case oldChannel != 0 && new.ChannelID == oldChannel:
		if old == nil {
			// Duplicate join. Idempotent.
			return
		}
		if tracked == 0 {
			// A flags change for a session we never saw open. Ignore it
			// so updates stay bracketed by start and end events.
			slog.WarnContext(ctx, "voice update for untracked user",
				slog.Int64("user", new.UserID),
				slog.Int64("channel", new.ChannelID),
			)
			return
		}
		t.bus.Publish(ctx, UserUpdate{Old: *old, New: new})
	case oldChannel != 0 && new.ChannelID == 0:
		end := new
		end.ChannelID = oldChannel
		t.leave(ctx, end)
	case oldChannel != 0 && new.ChannelID != oldChannel:
		// Move between channels: a leave from the old followed by a join
		// to the new.
		end := new
		end.ChannelID = oldChannel
		t.leave(ctx, end)
		t.join(ctx, new)
	}
}

// join adds the user to new.ChannelID. Caller holds the lock.
func (t *Tracker) join(ctx context.Context, new State) {
	now := t.now()
	ch := t.channels[new.ChannelID]
	created := ch == nil
	if created {
		ch = &session{guild: new.GuildID, start: now, users: make(map[int64]time.Time)}
		t.channels[new.ChannelID] = ch
	}
	if _, ok := ch.users[new.UserID]; ok {
		// Duplicate join for the same channel. Idempotent.
		return
	}
	ch.users[new.UserID] = now
	t.where[new.UserID] = new.ChannelID
	t.bus.Publish(ctx, UserStart{State: new, Joined: now})
	if created {
		t.bus.Publish(ctx, GuildStart{GuildID: ch.guild, ChannelID: new.ChannelID, Start: now})
	} else {
		t.bus.Publish(ctx, GuildUpdate{GuildID: ch.guild, ChannelID: new.ChannelID, Users: len(ch.users)})
	}
}

// leave removes the user from end.ChannelID. Caller holds the lock.
func (t *Tracker) leave(ctx context.Context, end State) {
	ch := t.channels[end.ChannelID]
	if ch == nil {
		slog.WarnContext(ctx, "voice leave for untracked channel",
			slog.Int64("user", end.UserID),
			slog.Int64("channel", end.ChannelID),
		)
		return
	}
	joined, ok := ch.users[end.UserID]
	if !ok {
		slog.WarnContext(ctx, "voice leave for untracked user",
			slog.Int64("user", end.UserID),
			slog.Int64("channel", end.ChannelID),
		)
		return
	}
	now := t.now()
	delete(ch.users, end.UserID)
	delete(t.where, end.UserID)
	end.GuildID = ch.guild
	t.bus.Publish(ctx, UserEnd{State: end, Joined: joined, Left: now})
	if len(ch.users) == 0 {
		delete(t.channels, end.ChannelID)
		t.bus.Publish(ctx, GuildEnd{GuildID: ch.guild, ChannelID: end.ChannelID, Start: ch.start, End: now})
	} else {
		t.bus.Publish(ctx, GuildUpdate{GuildID: ch.guild, ChannelID: end.ChannelID, Users: len(ch.users)})
	}
}

// Flush closes every open session, emitting a synthetic UserEnd for each
// still-joined user so downstream accrual persists the final span. It
// runs at shutdown, before the database pool closes.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.channels {
		now := t.now()
		for user, joined := range ch.users {
			delete(ch.users, user)
			delete(t.where, user)
			end := State{UserID: user, GuildID: ch.guild, ChannelID: id}
			t.bus.Publish(ctx, UserEnd{State: end, Joined: joined, Left: now})
		}
		delete(t.channels, id)
		t.bus.Publish(ctx, GuildEnd{GuildID: ch.guild, ChannelID: id, Start: ch.start, End: now})
	}
}

// Joined reports how many users are currently tracked across all
// channels.
func (t *Tracker) Joined() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.where)
}
