package activity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chiobot/chio/bus"
	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/plugin"
	"github.com/chiobot/chio/roles"
	"github.com/chiobot/chio/voice"
)

const bumpCooldown = 24 * time.Hour

// New builds the activity plugin. It accrues XP from messages and
// completed voice sessions and exposes rank and bump commands.
func New(env plugin.Env) *plugin.Plugin {
	table := NewTable(env.DB, env.Bus)
	timers := NewTimers(env.DB)
	p := &plugin.Plugin{
		Name:   "activity",
		Tables: []chiodb.Table{table, timers},
	}
	p.Commands = []plugin.Command{
		{
			Name:  "rank",
			Usage: "Show your level and activity totals.",
			Run: func(ctx context.Context, inv *plugin.Invocation) error {
				r, err := table.Get(ctx, inv.Caller.UserID)
				if err != nil {
					return err
				}
				if r == nil {
					return inv.Reply(ctx, "No activity recorded yet.")
				}
				return inv.Reply(ctx, fmt.Sprintf(
					"Level %d (%d XP) • %d messages, %d words, %s in voice, %d bumps",
					r.Level, r.XP, r.Messages, r.Words,
					(time.Duration(r.Voice) * time.Second).String(), r.Bumps,
				))
			},
		},
		{
			Name:  "bump",
			Usage: "Record a server bump. Once a day.",
			Level: roles.User,
			Run: func(ctx context.Context, inv *plugin.Invocation) error {
				reset, err := timers.Get(ctx, inv.Caller.UserID, "bump")
				if err != nil {
					return err
				}
				now := time.Now()
				if now.Before(reset) {
					return inv.Reply(ctx, "Next bump available "+reset.UTC().Format(time.RFC1123)+".")
				}
				if err := timers.Set(ctx, inv.Caller.UserID, "bump", now.Add(bumpCooldown)); err != nil {
					return err
				}
				if err := table.AddBump(ctx, inv.Caller.UserID); err != nil {
					return err
				}
				return inv.Reply(ctx, "Bump recorded!")
			},
		},
	}
	p.Listeners = []plugin.Listener{
		func(s *discordgo.Session) func() {
			return s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
				if m.Author == nil || m.Author.Bot {
					return
				}
				if strings.HasPrefix(strings.TrimSpace(m.Content), env.Prefix) {
					return
				}
				ctx := context.Background()
				user := plugin.Snowflake(m.Author.ID)
				if err := table.AddMessage(ctx, user, CountWords(m.Content)); err != nil {
					slog.ErrorContext(ctx, "couldn't accrue message", slog.Int64("user", user), slog.Any("err", err))
				}
			})
		},
		func(*discordgo.Session) func() {
			return bus.On(env.Bus, func(ctx context.Context, ev voice.UserEnd) {
				if err := table.AddVoice(ctx, ev.State.UserID, ev.Left.Sub(ev.Joined)); err != nil {
					slog.ErrorContext(ctx, "couldn't accrue voice span",
						slog.Int64("user", ev.State.UserID),
						slog.Any("err", err),
					)
				}
			})
		},
	}
	return p
}
