// Package plugin composes feature plugins over the kernel. A plugin
// bundles commands, gateway listeners, injection hooks, at most one
// config variant, and the tables it owns. Attach enrols those into the
// config registry and table registry; Detach unwinds them.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chiobot/chio/bus"
	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/deps"
	"github.com/chiobot/chio/pconfig"
	"github.com/chiobot/chio/roles"
)

// ErrDuplicateCommand is reported when two attached plugins declare a
// command with the same name.
var ErrDuplicateCommand = errors.New("duplicate command")

// Env is what a plugin factory gets to build its plugin from.
type Env struct {
	DB        *chiodb.ChioDB
	Bus       *bus.Bus
	Container *deps.Container
	Owner     int64
	MainGuild int64
	DataPath  string
	Prefix    string
}

// Factory builds a plugin from the kernel environment.
type Factory func(env Env) *Plugin

// Invocation is one command invocation. An Invocation and its fields
// must not be retained after the command returns.
type Invocation struct {
	// Caller identifies the invoking principal.
	Caller deps.Caller
	// Message is the triggering gateway message.
	Message *discordgo.MessageCreate
	// Args is the whitespace-split arguments after the command name.
	Args []string
	// Deps resolves dependencies, overlay first.
	Deps deps.View
	// Reply sends text back to the invocation's channel.
	Reply func(ctx context.Context, text string) error
}

// Command is one chat command.
type Command struct {
	// Name is the command word, matched case-insensitively after the
	// prefix.
	Name string
	// Usage is a one-line description for the help listing.
	Usage string
	// Level is the minimum role level required to run the command.
	Level roles.Level
	// Run executes the command.
	Run func(ctx context.Context, inv *Invocation) error
}

// Listener binds a raw gateway handler and returns its remover.
type Listener func(s *discordgo.Session) func()

// Plugin is a composition unit.
type Plugin struct {
	// Name is the display name.
	Name string
	// Config is the plugin's config variant, or nil.
	Config pconfig.Config
	// Tables are the plugin's tables in registration order.
	Tables []chiodb.Table
	// Commands are the plugin's chat commands.
	Commands []Command
	// Listeners are raw gateway event handlers.
	Listeners []Listener
	// Hooks are per-invocation injection hooks.
	Hooks []deps.Hook
}

// CommandUsed is published on the bus after every completed command
// dispatch, successful or not.
type CommandUsed struct {
	UserID  int64
	GuildID int64
	Command string
	Time    time.Time
}

func (CommandUsed) Kind() string { return "command.used" }

type bound struct {
	cmd    *Command
	plugin *Plugin
}

type attachment struct {
	plugin   *Plugin
	removers []func()
}

type hookEntry struct {
	owner *Plugin
	fn    deps.Hook
}

// Manager owns registered plugins and dispatches commands to them.
type Manager struct {
	db        *chiodb.ChioDB
	cfg       *pconfig.Manager
	container *deps.Container
	bus       *bus.Bus
	prefix    string

	// reply and embed are the outbound send paths, supplied by the
	// gateway wiring so rate limiting stays in one place.
	reply func(ctx context.Context, channelID, text string) error
	embed func(ctx context.Context, channelID string, e *discordgo.MessageEmbed) error

	session  *discordgo.Session
	attached []*attachment
	commands map[string]bound
	hooks    []hookEntry
}

// NewManager creates a plugin manager. prefix is the command prefix,
// e.g. "!".
func NewManager(
	db *chiodb.ChioDB,
	cfg *pconfig.Manager,
	container *deps.Container,
	b *bus.Bus,
	prefix string,
	reply func(ctx context.Context, channelID, text string) error,
	embed func(ctx context.Context, channelID string, e *discordgo.MessageEmbed) error,
) *Manager {
	return &Manager{
		db:        db,
		cfg:       cfg,
		container: container,
		bus:       b,
		prefix:    prefix,
		reply:     reply,
		embed:     embed,
		commands:  make(map[string]bound),
	}
}

// Attach registers a plugin's config and tables and binds its handlers.
// A failure rolls back everything this attach had already registered.
func (m *Manager) Attach(ctx context.Context, p *Plugin) error {
	if p.Config != nil {
		if err := m.cfg.Register(p.Config); err != nil {
			return fmt.Errorf("couldn't attach %s: %w", p.Name, err)
		}
	}
	var registered []string
	rollback := func() {
		for _, name := range registered {
			m.db.Unregister(name)
		}
		if p.Config != nil {
			m.cfg.Unregister(p.Config.ConfigName())
		}
	}
	for _, t := range p.Tables {
		if err := m.db.Register(t); err != nil {
			rollback()
			return fmt.Errorf("couldn't attach %s: %w", p.Name, err)
		}
		registered = append(registered, t.Name())
	}
	seen := make(map[string]bool, len(p.Commands))
	for i := range p.Commands {
		name := strings.ToLower(p.Commands[i].Name)
		if _, ok := m.commands[name]; ok || seen[name] {
			rollback()
			return fmt.Errorf("couldn't attach %s: %w: %s", p.Name, ErrDuplicateCommand, name)
		}
		seen[name] = true
	}
	for i := range p.Commands {
		m.commands[strings.ToLower(p.Commands[i].Name)] = bound{cmd: &p.Commands[i], plugin: p}
	}
	for _, h := range p.Hooks {
		m.hooks = append(m.hooks, hookEntry{owner: p, fn: h})
	}
	at := &attachment{plugin: p}
	if m.session != nil {
		for _, l := range p.Listeners {
			at.removers = append(at.removers, l(m.session))
		}
	}
	m.attached = append(m.attached, at)
	slog.InfoContext(ctx, "plugin attached",
		slog.String("plugin", p.Name),
		slog.Int("tables", len(p.Tables)),
		slog.Int("commands", len(p.Commands)),
	)
	return nil
}

// Detach unbinds a plugin's handlers and unregisters its tables. Table
// schemas are never dropped.
func (m *Manager) Detach(ctx context.Context, p *Plugin) {
	for i, at := range m.attached {
		if at.plugin != p {
			continue
		}
		for _, rm := range at.removers {
			rm()
		}
		m.attached = append(m.attached[:i], m.attached[i+1:]...)
		break
	}
	for i := range p.Commands {
		delete(m.commands, strings.ToLower(p.Commands[i].Name))
	}
	for _, t := range p.Tables {
		m.db.Unregister(t.Name())
	}
	kept := m.hooks[:0]
	for _, h := range m.hooks {
		if h.owner != p {
			kept = append(kept, h)
		}
	}
	m.hooks = kept
	slog.InfoContext(ctx, "plugin detached", slog.String("plugin", p.Name))
}

// Bind attaches the manager to a gateway session, binding the listeners
// of every attached plugin.
func (m *Manager) Bind(s *discordgo.Session) {
	m.session = s
	for _, at := range m.attached {
		for _, l := range at.plugin.Listeners {
			at.removers = append(at.removers, l(s))
		}
	}
}

// Unbind removes every bound listener.
func (m *Manager) Unbind() {
	for _, at := range m.attached {
		for _, rm := range at.removers {
			rm()
		}
		at.removers = nil
	}
	m.session = nil
}

// Commands lists attached commands sorted by name lookup order.
func (m *Manager) Commands() map[string]*Command {
	out := make(map[string]*Command, len(m.commands))
	for name, b := range m.commands {
		out[name] = b.cmd
	}
	return out
}

// Dispatch routes a gateway message to a command. Non-command messages
// and messages from bots are ignored.
func (m *Manager) Dispatch(ctx context.Context, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	text := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(text, m.prefix) {
		return
	}
	fields := strings.Fields(text[len(m.prefix):])
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	b, ok := m.commands[name]
	if !ok {
		return
	}
	call := deps.Caller{
		UserID:    Snowflake(msg.Author.ID),
		GuildID:   Snowflake(msg.GuildID),
		ChannelID: Snowflake(msg.ChannelID),
	}
	slog.InfoContext(ctx, "command",
		slog.String("name", name),
		slog.String("plugin", b.plugin.Name),
		slog.Int64("user", call.UserID),
		slog.Int64("guild", call.GuildID),
	)
	err := m.invoke(ctx, b.cmd, call, msg, fields[1:])
	m.bus.Publish(ctx, CommandUsed{
		UserID:  call.UserID,
		GuildID: call.GuildID,
		Command: name,
		Time:    time.Now(),
	})
	switch {
	case err == nil: // do nothing
	case errors.Is(err, roles.ErrDenied):
		m.sendStatus(ctx, msg.ChannelID, "denied", "You don't have permission to use this command.")
	default:
		slog.ErrorContext(ctx, "command failed",
			slog.String("name", name),
			slog.Int64("user", call.UserID),
			slog.Any("err", err),
		)
		m.sendStatus(ctx, msg.ChannelID, "error", "Something went wrong.")
	}
}

// invoke runs the injection hooks, checks the role gate, and runs the
// command with the filled overlay.
func (m *Manager) invoke(ctx context.Context, cmd *Command, call deps.Caller, msg *discordgo.MessageCreate, args []string) error {
	o := m.container.Overlay()
	for _, h := range m.hooks {
		if err := h.fn(ctx, call, o); err != nil {
			return fmt.Errorf("injection hook failed: %w", err)
		}
	}
	if err := roles.Check(o, cmd.Level); err != nil {
		return err
	}
	inv := &Invocation{
		Caller:  call,
		Message: msg,
		Args:    args,
		Deps:    o,
		Reply: func(ctx context.Context, text string) error {
			return m.reply(ctx, msg.ChannelID, text)
		},
	}
	return cmd.Run(ctx, inv)
}

func (m *Manager) sendStatus(ctx context.Context, channelID, status, text string) {
	e := &discordgo.MessageEmbed{
		Description: text,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "status", Value: status, Inline: true},
		},
	}
	if err := m.embed(ctx, channelID, e); err != nil {
		slog.ErrorContext(ctx, "couldn't send status embed", slog.Any("err", err))
	}
}

// Snowflake parses a Discord ID. Empty IDs parse to 0.
func Snowflake(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
