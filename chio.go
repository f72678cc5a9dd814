package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chiobot/chio/bus"
	"github.com/chiobot/chio/chiodb"
	"github.com/chiobot/chio/deps"
	"github.com/chiobot/chio/guilds"
	"github.com/chiobot/chio/metrics"
	"github.com/chiobot/chio/pconfig"
	"github.com/chiobot/chio/plugin"
	"github.com/chiobot/chio/roles"
	"github.com/chiobot/chio/voice"
)

// Chio is the bot kernel. It owns the database, the event bus, the
// dependency container, the config and plugin registries, and the
// gateway session.
type Chio struct {
	cfg BotConfig

	db        *chiodb.ChioDB
	bus       *bus.Bus
	container *deps.Container
	configs   *pconfig.Manager
	roles     *roles.Store
	channels  *guilds.Channels
	plugins   *plugin.Manager
	tracker   *voice.Tracker

	metrics *metrics.Metrics

	// runctx is Run's context, for gateway handlers that get none.
	runctx context.Context
}

// New creates a Chio from its configuration. Nothing connects until Run.
func New(cfg BotConfig, mx *metrics.Metrics) *Chio {
	c := &Chio{
		cfg:       cfg,
		bus:       bus.New(),
		container: deps.NewContainer(),
		configs:   pconfig.NewManager(),
		db:        chiodb.New(cfg.DSN),
		metrics:   mx,
	}
	c.roles = roles.NewStore(c.db, c.bus, cfg.Owner)
	c.channels = guilds.NewChannels(c.db)
	// The tracker exists before the gateway can deliver anything; the
	// bot's identity is recorded once the session reports it.
	c.tracker = voice.NewTracker(c.bus, 0)
	return c
}

// kernel bundles the kernel's own tables and injection hooks as a
// plugin so attach, rollback, and detach treat them uniformly.
func (c *Chio) kernel() *plugin.Plugin {
	return &plugin.Plugin{
		Name:   "kernel",
		Tables: []chiodb.Table{c.roles, c.channels},
		Hooks:  []deps.Hook{c.roles.Hook(), c.channels.Hook()},
	}
}

// Run starts the bot and blocks until ctx is cancelled or a fatal error
// occurs. Plugins attach before the pool connects so every table is
// registered by the time the schema runs; then connect, create tables,
// load configs, and open the gateway. Shutdown runs in reverse,
// flushing open voice sessions before the pool closes.
func (c *Chio) Run(ctx context.Context) error {
	c.runctx = ctx
	session, err := c.newSession()
	if err != nil {
		return err
	}
	c.plugins = plugin.NewManager(
		c.db, c.configs, c.container, c.bus, c.cfg.Prefix,
		c.reply(session), c.embed(session),
	)
	if err := c.plugins.Attach(ctx, c.kernel()); err != nil {
		return err
	}

	names, fs, err := loadPlugins(c.cfg.PluginsFile)
	if err != nil {
		return err
	}
	env := plugin.Env{
		DB:        c.db,
		Bus:       c.bus,
		Container: c.container,
		Owner:     c.cfg.Owner,
		MainGuild: c.cfg.MainGuild,
		DataPath:  c.cfg.DataPath,
		Prefix:    c.cfg.Prefix,
	}
	for i, f := range fs {
		if err := c.plugins.Attach(ctx, f(env)); err != nil {
			return fmt.Errorf("couldn't enable extension %s: %w", names[i], err)
		}
	}

	if err := c.db.Connect(ctx); err != nil {
		return fmt.Errorf("couldn't connect to database: %w", err)
	}
	defer c.db.Close()
	if err := c.db.CreateTables(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "tables ready", slog.Any("tables", c.db.Tables()))
	if err := c.configs.Load(ctx, c.cfg.ConfigPath, c.container); err != nil {
		return err
	}
	if err := os.MkdirAll(c.cfg.DataPath, 0o755); err != nil {
		return fmt.Errorf("couldn't create data directory: %w", err)
	}

	c.observe()
	c.plugins.Bind(session)
	if err := session.Open(); err != nil {
		return fmt.Errorf("couldn't open gateway: %w", err)
	}
	self := plugin.Snowflake(session.State.User.ID)
	c.tracker.SetSelf(self)
	slog.InfoContext(ctx, "connected",
		slog.String("user", session.State.User.Username),
		slog.Int64("id", self),
	)

	group, gctx := errgroup.WithContext(ctx)
	if c.cfg.MetricsListen != "" {
		group.Go(func() error {
			return c.api(gctx, c.cfg.MetricsListen, http.NewServeMux(), c.metrics.Collectors())
		})
	}
	group.Go(func() error {
		c.pingLoop(gctx)
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	err = group.Wait()

	// Shutdown. Close the gateway first so no new updates arrive, then
	// flush voice sessions while the accrual listeners are still bound
	// and the pool is still open.
	sctx := context.WithoutCancel(ctx)
	if cerr := session.Close(); cerr != nil {
		slog.ErrorContext(sctx, "couldn't close gateway", slog.Any("err", cerr))
	}
	c.tracker.Flush(sctx)
	c.plugins.Unbind()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// observe subscribes the kernel metrics to the bus.
func (c *Chio) observe() {
	bus.On(c.bus, func(ctx context.Context, ev plugin.CommandUsed) {
		c.metrics.CommandsCount.Observe(1)
	})
	bus.On(c.bus, func(ctx context.Context, ev roles.ChangeRoleEvent) {
		c.metrics.RoleChanges.Observe(1)
	})
	bus.On(c.bus, func(ctx context.Context, ev voice.UserStart) {
		c.metrics.VoiceStarts.Observe(1)
	})
	bus.On(c.bus, func(ctx context.Context, ev voice.UserEnd) {
		c.metrics.VoiceEnds.Observe(1)
	})
	c.bus.Subscribe(func(ctx context.Context, ev bus.Event) {
		c.metrics.EventsCount.Observe(1)
	})
}

// pingLoop measures database round-trip latency until ctx is done.
func (c *Chio) pingLoop(ctx context.Context) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d, err := c.db.Ping(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "ping failed", slog.Any("err", err))
				continue
			}
			c.metrics.DBPingLatency.Observe(d.Seconds())
		}
	}
}

// sendLimit paces outbound messages so bursts of command replies don't
// trip Discord's rate limits before discordgo's own limiter engages.
var sendLimit = rate.NewLimiter(rate.Every(time.Second/2), 5)
