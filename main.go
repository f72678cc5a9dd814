package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/chiobot/chio/metrics"
)

var app = cli.Command{
	Name:  "chio",
	Usage: "Discord guild bot",

	Flags: []cli.Flag{
		&flagEnv,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:   "check",
			Usage:  "Verify configuration and database connectivity without serving",
			Action: cliCheck,
		},
	},
	Action: cliRun,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
	}
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("env"))
	if err != nil {
		return fmt.Errorf("couldn't load config: %w", err)
	}
	if cfg.Debug {
		slog.SetDefault(debugLogger(cmd))
	}
	c := New(cfg, newMetrics())
	return c.Run(ctx)
}

func cliCheck(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("env"))
	if err != nil {
		return fmt.Errorf("couldn't load config: %w", err)
	}
	if _, _, err := loadPlugins(cfg.PluginsFile); err != nil {
		return err
	}
	c := New(cfg, newMetrics())
	if err := c.db.Connect(ctx); err != nil {
		return err
	}
	defer c.db.Close()
	d, err := c.db.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Println("ok, database round trip", d)
	return nil
}

var (
	flagEnv = cli.StringFlag{
		Name:       "env",
		Usage:      "Environment file",
		Value:      ".env",
		Persistent: true,
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	return newLogger(cmd.String("log-format"), l)
}

// debugLogger is loggerFromFlags with the level forced to debug, for the
// DEBUG environment toggle.
func debugLogger(cmd *cli.Command) *slog.Logger {
	return newLogger(cmd.String("log-format"), slog.LevelDebug)
}

func newLogger(format string, l slog.Level) *slog.Logger {
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}

// metrics configuration
func newMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		MessagesCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "chio",
					Subsystem: "gateway",
					Name:      "messages",
					Help:      "Number of messages received from the gateway.",
				},
			),
		),
		CommandsCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "chio",
					Subsystem: "commands",
					Name:      "dispatched",
					Help:      "Number of command dispatches, successful or not.",
				},
			),
		),
		CommandLatency: metrics.NewPromHistogram(
			prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 5, 10},
					Namespace: "chio",
					Subsystem: "commands",
					Name:      "latency",
					Help:      "How long a command dispatch takes in seconds.",
				},
			),
		),
		EventsCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "chio",
					Subsystem: "bus",
					Name:      "events",
					Help:      "Number of events published on the bus.",
				},
			),
		),
		RoleChanges: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "chio",
					Subsystem: "roles",
					Name:      "changes",
					Help:      "Number of role assignments written.",
				},
			),
		),
		VoiceStarts: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "chio",
					Subsystem: "voice",
					Name:      "starts",
					Help:      "Number of voice sessions started.",
				},
			),
		),
		VoiceEnds: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "chio",
					Subsystem: "voice",
					Name:      "ends",
					Help:      "Number of voice sessions ended, including flushes.",
				},
			),
		),
		DBPingLatency: metrics.NewPromGauge(
			prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "chio",
					Subsystem: "db",
					Name:      "ping_seconds",
					Help:      "Latest database round-trip time in seconds.",
				},
			),
		),
	}
}
