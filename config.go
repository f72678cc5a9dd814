package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/chiobot/chio/plugin"
)

// BotConfig is the bot's environment configuration. Values come from the
// process environment, optionally seeded from a .env file.
type BotConfig struct {
	// Token is the Discord bot token.
	Token string `env:"BOT_TOKEN,required"`
	// Owner is the bot owner's user ID. The owner passes every role gate
	// without a roles row.
	Owner int64 `env:"BOT_OWNER"`
	// AdminGuild is the guild for administrative commands.
	AdminGuild int64 `env:"ADMIN_GUILD"`
	// MainGuild is the guild the bot primarily serves.
	MainGuild int64 `env:"MAIN_GUILD"`
	// DSN is the Postgres connection string.
	DSN string `env:"DB_DSN,required"`
	// ExtensionsPath is accepted for compatibility with existing env
	// files. Extensions are compiled in; the plugins document selects
	// them.
	ExtensionsPath string `env:"EXTENSIONS_PATH,default=extensions"`
	// Prefix is the command prefix.
	Prefix string `env:"COMMAND_PREFIX,default=!"`
	// ConfigPath is the directory holding per-plugin TOML documents.
	ConfigPath string `env:"CONFIG_PATH,default=config"`
	// DataPath is the directory for plugin-owned files.
	DataPath string `env:"DATA_PATH,default=bot_data"`
	// PluginsFile is the TOML document naming enabled extensions.
	PluginsFile string `env:"PLUGINS_CONFIG,default=plugins.toml"`
	// MetricsListen is the metrics server address. Empty disables the
	// server.
	MetricsListen string `env:"METRICS_LISTEN"`
	// Debug enables debug logging regardless of the --log flag.
	Debug bool `env:"DEBUG,default=false"`
}

// knownEnvKeys is the set of keys the env file may define. The process
// environment is not policed, only the file.
var knownEnvKeys = map[string]bool{
	"BOT_TOKEN":       true,
	"BOT_OWNER":       true,
	"ADMIN_GUILD":     true,
	"MAIN_GUILD":      true,
	"DB_DSN":          true,
	"EXTENSIONS_PATH": true,
	"COMMAND_PREFIX":  true,
	"CONFIG_PATH":     true,
	"DATA_PATH":       true,
	"PLUGINS_CONFIG":  true,
	"METRICS_LISTEN":  true,
	"DEBUG":           true,
}

// loadConfig seeds the environment from the .env file at path, if it
// exists, then decodes BotConfig from the environment. Keys in the file
// that the bot doesn't recognize are errors.
func loadConfig(ctx context.Context, path string) (BotConfig, error) {
	var cfg BotConfig
	switch vars, err := godotenv.Read(path); {
	case err == nil:
		for k := range vars {
			if !knownEnvKeys[k] {
				return cfg, fmt.Errorf("unknown key %q in %s", k, path)
			}
		}
		if err := godotenv.Load(path); err != nil {
			return cfg, fmt.Errorf("couldn't load env file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		slog.WarnContext(ctx, "no env file, using process environment", slog.String("path", path))
	default:
		return cfg, fmt.Errorf("couldn't load env file: %w", err)
	}
	if err := envdecode.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("couldn't decode environment: %w", err)
	}
	return cfg, nil
}

// pluginsConfig is the schema of the enabled-extensions document.
type pluginsConfig struct {
	// Enabled lists extension names to attach, in attach order.
	Enabled []string `toml:"enabled"`
}

// factories maps extension names to their plugin factories. The enabled
// list in the plugins document selects from these.
var factories = map[string]plugin.Factory{}

// registerFactory enrols an extension factory. It panics on duplicate
// names; registration happens only from init functions in this package.
func registerFactory(name string, f plugin.Factory) {
	if _, ok := factories[name]; ok {
		panic("duplicate extension " + name)
	}
	factories[name] = f
}

// loadPlugins reads the enabled-extensions document and resolves each
// name to its factory. Unknown keys in the document and unknown
// extension names are errors.
func loadPlugins(path string) ([]string, []plugin.Factory, error) {
	var doc pluginsConfig
	switch md, err := toml.DecodeFile(path, &doc); {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("no plugins file, no extensions enabled", slog.String("path", path))
		return nil, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("couldn't load plugins file: %w", err)
	case len(md.Undecoded()) > 0:
		return nil, nil, fmt.Errorf("unknown keys in %s: %v", path, md.Undecoded())
	}
	fs := make([]plugin.Factory, 0, len(doc.Enabled))
	for _, name := range doc.Enabled {
		f, ok := factories[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown extension %q in %s", name, path)
		}
		fs = append(fs, f)
	}
	return doc.Enabled, fs, nil
}
