package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("BOT_TOKEN", "xyzzy")
	t.Setenv("DB_DSN", "postgres://chio@localhost/chio")
	t.Setenv("BOT_OWNER", "90420")
	t.Setenv("COMMAND_PREFIX", "~")
	cfg, err := loadConfig(context.Background(), filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatalf("couldn't load config: %v", err)
	}
	if cfg.Token != "xyzzy" {
		t.Errorf("wrong token: %q", cfg.Token)
	}
	if cfg.Owner != 90420 {
		t.Errorf("wrong owner: %d", cfg.Owner)
	}
	if cfg.Prefix != "~" {
		t.Errorf("wrong prefix: %q", cfg.Prefix)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "xyzzy")
	t.Setenv("DB_DSN", "postgres://chio@localhost/chio")
	t.Setenv("COMMAND_PREFIX", "")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATA_PATH", "")
	t.Setenv("PLUGINS_CONFIG", "")
	cfg, err := loadConfig(context.Background(), filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatalf("couldn't load config: %v", err)
	}
	if cfg.Prefix != "!" {
		t.Errorf("wrong default prefix: %q", cfg.Prefix)
	}
	if cfg.ConfigPath != "config" {
		t.Errorf("wrong default config path: %q", cfg.ConfigPath)
	}
	if cfg.DataPath != "bot_data" {
		t.Errorf("wrong default data path: %q", cfg.DataPath)
	}
	if cfg.PluginsFile != "plugins.toml" {
		t.Errorf("wrong default plugins file: %q", cfg.PluginsFile)
	}
	if cfg.Debug {
		t.Error("debug defaulted on")
	}
}

func TestLoadConfigEnvFile(t *testing.T) {
	// t.Setenv snapshots the vars for restore; unset so the file wins.
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("DB_DSN", "")
	os.Unsetenv("BOT_TOKEN")
	os.Unsetenv("DB_DSN")
	path := filepath.Join(t.TempDir(), "chio.env")
	body := "BOT_TOKEN=xyzzy\nDB_DSN=postgres://chio@localhost/chio\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(context.Background(), path)
	if err != nil {
		t.Fatalf("couldn't load config: %v", err)
	}
	if cfg.Token != "xyzzy" {
		t.Errorf("wrong token: %q", cfg.Token)
	}
}

func TestLoadConfigUnknownKey(t *testing.T) {
	t.Setenv("BOT_TOKEN", "xyzzy")
	t.Setenv("DB_DSN", "postgres://chio@localhost/chio")
	path := filepath.Join(t.TempDir(), "chio.env")
	if err := os.WriteFile(path, []byte("BOT_TOKE=typo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := loadConfig(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "BOT_TOKE") {
		t.Errorf("wrong error for unknown key: %v", err)
	}
}

func TestLoadConfigMissingToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("DB_DSN", "postgres://chio@localhost/chio")
	if _, err := loadConfig(context.Background(), filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Error("no error with missing token")
	}
}

func TestLoadPlugins(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.toml")
	if err := os.WriteFile(path, []byte("enabled = [\"nya\", \"stats\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	names, fs, err := loadPlugins(path)
	if err != nil {
		t.Fatalf("couldn't load plugins: %v", err)
	}
	if len(names) != 2 || names[0] != "nya" || names[1] != "stats" {
		t.Errorf("wrong names: %v", names)
	}
	if len(fs) != 2 {
		t.Errorf("wrong factory count: %d", len(fs))
	}
}

func TestLoadPluginsMissing(t *testing.T) {
	t.Parallel()
	names, fs, err := loadPlugins(filepath.Join(t.TempDir(), "plugins.toml"))
	if err != nil {
		t.Fatalf("missing file errored: %v", err)
	}
	if len(names) != 0 || len(fs) != 0 {
		t.Errorf("missing file enabled extensions: %v", names)
	}
}

func TestLoadPluginsUnknown(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.toml")
	if err := os.WriteFile(path, []byte("enabled = [\"warez\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := loadPlugins(path)
	if err == nil || !strings.Contains(err.Error(), "warez") {
		t.Errorf("wrong error for unknown extension: %v", err)
	}
}

func TestLoadPluginsUnknownKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.toml")
	if err := os.WriteFile(path, []byte("enabled = []\nautoload = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadPlugins(path); err == nil {
		t.Error("no error for unknown key")
	}
}
