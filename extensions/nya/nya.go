// Package nya is a small config-bearing plugin. It answers the nya
// command with a configured message or a weighted random response.
package nya

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"gitlab.com/zephyrtronium/pick"

	"github.com/chiobot/chio/deps"
	"github.com/chiobot/chio/plugin"
)

// Config is the nya plugin configuration, loaded from nya.toml.
type Config struct {
	// Message is the fallback response.
	Message string `toml:"message"`
	// Mention controls whether responses mention the invoking user.
	Mention bool `toml:"mention"`
	// Responses is the weighted set of random responses. When empty,
	// Message is always used.
	Responses map[string]int `toml:"responses"`
}

// Dep resolves the loaded nya configuration.
var Dep = deps.NewKey[*Config]("nya.config")

func (c *Config) ConfigName() string { return "nya" }

func (c *Config) Validate() error {
	if c.Message == "" {
		return errors.New("message must not be empty")
	}
	for r, w := range c.Responses {
		if w < 0 {
			return fmt.Errorf("negative weight for response %q", r)
		}
	}
	return nil
}

func (c *Config) Publish(d *deps.Container) { Dep.Set(d, c) }

// New builds the nya plugin.
func New(env plugin.Env) *plugin.Plugin {
	cfg := &Config{Message: "nya!"}
	// The distribution is built once, on first use after config load.
	dist := sync.OnceValue(func() *pick.Dist[string] {
		return pick.New(pick.FromMap(cfg.Responses))
	})
	return &plugin.Plugin{
		Name:   "nya",
		Config: cfg,
		Commands: []plugin.Command{
			{
				Name:  "nya",
				Usage: "Nya.",
				Run: func(ctx context.Context, inv *plugin.Invocation) error {
					msg := cfg.Message
					if len(cfg.Responses) > 0 {
						if s := dist().Pick(rand.Uint32()); s != "" {
							msg = s
						}
					}
					if cfg.Mention && inv.Message.Author != nil {
						msg = inv.Message.Author.Mention() + " " + msg
					}
					return inv.Reply(ctx, msg)
				},
			},
		},
	}
}
