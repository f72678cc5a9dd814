package main

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestVoiceHandlerDuringStartup(t *testing.T) {
	t.Parallel()
	// The gateway's reader goroutine can deliver voice updates as soon as
	// the socket opens, while startup is still recording the bot's
	// identity. The handler must track such joins, not drop them.
	c := New(BotConfig{Token: "x", DSN: "dsn"}, newMetrics())
	c.runctx = context.Background()
	upd := &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "12", GuildID: "10", ChannelID: "100"},
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.handleVoice(nil, upd)
	}()
	c.tracker.SetSelf(99)
	wg.Wait()
	if got := c.tracker.Joined(); got != 1 {
		t.Errorf("wrong joined count: want 1, got %d", got)
	}
}
