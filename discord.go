package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chiobot/chio/plugin"
	"github.com/chiobot/chio/voice"
)

// newSession creates the gateway session with the intents the kernel
// needs and binds the kernel's own handlers.
func (c *Chio) newSession() (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + c.cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("couldn't create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	s.StateEnabled = true
	s.AddHandler(c.handleMessage)
	s.AddHandler(c.handleVoice)
	return s, nil
}

// handleMessage routes every gateway message through the dispatcher.
func (c *Chio) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	ctx := c.runctx
	c.metrics.MessagesCount.Observe(1)
	if !strings.HasPrefix(strings.TrimSpace(m.Content), c.cfg.Prefix) {
		return
	}
	start := time.Now()
	c.plugins.Dispatch(ctx, m)
	c.metrics.CommandLatency.Observe(time.Since(start).Seconds())
}

// handleVoice feeds raw voice state updates to the tracker. BeforeUpdate
// is the gateway's record of the prior state, when it has one.
func (c *Chio) handleVoice(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	var old *voice.State
	if v.BeforeUpdate != nil {
		prev := toVoiceState(v.BeforeUpdate)
		old = &prev
	}
	c.tracker.Update(c.runctx, old, toVoiceState(v.VoiceState))
}

func toVoiceState(vs *discordgo.VoiceState) voice.State {
	return voice.State{
		UserID:    plugin.Snowflake(vs.UserID),
		GuildID:   plugin.Snowflake(vs.GuildID),
		ChannelID: plugin.Snowflake(vs.ChannelID),
		Mute:      vs.Mute,
		Deaf:      vs.Deaf,
		SelfMute:  vs.SelfMute,
		SelfDeaf:  vs.SelfDeaf,
		Stream:    vs.SelfStream,
		Video:     vs.SelfVideo,
	}
}

// reply builds the rate-limited text send path for the dispatcher.
func (c *Chio) reply(s *discordgo.Session) func(ctx context.Context, channelID, text string) error {
	return func(ctx context.Context, channelID, text string) error {
		if err := sendLimit.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.ChannelMessageSend(channelID, text); err != nil {
			return fmt.Errorf("couldn't send message: %w", err)
		}
		return nil
	}
}

// embed builds the rate-limited embed send path for the dispatcher.
func (c *Chio) embed(s *discordgo.Session) func(ctx context.Context, channelID string, e *discordgo.MessageEmbed) error {
	return func(ctx context.Context, channelID string, e *discordgo.MessageEmbed) error {
		if err := sendLimit.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.ChannelMessageSendEmbed(channelID, e); err != nil {
			return fmt.Errorf("couldn't send embed: %w", err)
		}
		return nil
	}
}
