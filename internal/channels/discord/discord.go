// Package discord adapts the Discord gateway API to the gateway's message
// bus.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aeon/internal/bus"
	"github.com/nextlevelbuilder/aeon/internal/channels"
	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/sessions"
)

// Channel connects to Discord via the gateway (websocket) API.
type Channel struct {
	*channels.BaseChannel
	session        *discordgo.Session
	cfg            config.DiscordConfig
	botUserID      string
	requireMention bool
	maxChars       int
}

// New builds a Discord channel from config. It does not open a connection
// until Start is called.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus, sessionMgr *sessions.Manager) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}
	maxChars := cfg.MaxMessageChars
	if maxChars <= 0 {
		maxChars = 2000
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom, sessionMgr),
		session:        session,
		cfg:            cfg,
		requireMention: requireMention,
		maxChars:       maxChars,
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot || m.Content == "" {
		return
	}

	isDM := m.GuildID == ""
	peerKind := "group"
	if isDM {
		peerKind = "direct"
	}

	text := m.Content
	mentioned := true
	if !isDM && c.requireMention {
		mention := "<@" + c.botUserID + ">"
		mentionNick := "<@!" + c.botUserID + ">"
		mentioned = strings.Contains(text, mention) || strings.Contains(text, mentionNick)
		if mentioned {
			text = strings.NewReplacer(mention, "", mentionNick, "").Replace(text)
			text = strings.TrimSpace(text)
		}
	}

	if !c.ShouldRespond(peerKind, m.ChannelID, mentioned) {
		return
	}

	if !c.CheckPolicy(peerKind, c.cfg.DMPolicy, c.cfg.GroupPolicy, m.Author.ID) {
		return
	}

	c.HandleMessage(m.Author.ID, m.ChannelID, text, nil, map[string]string{
		"display_name": m.Author.Username,
	}, peerKind)
}

// Send delivers an outbound message, chunking it to Discord's message
// length limit.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord: bot not running")
	}
	content := msg.Content
	for len(content) > c.maxChars {
		if _, err := c.session.ChannelMessageSend(msg.ChatID, content[:c.maxChars]); err != nil {
			return err
		}
		content = content[c.maxChars:]
	}
	_, err := c.session.ChannelMessageSend(msg.ChatID, content)
	return err
}
