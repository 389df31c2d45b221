// Package telegram adapts the Telegram Bot API (long polling) to the
// gateway's message bus.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/aeon/internal/bus"
	"github.com/nextlevelbuilder/aeon/internal/channels"
	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/sessions"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot            *telego.Bot
	cfg            config.TelegramConfig
	requireMention bool
	maxChars       int
	botUsername    string
	pollCancel     context.CancelFunc
	pollDone       chan struct{}
}

// New builds a Telegram channel from config. It does not connect until Start
// is called.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, sessionMgr *sessions.Manager) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}
	maxChars := cfg.MaxMessageChars
	if maxChars <= 0 {
		maxChars = 4096
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom, sessionMgr),
		bot:            bot,
		cfg:            cfg,
		requireMention: requireMention,
		maxChars:       maxChars,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	c.botUsername = c.bot.Username()

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.botUsername)

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the read loop to exit.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit in time")
		}
	}
	return nil
}

func (c *Channel) handleMessage(msg *telego.Message) {
	if msg.Text == "" || msg.From == nil {
		return
	}

	peerKind := "direct"
	if msg.Chat.Type != "private" {
		peerKind = "group"
	}

	text := msg.Text
	mentioned := true
	if peerKind == "group" && c.requireMention {
		mentioned = c.botUsername != "" && strings.Contains(text, "@"+c.botUsername)
		if mentioned {
			text = strings.ReplaceAll(text, "@"+c.botUsername, "")
			text = strings.TrimSpace(text)
		}
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if !c.ShouldRespond(peerKind, chatID, mentioned) {
		return
	}

	if !c.CheckPolicy(peerKind, c.cfg.DMPolicy, c.cfg.GroupPolicy, senderID) {
		return
	}

	c.HandleMessage(senderID, chatID, text, nil, map[string]string{
		"display_name": strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
	}, peerKind)
}

// Send delivers an outbound message as one Telegram message, truncated
// (with "...") when it exceeds the configured length limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChatID, err)
	}

	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), channels.Truncate(msg.Content, c.maxChars)))
	return err
}
