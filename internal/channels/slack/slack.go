// Package slack adapts Slack's Socket Mode (a persistent websocket the bot
// opens outbound, needing no public HTTP endpoint) to the gateway's message
// bus. Socket Mode requires an app-level token to open the connection and a
// bot token to call the Web API for sending replies.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ws "github.com/coder/websocket"

	"github.com/nextlevelbuilder/aeon/internal/bus"
	"github.com/nextlevelbuilder/aeon/internal/channels"
	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/sessions"
)

const (
	appsConnectionsOpenURL = "https://slack.com/api/apps.connections.open"
	postMessageURL         = "https://slack.com/api/chat.postMessage"
)

// Channel connects to Slack via Socket Mode.
type Channel struct {
	*channels.BaseChannel
	cfg        config.SlackConfig
	httpClient *http.Client
	maxChars   int
	botUserID  string
	conn       *ws.Conn
	cancel     context.CancelFunc
	readDone   chan struct{}
}

// New builds a Slack channel from config. It does not connect until Start
// is called.
func New(cfg config.SlackConfig, msgBus *bus.MessageBus, sessionMgr *sessions.Manager) (*Channel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: both bot token and app-level token are required for socket mode")
	}
	maxChars := cfg.MaxMessageChars
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("slack", msgBus, cfg.AllowFrom, sessionMgr),
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxChars:    maxChars,
	}, nil
}

// Start opens a Socket Mode connection and begins reading events.
func (c *Channel) Start(ctx context.Context) error {
	botUserID, err := c.authTest(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth.test: %w", err)
	}
	c.botUserID = botUserID

	wsURL, err := c.openConnection(ctx)
	if err != nil {
		return fmt.Errorf("slack: open socket mode connection: %w", err)
	}

	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("slack: dial socket mode url: %w", err)
	}
	c.conn = conn

	readCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.readDone = make(chan struct{})

	c.SetRunning(true)
	slog.Info("slack bot connected (socket mode)")

	go c.readLoop(readCtx)
	return nil
}

// Stop closes the Socket Mode connection and waits for the read loop to exit.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close(ws.StatusNormalClosure, "shutting down")
	}
	if c.readDone != nil {
		select {
		case <-c.readDone:
		case <-time.After(10 * time.Second):
			slog.Warn("slack: read loop did not exit in time")
		}
	}
	return nil
}

// authTest resolves the bot's own user id, needed to strip its @-mention
// from group-channel text when RequireMention is set.
func (c *Channel) authTest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://slack.com/api/auth.test", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BotToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		OK    bool   `json:"ok"`
		UserID string `json:"user_id"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode auth.test response: %w", err)
	}
	if !payload.OK {
		return "", fmt.Errorf("auth.test: %s", payload.Error)
	}
	return payload.UserID, nil
}

// openConnection asks the Web API for a fresh Socket Mode websocket URL.
// Slack issues a new single-use URL per connection attempt.
func (c *Channel) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, appsConnectionsOpenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AppToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		OK    bool   `json:"ok"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode apps.connections.open response: %w", err)
	}
	if !payload.OK {
		return "", fmt.Errorf("apps.connections.open: %s", payload.Error)
	}
	return payload.URL, nil
}

// socketModeEnvelope is the outer frame Slack wraps every Socket Mode
// message in, regardless of the inner event's shape.
type socketModeEnvelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"` // "hello", "events_api", "disconnect", ...
	Payload    json.RawMessage `json:"payload"`
}

type eventsAPIPayload struct {
	Event struct {
		Type    string `json:"type"` // "message"
		User    string `json:"user"`
		Text    string `json:"text"`
		Channel string `json:"channel"`
		ChannelType string `json:"channel_type"` // "im" (DM) or "channel"/"group"
		BotID   string `json:"bot_id"` // set for messages the bot itself sent
	} `json:"event"`
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.readDone)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("slack: read failed, socket mode connection lost", "error", err)
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Channel) handleFrame(ctx context.Context, data []byte) {
	var env socketModeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("slack: malformed socket mode envelope", "error", err)
		return
	}

	// Acknowledge every envelope that carries one, per Socket Mode protocol,
	// regardless of whether we act on its payload.
	if env.EnvelopeID != "" {
		ack, _ := json.Marshal(map[string]string{"envelope_id": env.EnvelopeID})
		if err := c.conn.Write(ctx, ws.MessageText, ack); err != nil {
			slog.Warn("slack: ack write failed", "error", err)
		}
	}

	if env.Type != "events_api" {
		return
	}

	var p eventsAPIPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}
	if p.Event.Type != "message" || p.Event.BotID != "" || p.Event.Text == "" {
		return
	}

	peerKind := "group"
	if p.Event.ChannelType == "im" {
		peerKind = "direct"
	}

	text := p.Event.Text
	mentioned := true
	if peerKind == "group" && c.cfg.RequireMention {
		mentioned = c.botUserID != "" && strings.Contains(text, "<@"+c.botUserID+">")
		if mentioned {
			text = strings.TrimSpace(strings.ReplaceAll(text, "<@"+c.botUserID+">", ""))
		}
	}

	if !c.ShouldRespond(peerKind, p.Event.Channel, mentioned) {
		return
	}

	if !c.CheckPolicy(peerKind, c.cfg.DMPolicy, c.cfg.GroupPolicy, p.Event.User) {
		return
	}

	c.HandleMessage(p.Event.User, p.Event.Channel, text, nil, nil, peerKind)
}

// Send posts a reply via the Web API as one message, truncated (with "...")
// when it exceeds the configured length limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	body, err := json.Marshal(map[string]string{
		"channel": msg.ChatID,
		"text":    channels.Truncate(msg.Content, c.maxChars),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postMessageURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BotToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("slack: decode chat.postMessage response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack: chat.postMessage failed: %s", result.Error)
	}
	return nil
}
