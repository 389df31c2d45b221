// Package cli is the simplest possible channel adapter: it reads one prompt
// per line from an io.Reader and writes replies to an io.Writer. It exists
// so the gateway has something to drive without a platform token configured,
// and is useful on its own for local testing and scripting.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nextlevelbuilder/aeon/internal/bus"
	"github.com/nextlevelbuilder/aeon/internal/channels"
)

const channelName = "cli"

// chatID is fixed: a single stdio session has exactly one conversation.
const chatID = "stdio"

// StdioChannel reads lines from stdin and writes replies to stdout/whatever
// writer is given. It embeds channels.BaseChannel for the allowlist/bus
// plumbing every other channel adapter shares.
type StdioChannel struct {
	*channels.BaseChannel
	reader *bufio.Reader
	writer io.Writer
}

// NewStdioChannel builds a channel bound to r/w. r is typically
// bufio.NewReader(os.Stdin), w typically os.Stdout.
func NewStdioChannel(msgBus *bus.MessageBus, r *bufio.Reader, w io.Writer) *StdioChannel {
	return &StdioChannel{
		BaseChannel: channels.NewBaseChannel(channelName, msgBus, nil, nil),
		reader:      r,
		writer:      w,
	}
}

// Dispatch runs the stdin read loop. Outbound delivery to this channel goes
// through Send, invoked by the channel manager's dispatch loop — not a
// second reader on the bus, which would race with other channels for the
// same queue. It blocks until ctx is cancelled or stdin is closed (EOF).
func (c *StdioChannel) Dispatch(ctx context.Context) {
	c.SetRunning(true)
	defer c.SetRunning(false)
	c.readLoop(ctx)
}

func (c *StdioChannel) readLoop(ctx context.Context) {
	fmt.Fprint(c.writer, "> ")
	for {
		line, err := c.reader.ReadString('\n')
		if len(line) > 0 {
			c.HandleMessage(chatID, chatID, trimNewline(line), nil, nil, "direct")
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("cli: read error", "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		fmt.Fprint(c.writer, "> ")
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Start launches the read loop in the background, satisfying channels.Channel
// so this adapter can be registered with channels.Manager like any other.
func (c *StdioChannel) Start(ctx context.Context) error {
	go c.Dispatch(ctx)
	return nil
}

// Stop satisfies channels.Channel. The read loop exits on its own once ctx
// is cancelled or stdin closes.
func (c *StdioChannel) Stop(ctx context.Context) error {
	return nil
}

// Send satisfies channels.Channel: the channel manager's dispatch loop calls
// it to print each outbound message for this channel on its own line.
func (c *StdioChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := fmt.Fprintln(c.writer, msg.Content)
	return err
}
