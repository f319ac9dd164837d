// Package telegram defines the channel source used by ingestion and approval:
// the message and attachment descriptors every driver produces, the Client a
// driver implements, and the Session that owns the single connection.
package telegram

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"
)

var (
	ErrNotConnected       = errors.New("telegram client not connected")
	ErrNoSession          = errors.New("no telegram session available")
	ErrMessageNotFound    = errors.New("telegram message not found")
	ErrNoAttachment       = errors.New("telegram message has no attachment")
	ErrHistoryUnavailable = errors.New("message history is unavailable to bot accounts")
	ErrChannelNotFound    = errors.New("telegram channel not found")
)

// Attachment describes a file attached to a message. Fetch streams the bytes
// from the platform and may be called more than once.
type Attachment interface {
	MIMEType() string
	Size() int64
	Name() string
	Fetch(ctx context.Context, w io.Writer) error
}

type Message struct {
	ID        int64
	ChannelID int64
	// ChannelHandle is "@name", or empty when the channel has no public username.
	ChannelHandle string
	Date          time.Time
	Text          string
	Attachment    Attachment
}

// Channel returns the handle the catalog records for the message's channel,
// falling back to the numeric channel id.
func (m Message) Channel() string {
	if m.ChannelHandle != "" {
		return m.ChannelHandle
	}
	return strconv.FormatInt(m.ChannelID, 10)
}

// Identity is the account a client is logged in as.
type Identity struct {
	ID       int64
	Username string
	Bot      bool
}

// Handler receives live channel posts.
type Handler func(ctx context.Context, msg Message)

// Client is a driver for the messaging platform. Connect blocks until the
// session is authorized and handler is subscribed, or fails; the connection
// then lives until Disconnect.
type Client interface {
	Connect(ctx context.Context, handler Handler) (Identity, error)
	Connected() bool
	// Reconnect is the cheap recovery path. A failure means a full restart
	// is needed.
	Reconnect(ctx context.Context) error
	Disconnect() error

	// History walks the full history of channel, newest first, until fn
	// returns an error or the history is exhausted.
	History(ctx context.Context, channel string, fn func(Message) error) error
	Recent(ctx context.Context, channel string, limit int) ([]Message, error)
	// Message fetches one message. channel may be empty when it is unknown.
	Message(ctx context.Context, channel string, id int64) (Message, error)
}
