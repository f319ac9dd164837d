// Package telegramtest provides an in-memory telegram.Client for tests.
package telegramtest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/princekumarofficial/channel-media-service/internal/telegram"
)

type Attachment struct {
	Mime     string
	FileName string
	Data     []byte
	Err      error
}

func (a *Attachment) MIMEType() string { return a.Mime }
func (a *Attachment) Size() int64      { return int64(len(a.Data)) }
func (a *Attachment) Name() string     { return a.FileName }

func (a *Attachment) Fetch(_ context.Context, w io.Writer) error {
	if a.Err != nil {
		return a.Err
	}
	_, err := io.Copy(w, bytes.NewReader(a.Data))
	return err
}

// Client serves messages from memory. Errors and failure counters can be set
// between calls; all methods are safe for concurrent use.
type Client struct {
	mu sync.Mutex

	Self         telegram.Identity
	ConnectErr   error
	ReconnectErr error
	// ConnectBlock, when set, holds Connect until it is closed or the
	// caller's context ends.
	ConnectBlock chan struct{}
	// HistoryFailures makes the next N History calls fail with HistoryErr.
	HistoryFailures int
	HistoryErr      error

	messages  map[string][]telegram.Message
	connected bool
	handler   telegram.Handler

	ConnectCalls    int
	ReconnectCalls  int
	DisconnectCalls int
	HistoryCalls    map[string]int
}

func NewClient() *Client {
	return &Client{
		Self:         telegram.Identity{ID: 1, Username: "monitor"},
		messages:     make(map[string][]telegram.Message),
		HistoryCalls: make(map[string]int),
	}
}

func key(channel string) string {
	return strings.ToLower(channel)
}

// Add stores msg under its channel handle.
func (c *Client) Add(msgs ...telegram.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		k := key(m.Channel())
		c.messages[k] = append(c.messages[k], m)
	}
}

// Push delivers msg to the subscribed live handler, if any.
func (c *Client) Push(ctx context.Context, msg telegram.Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

// Drop simulates a lost connection.
func (c *Client) Drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Connect(ctx context.Context, handler telegram.Handler) (telegram.Identity, error) {
	c.mu.Lock()
	c.ConnectCalls++
	block := c.ConnectBlock
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return telegram.Identity{}, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return telegram.Identity{}, c.ConnectErr
	}
	c.connected = true
	c.handler = handler
	return c.Self, nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Reconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReconnectCalls++
	if c.ReconnectErr != nil {
		return c.ReconnectErr
	}
	c.connected = true
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DisconnectCalls++
	c.connected = false
	c.handler = nil
	return nil
}

func (c *Client) sorted(channel string) []telegram.Message {
	msgs := append([]telegram.Message(nil), c.messages[key(channel)]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID > msgs[j].ID })
	return msgs
}

func (c *Client) History(_ context.Context, channel string, fn func(telegram.Message) error) error {
	c.mu.Lock()
	c.HistoryCalls[key(channel)]++
	if c.HistoryFailures > 0 {
		c.HistoryFailures--
		err := c.HistoryErr
		c.mu.Unlock()
		return err
	}
	msgs := c.sorted(channel)
	c.mu.Unlock()

	for _, m := range msgs {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// HistoryCount reports how many times History ran for channel.
func (c *Client) HistoryCount(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HistoryCalls[key(channel)]
}

func (c *Client) Recent(_ context.Context, channel string, limit int) ([]telegram.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.sorted(channel)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (c *Client) Message(_ context.Context, channel string, id int64) (telegram.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, msgs := range c.messages {
		if channel != "" && k != key(channel) {
			continue
		}
		for _, m := range msgs {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return telegram.Message{}, telegram.ErrMessageNotFound
}

var _ telegram.Client = (*Client)(nil)
