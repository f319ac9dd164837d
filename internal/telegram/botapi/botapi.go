// Package botapi is the channel source driver for the HTTP Bot API. Bots
// cannot read history or fetch arbitrary messages, so every channel post the
// bot sees is indexed in a PostStore and later lookups are served from there.
package botapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/princekumarofficial/channel-media-service/internal/telegram"
)

// Post is what the driver remembers about a channel post with a file.
type Post struct {
	ChatID        int64     `json:"chat_id"`
	ChannelHandle string    `json:"channel_handle"`
	MessageID     int64     `json:"message_id"`
	Date          time.Time `json:"date"`
	Text          string    `json:"text"`
	FileID        string    `json:"file_id"`
	FileName      string    `json:"file_name"`
	MimeType      string    `json:"mime_type"`
	FileSize      int64     `json:"file_size"`
}

// ErrPostNotFound is returned by a PostStore for unknown posts.
var ErrPostNotFound = errors.New("post not indexed")

type PostStore interface {
	SavePost(ctx context.Context, p Post) error
	// GetPost looks a post up by channel and id, or by id alone when
	// channel is empty.
	GetPost(ctx context.Context, channel string, messageID int64) (Post, error)
	RecentPosts(ctx context.Context, channel string, limit int) ([]Post, error)
}

type Client struct {
	token  string
	posts  PostStore
	logger *slog.Logger
	http   *http.Client
	// api serves Bot API calls; long polling waits up to 30s per request.
	api      *http.Client
	endpoint string

	connMu sync.Mutex

	mu        sync.Mutex
	bot       *tgbotapi.BotAPI
	updates   tgbotapi.UpdatesChannel
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

var _ telegram.Client = (*Client)(nil)

func New(token string, posts PostStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		token:  token,
		posts:  posts,
		logger: logger.With(slog.String("driver", "botapi")),
		http:   &http.Client{Timeout: 5 * time.Minute},
		api:    &http.Client{Timeout: time.Minute},

		endpoint: tgbotapi.APIEndpoint,
	}
	_ = tgbotapi.SetLogger(&botLogger{log: c.logger})
	return c
}

type botLogger struct {
	log *slog.Logger
}

func (l *botLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *botLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (c *Client) Connect(ctx context.Context, handler telegram.Handler) (telegram.Identity, error) {
	if c.token == "" {
		return telegram.Identity{}, fmt.Errorf("%w: bot token is empty", telegram.ErrNoSession)
	}
	if err := ctx.Err(); err != nil {
		return telegram.Identity{}, err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.stop()

	bot, err := c.dial(ctx)
	if err != nil {
		return telegram.Identity{}, err
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := bot.GetUpdatesChan(cfg)
	connCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					c.logger.Info("Updates channel closed")
					return
				}
				if update.ChannelPost == nil {
					continue
				}
				msg, ok := c.remember(connCtx, bot, update.ChannelPost)
				if !ok {
					continue
				}
				handler(connCtx, msg)
			}
		}
	}()

	c.mu.Lock()
	c.bot = bot
	c.updates = updates
	c.cancel = cancel
	c.done = done
	c.connected = true
	c.mu.Unlock()

	return telegram.Identity{ID: bot.Self.ID, Username: bot.Self.UserName, Bot: true}, nil
}

// remember indexes a post that carries a file and converts it.
func (c *Client) remember(ctx context.Context, bot *tgbotapi.BotAPI, m *tgbotapi.Message) (telegram.Message, bool) {
	p, ok := postFrom(m)
	if !ok {
		return telegram.Message{}, false
	}
	if err := c.posts.SavePost(ctx, p); err != nil {
		c.logger.Error("Failed to index channel post",
			slog.Int64("message_id", p.MessageID), slog.String("error", err.Error()))
	}
	return c.convert(bot, p), true
}

func postFrom(m *tgbotapi.Message) (Post, bool) {
	p := Post{
		MessageID: int64(m.MessageID),
		Date:      time.Unix(int64(m.Date), 0).UTC(),
		Text:      m.Text,
	}
	if p.Text == "" {
		p.Text = m.Caption
	}
	if m.Chat != nil {
		p.ChatID = m.Chat.ID
		if m.Chat.UserName != "" {
			p.ChannelHandle = "@" + m.Chat.UserName
		}
	}

	switch {
	case m.Document != nil:
		p.FileID, p.FileName, p.MimeType, p.FileSize = m.Document.FileID, m.Document.FileName, m.Document.MimeType, int64(m.Document.FileSize)
	case m.Audio != nil:
		p.FileID, p.FileName, p.MimeType, p.FileSize = m.Audio.FileID, m.Audio.FileName, m.Audio.MimeType, int64(m.Audio.FileSize)
	case m.Voice != nil:
		p.FileID, p.MimeType, p.FileSize = m.Voice.FileID, m.Voice.MimeType, int64(m.Voice.FileSize)
	default:
		return p, false
	}
	return p, true
}

func (c *Client) convert(bot *tgbotapi.BotAPI, p Post) telegram.Message {
	return telegram.Message{
		ID:            p.MessageID,
		ChannelID:     p.ChatID,
		ChannelHandle: p.ChannelHandle,
		Date:          p.Date,
		Text:          p.Text,
		Attachment:    &file{bot: bot, http: c.http, post: p},
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Reconnect(context.Context) error {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return telegram.ErrNotConnected
	}

	if _, err := bot.GetMe(); err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.stop()
	return nil
}

// dial logs the bot in, giving up when ctx ends. The abandoned attempt is
// bounded by the API client's timeout.
func (c *Client) dial(ctx context.Context) (*tgbotapi.BotAPI, error) {
	type result struct {
		bot *tgbotapi.BotAPI
		err error
	}
	out := make(chan result, 1)
	go func() {
		bot, err := tgbotapi.NewBotAPIWithClient(c.token, c.endpoint, c.api)
		out <- result{bot: bot, err: err}
	}()

	select {
	case r := <-out:
		if r.err != nil {
			return nil, fmt.Errorf("create bot: %w", r.err)
		}
		return r.bot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop ends update polling. Callers hold connMu.
func (c *Client) stop() {
	c.mu.Lock()
	bot, updates, cancel, done := c.bot, c.updates, c.cancel, c.done
	c.bot, c.updates, c.cancel, c.done = nil, nil, nil, nil
	c.connected = false
	c.mu.Unlock()

	if bot == nil {
		return
	}
	bot.StopReceivingUpdates()
	cancel()
	<-done
	// Let the library's polling goroutine finish its in-flight request.
	go func() {
		for range updates {
		}
	}()
}

func (c *Client) current() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot == nil {
		return nil, telegram.ErrNotConnected
	}
	return c.bot, nil
}

func (c *Client) History(context.Context, string, func(telegram.Message) error) error {
	return telegram.ErrHistoryUnavailable
}

func (c *Client) Recent(ctx context.Context, channel string, limit int) ([]telegram.Message, error) {
	bot, err := c.current()
	if err != nil {
		return nil, err
	}
	posts, err := c.posts.RecentPosts(ctx, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("recent posts %s: %w", channel, err)
	}

	out := make([]telegram.Message, 0, len(posts))
	for _, p := range posts {
		out = append(out, c.convert(bot, p))
	}
	return out, nil
}

func (c *Client) Message(ctx context.Context, channel string, id int64) (telegram.Message, error) {
	bot, err := c.current()
	if err != nil {
		return telegram.Message{}, err
	}
	p, err := c.posts.GetPost(ctx, channel, id)
	if errors.Is(err, ErrPostNotFound) {
		return telegram.Message{}, telegram.ErrMessageNotFound
	}
	if err != nil {
		return telegram.Message{}, err
	}
	return c.convert(bot, p), nil
}

// file fetches a post's attachment through the Bot API file endpoint.
type file struct {
	bot  *tgbotapi.BotAPI
	http *http.Client
	post Post
}

func (f *file) MIMEType() string { return f.post.MimeType }
func (f *file) Size() int64      { return f.post.FileSize }
func (f *file) Name() string     { return f.post.FileName }

func (f *file) Fetch(ctx context.Context, w io.Writer) error {
	url, err := f.bot.GetFileDirectURL(f.post.FileID)
	if err != nil {
		return fmt.Errorf("resolve telegram file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("download attachment status: %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	return nil
}
