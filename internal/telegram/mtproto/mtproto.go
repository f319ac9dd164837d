// Package mtproto is the channel source driver speaking MTProto through
// gotd/td. It logs in with a persisted user session file or, when a bot token
// is configured, as a bot.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	gotd "github.com/gotd/td/telegram"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/princekumarofficial/channel-media-service/internal/telegram"
)

const historyPageSize = 100

type Config struct {
	AppID       int
	AppHash     string
	SessionPath string
	BotToken    string
}

type Client struct {
	cfg     Config
	logger  *slog.Logger
	zap     *zap.Logger
	limiter *rate.Limiter
	dl      *downloader.Downloader

	connMu sync.Mutex

	mu        sync.Mutex
	api       *tg.Client
	raw       *gotd.Client
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	peers     map[string]*tg.InputPeerChannel
	// byID holds channels seen in updates or resolved by handle, so records
	// of channels without a public username can still be fetched.
	byID map[int64]*tg.InputPeerChannel
}

var _ telegram.Client = (*Client)(nil)

// New builds a driver. zapLogger receives gotd's own logs and may be nil.
func New(cfg Config, logger *slog.Logger, zapLogger *zap.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With(slog.String("driver", "mtproto")),
		zap:     zapLogger,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		dl:      downloader.NewDownloader(),
		peers:   make(map[string]*tg.InputPeerChannel),
		byID:    make(map[int64]*tg.InputPeerChannel),
	}
}

type startResult struct {
	identity telegram.Identity
	err      error
}

func (c *Client) Connect(ctx context.Context, handler telegram.Handler) (telegram.Identity, error) {
	// connMu serializes dial and teardown; mu is only held to read or
	// publish state so Connected never waits on the network.
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.stop()

	if c.cfg.BotToken == "" {
		if _, err := os.Stat(c.cfg.SessionPath); err != nil {
			return telegram.Identity{}, fmt.Errorf("%w: %s", telegram.ErrNoSession, c.cfg.SessionPath)
		}
	}

	dispatcher := tg.NewUpdateDispatcher()
	raw := gotd.NewClient(c.cfg.AppID, c.cfg.AppHash, gotd.Options{
		SessionStorage: &session.FileStorage{Path: c.cfg.SessionPath},
		UpdateHandler:  dispatcher,
		Logger:         c.zap,
	})
	api := raw.API()

	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok {
			return nil
		}
		pc, ok := msg.PeerID.(*tg.PeerChannel)
		if !ok {
			return nil
		}
		handle := ""
		if ch, ok := e.Channels[pc.ChannelID]; ok {
			c.rememberChannel(ch)
			if ch.Username != "" {
				handle = "@" + ch.Username
			}
		}
		handler(ctx, c.convert(api, msg, pc.ChannelID, handle))
		return nil
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan startResult, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := raw.Run(runCtx, func(ctx context.Context) error {
			identity, err := c.authorize(ctx, raw)
			ready <- startResult{identity: identity, err: err}
			if err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case ready <- startResult{err: err}:
		default:
		}

		c.mu.Lock()
		if c.done == done {
			c.connected = false
		}
		c.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("MTProto client stopped", slog.String("error", err.Error()))
		}
	}()

	var res startResult
	select {
	case res = <-ready:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err == nil && res.identity.ID == 0 {
		res.err = errors.New("client stopped before authorization")
	}
	if res.err != nil {
		cancel()
		<-done
		return telegram.Identity{}, res.err
	}

	c.mu.Lock()
	c.api = api
	c.raw = raw
	c.cancel = cancel
	c.done = done
	c.connected = true
	c.mu.Unlock()
	return res.identity, nil
}

func (c *Client) authorize(ctx context.Context, raw *gotd.Client) (telegram.Identity, error) {
	status, err := raw.Auth().Status(ctx)
	if err != nil {
		return telegram.Identity{}, fmt.Errorf("auth status: %w", err)
	}
	if !status.Authorized {
		if c.cfg.BotToken == "" {
			return telegram.Identity{}, fmt.Errorf("%w: session is not authorized", telegram.ErrNoSession)
		}
		if _, err := raw.Auth().Bot(ctx, c.cfg.BotToken); err != nil {
			return telegram.Identity{}, fmt.Errorf("bot login: %w", err)
		}
	}

	self, err := raw.Self(ctx)
	if err != nil {
		return telegram.Identity{}, fmt.Errorf("get self: %w", err)
	}
	return telegram.Identity{ID: self.ID, Username: self.Username, Bot: self.Bot}, nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Reconnect checks the running client. gotd re-dials dropped connections by
// itself, so a successful round-trip is enough to call the session healthy.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	api := c.api
	running := c.cancel != nil
	c.mu.Unlock()
	if !running || api == nil {
		return telegram.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := api.UpdatesGetState(ctx); err != nil {
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

// stop tears down the running client, if any. Callers hold connMu.
func (c *Client) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.api, c.raw = nil, nil
	c.connected = false
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) client() (*tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil || !c.connected {
		return nil, telegram.ErrNotConnected
	}
	return c.api, nil
}

func (c *Client) resolve(ctx context.Context, api *tg.Client, channel string) (*tg.InputPeerChannel, error) {
	name := strings.TrimPrefix(channel, "@")
	key := strings.ToLower(name)

	c.mu.Lock()
	cached, ok := c.peers[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var resolved tg.InputPeerClass
	err := c.call(ctx, func() error {
		var err error
		resolved, err = peer.DefaultResolver(api).ResolveDomain(ctx, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", channel, err)
	}

	pc, ok := resolved.(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a channel", telegram.ErrChannelNotFound, channel)
	}

	c.mu.Lock()
	c.peers[key] = pc
	c.byID[pc.ChannelID] = pc
	c.mu.Unlock()
	return pc, nil
}

func (c *Client) rememberChannel(ch *tg.Channel) {
	if ch.Min {
		return
	}
	pc := &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	c.mu.Lock()
	c.byID[ch.ID] = pc
	if ch.Username != "" {
		c.peers[strings.ToLower(ch.Username)] = pc
	}
	c.mu.Unlock()
}

// peerFor finds the channel of a catalog record: "@name" is resolved, a
// numeric id must have been seen by this process.
func (c *Client) peerFor(ctx context.Context, api *tg.Client, channel string) (*tg.InputPeerChannel, error) {
	if strings.HasPrefix(channel, "@") {
		return c.resolve(ctx, api, channel)
	}
	id, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", telegram.ErrChannelNotFound, channel)
	}
	c.mu.Lock()
	pc, ok := c.byID[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: channel %d has no public handle and no access hash is known", telegram.ErrChannelNotFound, id)
	}
	return pc, nil
}

// call throttles fn and retries it once after a FLOOD_WAIT.
func (c *Client) call(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		d, ok := tgerr.AsFloodWait(err)
		if !ok || attempt > 0 {
			return err
		}

		c.logger.Warn("Flood wait", slog.Duration("wait", d))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func messagesOf(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch r := res.(type) {
	case *tg.MessagesMessages:
		return r.Messages
	case *tg.MessagesMessagesSlice:
		return r.Messages
	case *tg.MessagesChannelMessages:
		return r.Messages
	default:
		return nil
	}
}

func (c *Client) page(ctx context.Context, api *tg.Client, p *tg.InputPeerChannel, offsetID, limit int) ([]tg.MessageClass, error) {
	var res tg.MessagesMessagesClass
	err := c.call(ctx, func() error {
		var err error
		res, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     p,
			OffsetID: offsetID,
			Limit:    limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return messagesOf(res), nil
}

func (c *Client) History(ctx context.Context, channel string, fn func(telegram.Message) error) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	p, err := c.resolve(ctx, api, channel)
	if err != nil {
		return err
	}

	offset := 0
	for {
		batch, err := c.page(ctx, api, p, offset, historyPageSize)
		if err != nil {
			return fmt.Errorf("history %s: %w", channel, err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, m := range batch {
			msg, ok := m.(*tg.Message)
			if !ok {
				offset = m.GetID()
				continue
			}
			offset = msg.ID
			if err := fn(c.convert(api, msg, p.ChannelID, channel)); err != nil {
				return err
			}
		}
	}
}

func (c *Client) Recent(ctx context.Context, channel string, limit int) ([]telegram.Message, error) {
	api, err := c.client()
	if err != nil {
		return nil, err
	}
	p, err := c.resolve(ctx, api, channel)
	if err != nil {
		return nil, err
	}

	batch, err := c.page(ctx, api, p, 0, limit)
	if err != nil {
		return nil, fmt.Errorf("recent %s: %w", channel, err)
	}

	out := make([]telegram.Message, 0, len(batch))
	for _, m := range batch {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, c.convert(api, msg, p.ChannelID, channel))
		}
	}
	return out, nil
}

func (c *Client) Message(ctx context.Context, channel string, id int64) (telegram.Message, error) {
	api, err := c.client()
	if err != nil {
		return telegram.Message{}, err
	}

	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: int(id)}}
	var (
		res       tg.MessagesMessagesClass
		channelID int64
	)

	if channel != "" {
		p, err := c.peerFor(ctx, api, channel)
		if err != nil {
			return telegram.Message{}, err
		}
		channelID = p.ChannelID
		err = c.call(ctx, func() error {
			var err error
			res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
				Channel: &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash},
				ID:      ids,
			})
			return err
		})
		if err != nil {
			return telegram.Message{}, fmt.Errorf("get message %d: %w", id, err)
		}
	} else {
		err = c.call(ctx, func() error {
			var err error
			res, err = api.MessagesGetMessages(ctx, ids)
			return err
		})
		if err != nil {
			return telegram.Message{}, fmt.Errorf("get message %d: %w", id, err)
		}
	}

	for _, m := range messagesOf(res) {
		msg, ok := m.(*tg.Message)
		if !ok || int64(msg.ID) != id {
			continue
		}
		if pc, ok := msg.PeerID.(*tg.PeerChannel); ok {
			channelID = pc.ChannelID
		}
		return c.convert(api, msg, channelID, channel), nil
	}
	return telegram.Message{}, telegram.ErrMessageNotFound
}

func (c *Client) convert(api *tg.Client, msg *tg.Message, channelID int64, handle string) telegram.Message {
	out := telegram.Message{
		ID:            int64(msg.ID),
		ChannelID:     channelID,
		ChannelHandle: handle,
		Date:          time.Unix(int64(msg.Date), 0).UTC(),
		Text:          msg.Message,
	}

	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return out
	}
	doc, ok := media.Document.AsNotEmpty()
	if !ok {
		return out
	}

	out.Attachment = &document{api: api, dl: c.dl, doc: doc}
	return out
}

// document adapts a tg.Document to telegram.Attachment.
type document struct {
	api *tg.Client
	dl  *downloader.Downloader
	doc *tg.Document
}

func (d *document) MIMEType() string { return d.doc.MimeType }
func (d *document) Size() int64      { return d.doc.Size }

func (d *document) Name() string {
	for _, attr := range d.doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return fn.FileName
		}
	}
	return ""
}

func (d *document) Fetch(ctx context.Context, w io.Writer) error {
	loc := &tg.InputDocumentFileLocation{
		ID:            d.doc.ID,
		AccessHash:    d.doc.AccessHash,
		FileReference: d.doc.FileReference,
	}
	if _, err := d.dl.Download(d.api, loc).Stream(ctx, w); err != nil {
		return fmt.Errorf("download document %d: %w", d.doc.ID, err)
	}
	return nil
}
