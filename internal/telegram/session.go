package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultStartTimeout bounds one connect attempt of Start and Restart.
	DefaultStartTimeout = time.Minute
	// DefaultDeliverTimeout is how long a live message waits for room in a
	// full queue before it is dropped.
	DefaultDeliverTimeout = 5 * time.Second
)

// Session owns the one platform connection of the process and its state.
// Live messages are queued on Events for a single consumer.
type Session struct {
	client       Client
	logger       *slog.Logger
	events       chan Message
	startTimeout time.Duration
	deliverWait  time.Duration
	onDrop       func(Message)

	mu         sync.RWMutex
	started    bool
	identity   Identity
	lastErr    error
	registered bool
	onFirst    func(context.Context)
}

type Status struct {
	Started   bool   `json:"started"`
	Connected bool   `json:"connected"`
	IsUser    bool   `json:"is_user"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func NewSession(client Client, buffer int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		client:       client,
		logger:       logger.With(slog.String("component", "telegram_session")),
		events:       make(chan Message, buffer),
		startTimeout: DefaultStartTimeout,
		deliverWait:  DefaultDeliverTimeout,
	}
}

// SetStartTimeout changes the connect bound. Call before Start.
func (s *Session) SetStartTimeout(d time.Duration) {
	if d > 0 {
		s.startTimeout = d
	}
}

// SetDeliverTimeout changes how long a live message waits on a full queue.
// Call before Start.
func (s *Session) SetDeliverTimeout(d time.Duration) {
	if d > 0 {
		s.deliverWait = d
	}
}

// OnDrop registers fn to run for every live message dropped on a full queue.
// Call before Start.
func (s *Session) OnDrop(fn func(Message)) {
	s.onDrop = fn
}

func (s *Session) Events() <-chan Message { return s.events }

// OnFirstStart registers fn to run once, after the first successful start of
// a non-bot session in this process.
func (s *Session) OnFirstStart(fn func(context.Context)) {
	s.mu.Lock()
	s.onFirst = fn
	s.mu.Unlock()
}

func (s *Session) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Session) Connected() bool {
	return s.Started() && s.client.Connected()
}

func (s *Session) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.started
}

func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{Started: s.started, Username: s.identity.Username}
	if s.started {
		st.IsBot = s.identity.Bot
		st.IsUser = !s.identity.Bot
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	st.Connected = st.Started && s.client.Connected()
	return st
}

// deliver queues msg, waiting up to deliverWait for the consumer. A dropped
// message is only recovered by a later backfill of its channel.
func (s *Session) deliver(ctx context.Context, msg Message) {
	select {
	case s.events <- msg:
		return
	default:
	}

	timer := time.NewTimer(s.deliverWait)
	defer timer.Stop()
	select {
	case s.events <- msg:
	case <-ctx.Done():
	case <-timer.C:
		s.logger.Warn("Event queue full, dropping message",
			slog.String("channel", msg.Channel()), slog.Int64("message_id", msg.ID))
		if s.onDrop != nil {
			s.onDrop(msg)
		}
	}
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// Start connects the client and subscribes the live handler. It is a no-op on
// a session that is already started and connected.
func (s *Session) Start(ctx context.Context) error {
	if s.Connected() {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()
	identity, err := s.client.Connect(connectCtx, s.deliver)
	if err != nil {
		s.logger.Error("Failed to start telegram client", slog.String("error", err.Error()))
		return s.fail(fmt.Errorf("start telegram client: %w", err))
	}

	s.mu.Lock()
	s.started = true
	s.identity = identity
	s.lastErr = nil
	first := !s.registered
	s.registered = true
	hook := s.onFirst
	s.mu.Unlock()

	s.logger.Info("Telegram client started",
		slog.String("username", identity.Username), slog.Bool("bot", identity.Bot))

	if identity.Bot {
		s.logger.Info("Bot account: history backfill skipped, only new posts are ingested")
		return nil
	}
	if first && hook != nil {
		go hook(context.WithoutCancel(ctx))
	}
	return nil
}

func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.client.Reconnect(ctx); err != nil {
		return s.fail(fmt.Errorf("reconnect telegram client: %w", err))
	}
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// Restart tears the connection down and runs the full start sequence again.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.client.Disconnect(); err != nil {
		s.logger.Warn("Disconnect before restart failed", slog.String("error", err.Error()))
	}
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return s.Start(ctx)
}

func (s *Session) Stop() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return s.client.Disconnect()
}

// EnsureConnected is the guard in front of every adapter call. It tries one
// reconnect before giving up with ErrNotConnected.
func (s *Session) EnsureConnected(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	if !s.Started() {
		return ErrNotConnected
	}
	if err := s.Reconnect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if !s.client.Connected() {
		return ErrNotConnected
	}
	return nil
}

func (s *Session) IsBot() bool {
	id, ok := s.Identity()
	return ok && id.Bot
}

func (s *Session) History(ctx context.Context, channel string, fn func(Message) error) error {
	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}
	if s.IsBot() {
		return ErrHistoryUnavailable
	}
	return s.client.History(ctx, channel, fn)
}

func (s *Session) Recent(ctx context.Context, channel string, limit int) ([]Message, error) {
	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return s.client.Recent(ctx, channel, limit)
}

func (s *Session) Message(ctx context.Context, channel string, id int64) (Message, error) {
	if err := s.EnsureConnected(ctx); err != nil {
		return Message{}, err
	}
	return s.client.Message(ctx, channel, id)
}
