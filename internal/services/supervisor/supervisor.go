// Package supervisor keeps the telegram session connected: a periodic check
// starts, reconnects or restarts it as needed.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/princekumarofficial/channel-media-service/internal/metrics"
)

const DefaultInterval = 5 * time.Minute

// Actions reported by Check.
const (
	ActionHealthy       = "healthy"
	ActionStarted       = "started"
	ActionStartFailed   = "start_failed"
	ActionReconnected   = "reconnected"
	ActionRestarted     = "restarted"
	ActionRestartFailed = "restart_failed"
)

type Session interface {
	Started() bool
	Connected() bool
	Start(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Restart(ctx context.Context) error
}

type Supervisor struct {
	session  Session
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(session Session, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		session:  session,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "supervisor")),
	}
}

// Check runs one supervision pass and reports what it did. Running it on a
// healthy session only logs at debug level.
func (s *Supervisor) Check(ctx context.Context) string {
	action := s.check(ctx)
	s.metrics.SupervisorCheck(action)
	s.metrics.SetConnected(s.session.Connected())
	return action
}

func (s *Supervisor) check(ctx context.Context) string {
	if !s.session.Started() {
		s.logger.Info("Telegram client not started, starting")
		if err := s.session.Start(ctx); err != nil {
			s.logger.Error("Telegram client start failed", slog.String("error", err.Error()))
			return ActionStartFailed
		}
		return ActionStarted
	}

	if s.session.Connected() {
		s.logger.Debug("Telegram client healthy")
		return ActionHealthy
	}

	s.logger.Warn("Telegram client disconnected, reconnecting")
	err := s.session.Reconnect(ctx)
	if err == nil {
		s.logger.Info("Telegram client reconnected")
		return ActionReconnected
	}

	s.logger.Warn("Reconnect failed, restarting client", slog.String("error", err.Error()))
	if err := s.session.Restart(ctx); err != nil {
		s.logger.Error("Telegram client restart failed", slog.String("error", err.Error()))
		return ActionRestartFailed
	}
	s.logger.Info("Telegram client restarted")
	return ActionRestarted
}

// Run schedules Check every interval until ctx ends. A check still running
// when the next one is due is skipped.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() { s.Check(ctx) }); err != nil {
		return fmt.Errorf("schedule supervisor: %w", err)
	}

	s.logger.Info("Supervisor started", slog.String("interval", s.interval.String()))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Supervisor stopped")
	return nil
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
