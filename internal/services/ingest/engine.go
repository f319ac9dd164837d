// Package ingest turns channel messages into pending catalog records, both
// from the live event stream and from history backfills.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/princekumarofficial/channel-media-service/internal/events"
	"github.com/princekumarofficial/channel-media-service/internal/metrics"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/telegram"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

const (
	SourceLive     = "live"
	SourceBackfill = "backfill"
)

// Source is the part of the telegram session the engine reads history from.
type Source interface {
	History(ctx context.Context, channel string, fn func(telegram.Message) error) error
	IsBot() bool
}

// Catalog is the storage the engine writes to.
type Catalog interface {
	MediaExists(ctx context.Context, messageID int64) (bool, error)
	CreateMedia(ctx context.Context, m types.NewMedia) (types.MediaRecord, error)
	ListChannels(ctx context.Context, activeOnly bool) ([]types.Channel, error)
}

type ChannelResult struct {
	Channel    string `json:"channel"`
	Discovered int    `json:"discovered"`
	Error      string `json:"error,omitempty"`
}

type PullSummary struct {
	Channels   []ChannelResult `json:"channels"`
	Discovered int             `json:"discovered"`
	Failed     int             `json:"failed"`
}

type Options struct {
	Retry   RetryPolicy
	Events  events.Publisher
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// BaseContext bounds the asynchronous backfills started by the Trigger
	// methods. Defaults to context.Background().
	BaseContext context.Context
}

type Engine struct {
	catalog Catalog
	source  Source
	retry   RetryPolicy
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewEngine(catalog Catalog, source Source, opts Options) *Engine {
	e := &Engine{
		catalog: catalog,
		source:  source,
		retry:   opts.Retry,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		baseCtx: opts.BaseContext,
	}
	if e.retry.MaxAttempts == 0 {
		e.retry = DefaultRetryPolicy()
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.baseCtx == nil {
		e.baseCtx = context.Background()
	}
	e.logger = e.logger.With(slog.String("component", "ingest"))
	return e
}

// IngestMessage records msg as a pending media item when it carries a
// supported attachment that is not yet in the catalog. It reports whether a
// new record was created.
func (e *Engine) IngestMessage(ctx context.Context, msg telegram.Message, source string) (bool, error) {
	if msg.Attachment == nil {
		return false, nil
	}

	kind, ok := Classify(msg.Attachment.MIMEType())
	if !ok {
		e.logger.Debug("Skipping unsupported attachment",
			slog.Int64("message_id", msg.ID), slog.String("mime_type", msg.Attachment.MIMEType()))
		return false, nil
	}

	exists, err := e.catalog.MediaExists(ctx, msg.ID)
	if err != nil {
		return false, fmt.Errorf("check message %d: %w", msg.ID, err)
	}
	if exists {
		return false, nil
	}

	name := msg.Attachment.Name()
	if name == "" {
		name = fmt.Sprintf("message_%d", msg.ID)
	}

	rec, err := e.catalog.CreateMedia(ctx, types.NewMedia{
		MessageID:       msg.ID,
		ChannelUsername: msg.Channel(),
		FileName:        name,
		FileType:        kind,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record message %d: %w", msg.ID, err)
	}

	e.logger.Info("Recorded pending media",
		slog.Int64("media_id", rec.ID),
		slog.Int64("message_id", rec.MessageID),
		slog.String("channel", rec.ChannelUsername),
		slog.String("file_name", rec.FileName),
		slog.String("file_type", string(rec.FileType)),
		slog.String("source", source),
	)
	e.metrics.MediaDiscovered(string(kind), source)
	e.events.MediaDiscovered(rec)
	return true, nil
}

// Run consumes live messages until ctx ends or msgs is closed.
func (e *Engine) Run(ctx context.Context, msgs <-chan telegram.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if _, err := e.IngestMessage(ctx, msg, SourceLive); err != nil {
				e.logger.Error("Failed to ingest live message",
					slog.String("channel", msg.Channel()),
					slog.Int64("message_id", msg.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// PullChannel walks the full history of channel and records every supported
// attachment not yet in the catalog. The walk is retried per the engine's
// RetryPolicy; the count covers records created across all attempts.
func (e *Engine) PullChannel(ctx context.Context, channel string) (int, error) {
	total := 0
	err := e.retry.Do(ctx, func(attempt int) error {
		err := e.source.History(ctx, channel, func(msg telegram.Message) error {
			created, err := e.IngestMessage(ctx, msg, SourceBackfill)
			if err != nil {
				return err
			}
			if created {
				total++
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, telegram.ErrHistoryUnavailable) || errors.Is(err, context.Canceled) {
			return Permanent(err)
		}
		e.logger.Warn("Channel history pull failed",
			slog.String("channel", channel),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.retry.MaxAttempts),
			slog.String("error", err.Error()))
		return err
	})
	e.metrics.Backfill(err)
	if err != nil {
		return total, fmt.Errorf("pull %s: %w", channel, err)
	}
	return total, nil
}

// PullAllChannelMedia backfills every active channel in turn. A failing
// channel is recorded in the summary and the loop moves on.
func (e *Engine) PullAllChannelMedia(ctx context.Context) (PullSummary, error) {
	summary := PullSummary{Channels: []ChannelResult{}}

	if e.source.IsBot() {
		e.logger.Info("Bot account: skipping history backfill")
		return summary, telegram.ErrHistoryUnavailable
	}

	channels, err := e.catalog.ListChannels(ctx, true)
	if err != nil {
		return summary, fmt.Errorf("list active channels: %w", err)
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		n, err := e.PullChannel(ctx, ch.Username)
		res := ChannelResult{Channel: ch.Username, Discovered: n}
		if err != nil {
			res.Error = err.Error()
			summary.Failed++
			e.logger.Error("Channel backfill failed",
				slog.String("channel", ch.Username), slog.String("error", err.Error()))
		} else {
			e.logger.Info("Channel backfill finished",
				slog.String("channel", ch.Username), slog.Int("discovered", n))
		}
		summary.Discovered += n
		summary.Channels = append(summary.Channels, res)
		e.events.BackfillCompleted(ch.Username, n, err)
	}

	e.logger.Info("Backfill finished",
		slog.Int("channels", len(channels)),
		slog.Int("discovered", summary.Discovered),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

// TriggerChannel starts a backfill of channel in the background.
func (e *Engine) TriggerChannel(channel string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		n, err := e.PullChannel(e.baseCtx, channel)
		if err != nil && !errors.Is(err, telegram.ErrHistoryUnavailable) {
			e.logger.Error("Background channel backfill failed",
				slog.String("channel", channel), slog.String("error", err.Error()))
		}
		e.events.BackfillCompleted(channel, n, err)
	}()
}

// TriggerAll starts a backfill of every active channel in the background.
func (e *Engine) TriggerAll() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.PullAllChannelMedia(e.baseCtx); err != nil && !errors.Is(err, telegram.ErrHistoryUnavailable) {
			e.logger.Error("Background backfill failed", slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until every triggered backfill has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}
