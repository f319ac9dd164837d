// Package channels is the registry of monitored channels.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

var (
	ErrInvalidUsername = errors.New("invalid channel username: expected 5-32 letters, digits or underscores")
	ErrChannelExists   = errors.New("channel already exists")
)

var handlePattern = regexp.MustCompile(`^@[A-Za-z0-9_]{5,32}$`)

var linkPrefixes = []string{
	"https://t.me/",
	"http://t.me/",
	"https://telegram.me/",
	"http://telegram.me/",
	"t.me/",
	"telegram.me/",
}

// Normalize turns "name", "@name" or a t.me link into "@name".
func Normalize(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	lower := strings.ToLower(name)
	for _, p := range linkPrefixes {
		if strings.HasPrefix(lower, p) {
			name = name[len(p):]
			break
		}
	}
	name = strings.TrimSuffix(name, "/")
	name = "@" + strings.TrimPrefix(name, "@")

	if !handlePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, raw)
	}
	return name, nil
}

// Backfiller starts a history pull for a channel in the background.
type Backfiller interface {
	TriggerChannel(channel string)
}

type Registry struct {
	store    storage.ChannelStore
	backfill Backfiller
	logger   *slog.Logger
}

func NewRegistry(store storage.ChannelStore, backfill Backfiller, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		backfill: backfill,
		logger:   logger.With(slog.String("component", "channels")),
	}
}

// Create registers a channel and starts its backfill. Existing handles,
// active or not, are rejected with ErrChannelExists.
func (r *Registry) Create(ctx context.Context, raw string) (types.Channel, error) {
	handle, err := Normalize(raw)
	if err != nil {
		return types.Channel{}, err
	}

	_, err = r.store.GetChannelByUsername(ctx, handle)
	if err == nil {
		return types.Channel{}, fmt.Errorf("%w: %s", ErrChannelExists, handle)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return types.Channel{}, err
	}

	ch, err := r.store.CreateChannel(ctx, handle)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return types.Channel{}, fmt.Errorf("%w: %s", ErrChannelExists, handle)
	}
	if err != nil {
		return types.Channel{}, err
	}

	r.logger.Info("Channel added", slog.Int64("id", ch.ID), slog.String("channel", ch.Username))
	r.backfill.TriggerChannel(ch.Username)
	return ch, nil
}

// SetActive flips the active flag. Only an inactive to active transition
// starts a backfill; deactivation never deletes media.
func (r *Registry) SetActive(ctx context.Context, id int64, active bool) (types.Channel, error) {
	current, err := r.store.GetChannel(ctx, id)
	if err != nil {
		return types.Channel{}, err
	}
	if current.Active == active {
		return current, nil
	}

	ch, err := r.store.SetChannelActive(ctx, id, active)
	if err != nil {
		return types.Channel{}, err
	}

	r.logger.Info("Channel state changed",
		slog.Int64("id", ch.ID), slog.String("channel", ch.Username), slog.Bool("active", active))
	if active {
		r.backfill.TriggerChannel(ch.Username)
	}
	return ch, nil
}

func (r *Registry) Deactivate(ctx context.Context, id int64) (types.Channel, error) {
	return r.SetActive(ctx, id, false)
}

func (r *Registry) ListActive(ctx context.Context) ([]types.Channel, error) {
	return r.store.ListChannels(ctx, true)
}

func (r *Registry) ListAll(ctx context.Context) ([]types.Channel, error) {
	return r.store.ListChannels(ctx, false)
}
