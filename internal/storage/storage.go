package storage

import (
	"context"
	"errors"
	"time"

	"github.com/princekumarofficial/channel-media-service/internal/types"
	"github.com/princekumarofficial/channel-media-service/internal/types/users"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// ChannelStore is the channel registry. Channels are never hard-deleted.
type ChannelStore interface {
	CreateChannel(ctx context.Context, username string) (types.Channel, error)
	GetChannel(ctx context.Context, id int64) (types.Channel, error)
	GetChannelByUsername(ctx context.Context, username string) (types.Channel, error)
	ListChannels(ctx context.Context, activeOnly bool) ([]types.Channel, error)
	SetChannelActive(ctx context.Context, id int64, active bool) (types.Channel, error)
}

// MediaStore is the media catalog.
type MediaStore interface {
	MediaExists(ctx context.Context, messageID int64) (bool, error)
	// CreateMedia inserts a pending record. A second insert for the same
	// message id returns ErrAlreadyExists.
	CreateMedia(ctx context.Context, m types.NewMedia) (types.MediaRecord, error)
	GetMedia(ctx context.Context, id int64) (types.MediaRecord, error)
	ListMedia(ctx context.Context, filter types.MediaFilter, page types.Page) ([]types.MediaRecord, int, error)
	// MarkApproved moves a pending record to approved. It reports false,
	// without touching the row, if the record was already approved.
	MarkApproved(ctx context.Context, id int64, s3Key string, at time.Time) (types.MediaRecord, bool, error)
	Counts(ctx context.Context) (types.CatalogCounts, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (users.User, error)
	GetUserByUsername(ctx context.Context, username string) (users.User, error)
	GetUserByID(ctx context.Context, id int64) (users.User, error)
	ListUsers(ctx context.Context) ([]users.User, error)
	DeleteUser(ctx context.Context, username string) error
}

type Storage interface {
	ChannelStore
	MediaStore
	UserStore
	Ping(ctx context.Context) error
}
