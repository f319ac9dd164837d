// Package approval moves catalog records from pending to approved: the
// attachment is fetched from the channel, stored in object storage and the
// record updated with its storage key.
package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/princekumarofficial/channel-media-service/internal/events"
	"github.com/princekumarofficial/channel-media-service/internal/metrics"
	"github.com/princekumarofficial/channel-media-service/internal/services/ingest"
	"github.com/princekumarofficial/channel-media-service/internal/services/objectstore"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/telegram"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

const (
	MaxBatchSize = 100

	MinURLExpiry     = 60 * time.Second
	MaxURLExpiry     = 7 * 24 * time.Hour
	DefaultURLExpiry = time.Hour
)

var (
	ErrNotApproved      = errors.New("media is not approved for download")
	ErrUnsupportedMedia = errors.New("attachment is no longer a supported media type")
	ErrBatchSize        = fmt.Errorf("batch must contain between 1 and %d media ids", MaxBatchSize)
	ErrInvalidExpiry    = errors.New("expiration must be between 60 and 604800 seconds")
)

const (
	StatusApproved        = "approved"
	StatusAlreadyApproved = "already_approved"
	StatusFailed          = "failed"
)

// MessageSource resolves the channel message behind a record.
type MessageSource interface {
	Message(ctx context.Context, channel string, id int64) (telegram.Message, error)
}

type Catalog interface {
	GetMedia(ctx context.Context, id int64) (types.MediaRecord, error)
	MarkApproved(ctx context.Context, id int64, s3Key string, at time.Time) (types.MediaRecord, bool, error)
}

type Options struct {
	StagingDir string
	// MaxTransfers bounds concurrent download and upload pairs. Defaults to 2.
	MaxTransfers int64
	Events     events.Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Service struct {
	catalog    Catalog
	source     MessageSource
	objects    objectstore.Store
	transfers  *semaphore.Weighted
	stagingDir string
	events     events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(catalog Catalog, source MessageSource, objects objectstore.Store, opts Options) *Service {
	if opts.MaxTransfers <= 0 {
		opts.MaxTransfers = 2
	}
	s := &Service{
		catalog:    catalog,
		source:     source,
		objects:    objects,
		transfers:  semaphore.NewWeighted(opts.MaxTransfers),
		stagingDir: opts.StagingDir,
		events:     opts.Events,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "approval"))
	return s
}

// Result is the outcome of a single approval. Approved is false when the
// record had already been approved before this call.
type Result struct {
	Media    types.MediaRecord
	Approved bool
}

// Approve materializes the attachment of record id and marks it approved.
// Approving an already approved record is a no-op that returns the record.
func (s *Service) Approve(ctx context.Context, id int64) (Result, error) {
	started := s.now()

	rec, err := s.catalog.GetMedia(ctx, id)
	if err != nil {
		s.metrics.Approval(StatusFailed, started)
		return Result{}, fmt.Errorf("media %d: %w", id, err)
	}
	if rec.Approved {
		s.metrics.Approval(StatusAlreadyApproved, started)
		return Result{Media: rec}, nil
	}

	if err := s.transfers.Acquire(ctx, 1); err != nil {
		s.metrics.Approval(StatusFailed, started)
		return Result{}, err
	}
	res, err := s.materialize(ctx, rec)
	s.transfers.Release(1)
	if err != nil {
		s.metrics.Approval(StatusFailed, started)
		s.logger.Error("Approval failed",
			slog.Int64("media_id", id), slog.String("error", err.Error()))
		return Result{}, err
	}

	if res.Approved {
		s.metrics.Approval(StatusApproved, started)
		s.events.MediaApproved(res.Media)
		s.logger.Info("Media approved",
			slog.Int64("media_id", id),
			slog.String("s3_key", *res.Media.S3Key),
			slog.Duration("took", s.now().Sub(started)))
	} else {
		s.metrics.Approval(StatusAlreadyApproved, started)
	}
	return res, nil
}

func (s *Service) materialize(ctx context.Context, rec types.MediaRecord) (Result, error) {
	// Records of channels without a public handle carry the numeric id.
	msg, err := s.source.Message(ctx, rec.ChannelUsername, rec.MessageID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve message %d: %w", rec.MessageID, err)
	}
	if msg.Attachment == nil {
		return Result{}, fmt.Errorf("message %d: %w", rec.MessageID, telegram.ErrNoAttachment)
	}

	mimeType := msg.Attachment.MIMEType()
	kind, ok := ingest.Classify(mimeType)
	if !ok {
		return Result{}, fmt.Errorf("message %d (%s): %w", rec.MessageID, mimeType, ErrUnsupportedMedia)
	}

	staged, size, err := s.stage(ctx, msg.Attachment)
	if err != nil {
		return Result{}, err
	}
	defer s.unstage(staged)

	key, err := s.objects.Put(ctx, kind, rec.FileName, staged, size, mimeType)
	if err != nil {
		return Result{}, fmt.Errorf("upload media %d: %w", rec.ID, err)
	}

	updated, transitioned, err := s.catalog.MarkApproved(ctx, rec.ID, key, s.now())
	if err != nil {
		s.discard(key)
		return Result{}, fmt.Errorf("record approval of %d: %w", rec.ID, err)
	}
	if !transitioned {
		// Another approver won; keep its object and drop ours.
		s.discard(key)
	}
	return Result{Media: updated, Approved: transitioned}, nil
}

// stage spools the attachment into a temporary file under the staging dir
// and rewinds it for upload.
func (s *Service) stage(ctx context.Context, att telegram.Attachment) (*os.File, int64, error) {
	if s.stagingDir != "" {
		if err := os.MkdirAll(s.stagingDir, 0o755); err != nil {
			return nil, 0, fmt.Errorf("create staging dir: %w", err)
		}
	}
	f, err := os.CreateTemp(s.stagingDir, "media-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create staging file: %w", err)
	}

	if err := att.Fetch(ctx, f); err != nil {
		s.unstage(f)
		return nil, 0, fmt.Errorf("download attachment: %w", err)
	}
	size, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		s.unstage(f)
		return nil, 0, fmt.Errorf("rewind staging file: %w", err)
	}
	return f, size, nil
}

func (s *Service) unstage(f *os.File) {
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove staging file",
			slog.String("path", f.Name()), slog.String("error", err.Error()))
	}
}

func (s *Service) discard(key string) {
	if err := s.objects.Remove(context.Background(), key); err != nil {
		s.logger.Warn("Failed to remove orphaned object",
			slog.String("s3_key", key), slog.String("error", err.Error()))
	}
}

type ItemResult struct {
	MediaID int64              `json:"media_id"`
	Status  string             `json:"status"`
	Reason  string             `json:"reason,omitempty"`
	Media   *types.MediaRecord `json:"media,omitempty"`
}

type BatchResult struct {
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []ItemResult `json:"results"`
}

// BatchApprove approves ids one after another. A failing id is reported in
// its item result and does not stop the rest.
func (s *Service) BatchApprove(ctx context.Context, ids []int64) (BatchResult, error) {
	if len(ids) == 0 || len(ids) > MaxBatchSize {
		return BatchResult{}, ErrBatchSize
	}

	out := BatchResult{Results: make([]ItemResult, 0, len(ids))}
	for _, id := range ids {
		item := ItemResult{MediaID: id}

		res, err := s.Approve(ctx, id)
		switch {
		case err != nil:
			item.Status = StatusFailed
			item.Reason = err.Error()
			out.Failed++
		case res.Approved:
			item.Status = StatusApproved
			item.Media = &res.Media
			out.Successful++
		default:
			item.Status = StatusAlreadyApproved
			item.Media = &res.Media
			out.Successful++
		}
		out.Results = append(out.Results, item)
	}

	s.logger.Info("Batch approval finished",
		slog.Int("requested", len(ids)),
		slog.Int("successful", out.Successful),
		slog.Int("failed", out.Failed))
	return out, nil
}

type DownloadURL struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// DownloadURL issues a presigned URL for an approved record.
func (s *Service) DownloadURL(ctx context.Context, id int64, expiry time.Duration) (DownloadURL, error) {
	if expiry < MinURLExpiry || expiry > MaxURLExpiry {
		return DownloadURL{}, ErrInvalidExpiry
	}

	rec, err := s.catalog.GetMedia(ctx, id)
	if err != nil {
		return DownloadURL{}, fmt.Errorf("media %d: %w", id, err)
	}
	if !rec.Approved {
		return DownloadURL{}, ErrNotApproved
	}
	if rec.S3Key == nil {
		return DownloadURL{}, fmt.Errorf("media %d has no storage key: %w", id, storage.ErrNotFound)
	}

	u, err := s.objects.PresignedGet(ctx, *rec.S3Key, expiry)
	if err != nil {
		return DownloadURL{}, fmt.Errorf("presign %s: %w", *rec.S3Key, err)
	}
	return DownloadURL{URL: u.String(), ExpiresIn: int(expiry / time.Second)}, nil
}
