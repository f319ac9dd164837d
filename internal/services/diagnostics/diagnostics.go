// Package diagnostics reports the health of the pipeline and lets an admin
// start a backfill by hand.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/princekumarofficial/channel-media-service/internal/telegram"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
	SeveritySuccess  = "success"
)

type Session interface {
	Status() telegram.Status
}

type Catalog interface {
	Counts(ctx context.Context) (types.CatalogCounts, error)
	ListChannels(ctx context.Context, activeOnly bool) ([]types.Channel, error)
}

type Puller interface {
	TriggerAll()
}

type Recommendation struct {
	Severity string `json:"severity"`
	Issue    string `json:"issue"`
	Action   string `json:"action"`
}

type DatabaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	types.CatalogCounts
}

type SystemStatus struct {
	Telegram        telegram.Status  `json:"telegram"`
	Database        DatabaseStatus   `json:"database"`
	Channels        []types.Channel  `json:"channels"`
	Recommendations []Recommendation `json:"recommendations"`
}

type TriggerResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Error    string   `json:"error,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

type Service struct {
	session Session
	catalog Catalog
	puller  Puller
	logger  *slog.Logger
}

func NewService(session Session, catalog Catalog, puller Puller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		session: session,
		catalog: catalog,
		puller:  puller,
		logger:  logger.With(slog.String("component", "diagnostics")),
	}
}

func (s *Service) Status(ctx context.Context) SystemStatus {
	st := SystemStatus{
		Telegram: s.session.Status(),
		Channels: []types.Channel{},
	}

	counts, err := s.catalog.Counts(ctx)
	if err != nil {
		s.logger.Error("Database status check failed", slog.String("error", err.Error()))
		st.Database = DatabaseStatus{Error: err.Error()}
	} else {
		st.Database = DatabaseStatus{Connected: true, CatalogCounts: counts}
	}

	channels, err := s.catalog.ListChannels(ctx, false)
	if err != nil {
		s.logger.Error("Failed to list channels", slog.String("error", err.Error()))
	} else {
		st.Channels = channels
	}

	st.Recommendations = Recommend(st.Telegram, st.Database)
	return st
}

// Recommend derives actionable hints from the connection and catalog state.
func Recommend(tg telegram.Status, db DatabaseStatus) []Recommendation {
	var out []Recommendation

	if !tg.Connected {
		out = append(out, Recommendation{
			Severity: SeverityCritical,
			Issue:    "Telegram client not connected",
			Action:   "Check TG_BOT_TOKEN or the session file, then restart the service.",
		})
	}
	if !db.Connected {
		out = append(out, Recommendation{
			Severity: SeverityCritical,
			Issue:    "Database unreachable",
			Action:   "Check DATABASE_URL and that Postgres is running.",
		})
	}
	if db.Connected && db.ActiveChannels == 0 {
		out = append(out, Recommendation{
			Severity: SeverityWarning,
			Issue:    "No active channels configured",
			Action:   "Add channels with POST /api/channels to start collecting media.",
		})
	}
	if db.TotalMedia == 0 && db.ActiveChannels > 0 {
		out = append(out, Recommendation{
			Severity: SeverityWarning,
			Issue:    "No media pulled despite having active channels",
			Action:   "Trigger a manual pull with POST /api/diagnostics/trigger-pull.",
		})
	}
	if db.PendingMedia > 0 {
		out = append(out, Recommendation{
			Severity: SeverityInfo,
			Issue:    fmt.Sprintf("%d media files awaiting approval", db.PendingMedia),
			Action:   "Review GET /api/media/pending and approve files for download.",
		})
	}

	if len(out) == 0 {
		out = append(out, Recommendation{
			Severity: SeveritySuccess,
			Issue:    "System healthy",
			Action:   "All systems operational.",
		})
	}
	return out
}

// TriggerPull starts a backfill of every active channel. Refusals are
// reported in the result rather than as errors.
func (s *Service) TriggerPull(ctx context.Context) (TriggerResult, error) {
	tg := s.session.Status()
	if !tg.Connected {
		msg := "Cannot pull media: Telegram client is not connected."
		if tg.LastError != "" {
			msg = fmt.Sprintf("%s Last error: %s", msg, tg.LastError)
		}
		return TriggerResult{Error: telegram.ErrNotConnected.Error(), Message: msg}, nil
	}
	if tg.IsBot {
		return TriggerResult{
			Error:   telegram.ErrHistoryUnavailable.Error(),
			Message: "Cannot pull media: bot accounts only receive new posts.",
		}, nil
	}

	active, err := s.catalog.ListChannels(ctx, true)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("list active channels: %w", err)
	}
	if len(active) == 0 {
		return TriggerResult{
			Error:   "no active channels",
			Message: "No active channels configured. Add channels first.",
		}, nil
	}

	s.puller.TriggerAll()

	names := make([]string, 0, len(active))
	for _, ch := range active {
		names = append(names, ch.Username)
	}
	s.logger.Info("Manual media pull triggered", slog.Int("channels", len(names)))
	return TriggerResult{
		Success:  true,
		Message:  fmt.Sprintf("Media pull triggered for %d active channel(s)", len(names)),
		Channels: names,
	}, nil
}
