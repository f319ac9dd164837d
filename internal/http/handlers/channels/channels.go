package channels

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/princekumarofficial/channel-media-service/internal/services/channels"
	"github.com/princekumarofficial/channel-media-service/internal/telegram"
	"github.com/princekumarofficial/channel-media-service/internal/types"
	"github.com/princekumarofficial/channel-media-service/internal/utils/query"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
)

const (
	defaultPreviewLimit = 20
	maxPreviewLimit     = 100
)

// Create registers a channel to monitor
// @Summary Add channel
// @Description Accepts "name", "@name" or a t.me link; starts a history backfill
// @Tags channels
// @Accept json
// @Produce json
// @Param request body types.CreateChannelRequest true "Channel"
// @Success 201 {object} response.Response{data=types.Channel}
// @Failure 400 {object} response.Response "Invalid or duplicate username"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/channels [post]
func Create(registry *channels.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateChannelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}
		if err := validator.New().Struct(req); err != nil {
			response.BadRequest(w, err)
			return
		}

		ch, err := registry.Create(r.Context(), req.Username)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusCreated, response.RequestOK("Channel added successfully", ch))
	}
}

// ListActive returns the monitored channels
// @Summary List active channels
// @Tags channels
// @Produce json
// @Success 200 {object} response.Response{data=[]types.Channel}
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/channels [get]
func ListActive(registry *channels.Registry) http.HandlerFunc {
	return list(registry.ListActive)
}

// ListAll returns every channel, including deactivated ones
// @Summary List all channels
// @Tags channels
// @Produce json
// @Success 200 {object} response.Response{data=[]types.Channel}
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/channels/all [get]
func ListAll(registry *channels.Registry) http.HandlerFunc {
	return list(registry.ListAll)
}

func list(fetch func(ctx context.Context) ([]types.Channel, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chs, err := fetch(r.Context())
		if err != nil {
			slog.Error("Failed to list channels", slog.String("error", err.Error()))
			response.FromError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Channels retrieved successfully", chs))
	}
}

// Deactivate stops monitoring a channel; its media is kept
// @Summary Deactivate channel
// @Tags channels
// @Produce json
// @Param id path int true "Channel ID"
// @Success 200 {object} response.Response{data=types.Channel}
// @Failure 404 {object} response.Response "Channel not found"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/channels/{id} [delete]
func Deactivate(registry *channels.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := query.PathID(r, "id")
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		ch, err := registry.Deactivate(r.Context(), id)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Channel deactivated", ch))
	}
}

// SetActive toggles a channel; reactivation starts a backfill
// @Summary Set channel state
// @Tags channels
// @Produce json
// @Param id path int true "Channel ID"
// @Param active query bool true "New state"
// @Success 200 {object} response.Response{data=types.Channel}
// @Failure 400 {object} response.Response "Bad request"
// @Failure 404 {object} response.Response "Channel not found"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/channels/{id} [patch]
func SetActive(registry *channels.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := query.PathID(r, "id")
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}
		if r.URL.Query().Get("active") == "" {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("active is required")))
			return
		}
		active, err := query.Bool(r, "active", false)
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		ch, err := registry.SetActive(r.Context(), id, active)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Channel updated", ch))
	}
}

// RecentSource lists a channel's latest messages.
type RecentSource interface {
	Recent(ctx context.Context, channel string, limit int) ([]telegram.Message, error)
}

type PreviewCache interface {
	GetPreview(ctx context.Context, channel string, limit int) ([]types.MessagePreview, bool)
	SetPreview(ctx context.Context, channel string, limit int, previews []types.MessagePreview)
}

// Previews converts messages to their metadata-only form.
func Previews(msgs []telegram.Message) []types.MessagePreview {
	out := make([]types.MessagePreview, 0, len(msgs))
	for _, m := range msgs {
		p := types.MessagePreview{MessageID: m.ID, Date: m.Date, Text: m.Text}
		if m.Attachment != nil {
			p.FileName = m.Attachment.Name()
			p.MimeType = m.Attachment.MIMEType()
			p.FileSize = m.Attachment.Size()
		}
		out = append(out, p)
	}
	return out
}

// Preview lists recent messages of a channel without recording anything
// @Summary Preview channel messages
// @Description Metadata of the latest messages; an unreachable channel yields an empty list
// @Tags channels
// @Produce json
// @Param username path string true "Channel username"
// @Param limit query int false "Messages to return" minimum(1) maximum(100) default(20)
// @Success 200 {object} response.Response{data=[]types.MessagePreview}
// @Failure 400 {object} response.Response "Bad request"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/channels/{username}/preview [get]
func Preview(source RecentSource, cache PreviewCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel, err := channels.Normalize(r.PathValue("username"))
		if err != nil {
			response.FromError(w, err)
			return
		}
		limit, err := query.Int(r, "limit", defaultPreviewLimit)
		if err != nil || limit < 1 || limit > maxPreviewLimit {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("limit must be between 1 and 100")))
			return
		}

		if cached, ok := cache.GetPreview(r.Context(), channel, limit); ok {
			response.WriteJSON(w, http.StatusOK, response.RequestOK("Cached preview retrieved successfully", cached))
			return
		}

		msgs, err := source.Recent(r.Context(), channel, limit)
		if err != nil {
			slog.Warn("Channel preview failed",
				slog.String("channel", channel), slog.String("error", err.Error()))
			response.WriteJSON(w, http.StatusOK, response.RequestOK("Preview unavailable", []types.MessagePreview{}))
			return
		}

		previews := Previews(msgs)
		cache.SetPreview(r.Context(), channel, limit, previews)
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Preview retrieved successfully", previews))
	}
}
