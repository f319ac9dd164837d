package media

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/princekumarofficial/channel-media-service/internal/http/middleware"
	"github.com/princekumarofficial/channel-media-service/internal/services/approval"
	"github.com/princekumarofficial/channel-media-service/internal/services/channels"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/types"
	"github.com/princekumarofficial/channel-media-service/internal/utils/query"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
)

const defaultLimit = 20

type MediaHandlers struct {
	catalog   storage.MediaStore
	approvals *approval.Service
	validate  *validator.Validate
}

// ChannelMediaPage is a page of one channel's media.
type ChannelMediaPage struct {
	types.MediaPage
	Channel string `json:"channel"`
}

// NewMediaHandlers creates a new media handlers instance
func NewMediaHandlers(catalog storage.MediaStore, approvals *approval.Service) *MediaHandlers {
	return &MediaHandlers{
		catalog:   catalog,
		approvals: approvals,
		validate:  validator.New(),
	}
}

func (h *MediaHandlers) page(r *http.Request) (types.ListMediaQuery, error) {
	var q types.ListMediaQuery
	var err error
	if q.Skip, err = query.Int(r, "skip", 0); err != nil {
		return q, err
	}
	if q.Limit, err = query.Int(r, "limit", defaultLimit); err != nil {
		return q, err
	}
	if q.ApprovedOnly, err = query.Bool(r, "approved_only", false); err != nil {
		return q, err
	}
	q.MediaType = types.MediaKind(r.URL.Query().Get("media_type"))
	return q, h.validate.Struct(q)
}

func (h *MediaHandlers) list(w http.ResponseWriter, r *http.Request, filter types.MediaFilter, q types.ListMediaQuery) (types.MediaPage, bool) {
	items, total, err := h.catalog.ListMedia(r.Context(), filter, types.Page{Skip: q.Skip, Limit: q.Limit})
	if err != nil {
		slog.Error("Failed to list media", slog.String("error", err.Error()))
		response.FromError(w, err)
		return types.MediaPage{}, false
	}
	return types.MediaPage{Items: items, Total: total, Skip: q.Skip, Limit: q.Limit}, true
}

// List returns a page of media records
// @Summary List media
// @Description List discovered media, newest first, with optional kind and approval filters
// @Tags media
// @Produce json
// @Param skip query int false "Records to skip" minimum(0)
// @Param limit query int false "Page size" minimum(1) maximum(1000) default(20)
// @Param media_type query string false "audio or pdf" Enums(audio, pdf)
// @Param approved_only query bool false "Only approved records"
// @Success 200 {object} response.Response{data=types.MediaPage}
// @Failure 400 {object} response.Response "Bad request"
// @Failure 401 {object} response.Response "Unauthorized"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/media [get]
func (h *MediaHandlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := h.page(r)
		if err != nil {
			response.BadRequest(w, err)
			return
		}

		filter := types.MediaFilter{Kind: q.MediaType, ApprovedOnly: q.ApprovedOnly}
		if page, ok := h.list(w, r, filter, q); ok {
			response.WriteJSON(w, http.StatusOK, response.RequestOK("Media retrieved successfully", page))
		}
	}
}

// ListPending returns media awaiting approval
// @Summary List pending media
// @Tags media
// @Produce json
// @Param skip query int false "Records to skip" minimum(0)
// @Param limit query int false "Page size" minimum(1) maximum(1000) default(20)
// @Success 200 {object} response.Response{data=types.MediaPage}
// @Failure 400 {object} response.Response "Bad request"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/media/pending [get]
func (h *MediaHandlers) ListPending() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := h.page(r)
		if err != nil {
			response.BadRequest(w, err)
			return
		}

		if page, ok := h.list(w, r, types.MediaFilter{PendingOnly: true}, q); ok {
			response.WriteJSON(w, http.StatusOK, response.RequestOK("Pending media retrieved successfully", page))
		}
	}
}

// ByChannel returns the media of one channel
// @Summary List media by channel
// @Tags media
// @Produce json
// @Param username path string true "Channel username"
// @Param skip query int false "Records to skip" minimum(0)
// @Param limit query int false "Page size" minimum(1) maximum(1000) default(20)
// @Success 200 {object} response.Response{data=ChannelMediaPage}
// @Failure 400 {object} response.Response "Bad request"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/media/by-channel/{username} [get]
func (h *MediaHandlers) ByChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := h.page(r)
		if err != nil {
			response.BadRequest(w, err)
			return
		}

		channel := r.PathValue("username")
		if handle, err := channels.Normalize(channel); err == nil {
			channel = handle
		}

		if page, ok := h.list(w, r, types.MediaFilter{Channel: channel}, q); ok {
			response.WriteJSON(w, http.StatusOK, response.RequestOK("Channel media retrieved successfully",
				ChannelMediaPage{MediaPage: page, Channel: channel}))
		}
	}
}

// Get returns one media record
// @Summary Get media
// @Tags media
// @Produce json
// @Param id path int true "Media ID"
// @Success 200 {object} response.Response{data=types.MediaRecord}
// @Failure 404 {object} response.Response "Media not found"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/media/{id} [get]
func (h *MediaHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := query.PathID(r, "id")
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		m, err := h.catalog.GetMedia(r.Context(), id)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Media retrieved successfully", m))
	}
}

// DownloadURL issues a presigned URL for approved media
// @Summary Get download URL
// @Description Presigned object storage URL, only for approved media
// @Tags media
// @Produce json
// @Param id path int true "Media ID"
// @Param expiration query int false "URL lifetime in seconds" minimum(60) maximum(604800) default(3600)
// @Success 200 {object} response.Response{data=approval.DownloadURL}
// @Failure 400 {object} response.Response "Bad request"
// @Failure 403 {object} response.Response "Media not approved"
// @Failure 404 {object} response.Response "Media not found"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/media/{id}/download-url [get]
func (h *MediaHandlers) DownloadURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := query.PathID(r, "id")
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		var q types.DownloadURLQuery
		if q.Expiration, err = query.Int(r, "expiration", int(approval.DefaultURLExpiry/time.Second)); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}
		if err := h.validate.Struct(q); err != nil {
			response.BadRequest(w, err)
			return
		}

		u, err := h.approvals.DownloadURL(r.Context(), id, time.Duration(q.Expiration)*time.Second)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Download URL generated successfully", u))
	}
}

// Approve downloads, stores and approves one media record
// @Summary Approve media
// @Description Idempotent: approving an approved record returns it unchanged
// @Tags media
// @Produce json
// @Param id path int true "Media ID"
// @Success 200 {object} response.Response{data=types.MediaRecord}
// @Failure 404 {object} response.Response "Media not found"
// @Failure 429 {object} response.Response "Rate limit exceeded"
// @Failure 500 {object} response.Response "Download or upload failed"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/media/{id}/approve [post]
func (h *MediaHandlers) Approve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := query.PathID(r, "id")
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		res, err := h.approvals.Approve(r.Context(), id)
		if err != nil {
			response.FromError(w, err)
			return
		}

		msg := "Media approved successfully"
		if !res.Approved {
			msg = "Media already approved"
		}
		if caller, ok := middleware.CallerFromContext(r.Context()); ok {
			slog.Info("Approve request handled", slog.Int64("media_id", id), slog.String("caller", caller.ID()))
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK(msg, res.Media))
	}
}

// BatchApprove approves up to 100 media records
// @Summary Batch approve media
// @Description Processes ids in order; a failure is reported per item and does not stop the batch
// @Tags media
// @Accept json
// @Produce json
// @Param request body types.BatchApproveRequest true "Media ids"
// @Success 200 {object} response.Response{data=approval.BatchResult}
// @Failure 400 {object} response.Response "Empty or oversized batch"
// @Failure 429 {object} response.Response "Rate limit exceeded"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/media/approve-batch [post]
func (h *MediaHandlers) BatchApprove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.BatchApproveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}
		if err := h.validate.Struct(req); err != nil {
			response.BadRequest(w, err)
			return
		}

		out, err := h.approvals.BatchApprove(r.Context(), req.MediaIDs)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Batch approval processed", out))
	}
}

// Nested serves GET /api/media/{first}/{second}. The by-channel and
// download-url routes overlap as ServeMux patterns, so they share one.
func (h *MediaHandlers) Nested() http.HandlerFunc {
	byChannel, downloadURL := h.ByChannel(), h.DownloadURL()
	return func(w http.ResponseWriter, r *http.Request) {
		first, second := r.PathValue("first"), r.PathValue("second")
		switch {
		case first == "by-channel":
			r.SetPathValue("username", second)
			byChannel(w, r)
		case second == "download-url":
			r.SetPathValue("id", first)
			downloadURL(w, r)
		default:
			response.WriteJSON(w, http.StatusNotFound, response.GeneralError(errors.New("route not found")))
		}
	}
}
