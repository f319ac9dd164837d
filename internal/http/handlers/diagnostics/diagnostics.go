package diagnostics

import (
	"net/http"

	"github.com/princekumarofficial/channel-media-service/internal/services/diagnostics"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
)

// Status reports connectivity, catalog counts and recommendations
// @Summary System status
// @Tags diagnostics
// @Produce json
// @Success 200 {object} response.Response{data=diagnostics.SystemStatus}
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/diagnostics/status [get]
func Status(svc *diagnostics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.WriteJSON(w, http.StatusOK, response.RequestOK("System status", svc.Status(r.Context())))
	}
}

// TriggerPull starts a backfill of every active channel
// @Summary Trigger media pull
// @Description Returns success=false with a reason when the pull cannot start
// @Tags diagnostics
// @Produce json
// @Success 200 {object} response.Response{data=diagnostics.TriggerResult}
// @Failure 429 {object} response.Response "Rate limit exceeded"
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /api/diagnostics/trigger-pull [post]
func TriggerPull(svc *diagnostics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.TriggerPull(r.Context())
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK(res.Message, res))
	}
}
