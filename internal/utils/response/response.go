package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/princekumarofficial/channel-media-service/internal/services/approval"
	"github.com/princekumarofficial/channel-media-service/internal/services/channels"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/telegram"
)

type Response struct {
	Status  string      `json:"status"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(data)
}

func GeneralError(err error) Response {
	return Response{
		Status: StatusError,
		Error:  err.Error(),
	}
}

func ValidationError(errs validator.ValidationErrors) Response {
	var errorMessages string
	for _, err := range errs {
		errorMessages += err.Field() + ": " + err.Tag() + "; "
	}

	return Response{
		Status: StatusError,
		Error:  errorMessages,
	}
}

func RequestOK(message string, data interface{}) Response {
	return Response{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
	}
}

// StatusFor maps a service error to its HTTP status code.
func StatusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrNotApproved):
		return http.StatusForbidden
	case errors.Is(err, channels.ErrInvalidUsername),
		errors.Is(err, channels.ErrChannelExists),
		errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, approval.ErrBatchSize),
		errors.Is(err, approval.ErrInvalidExpiry):
		return http.StatusBadRequest
	case errors.Is(err, telegram.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes err with the status StatusFor picks.
func FromError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		WriteJSON(w, http.StatusBadRequest, ValidationError(verrs))
		return
	}
	WriteJSON(w, StatusFor(err), GeneralError(err))
}

// BadRequest answers 400 with validator details when err carries them.
func BadRequest(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		WriteJSON(w, http.StatusBadRequest, ValidationError(verrs))
		return
	}
	WriteJSON(w, http.StatusBadRequest, GeneralError(err))
}
