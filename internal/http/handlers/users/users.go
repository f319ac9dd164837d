package users

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/types/users"
	"github.com/princekumarofficial/channel-media-service/internal/utils/jwt"
	"github.com/princekumarofficial/channel-media-service/internal/utils/password"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
)

var errBadCredentials = errors.New("invalid username or password")

// Login handles admin authentication
// @Summary Authenticate an admin
// @Description Authenticate a user and return a JWT for the admin API
// @Tags users
// @Accept json
// @Produce json
// @Param user body users.SignInRequest true "User login details"
// @Success 200 {object} users.TokenResponse "User authenticated successfully with token"
// @Failure 400 {object} response.Response "Bad request"
// @Failure 401 {object} response.Response "Unauthorized"
// @Router /login [post]
func Login(store storage.UserStore, jwtSecret string, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var signinReq users.SignInRequest

		err := json.NewDecoder(r.Body).Decode(&signinReq)
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		// Validate request
		validate := validator.New()
		err = validate.Struct(signinReq)
		if err != nil {
			if ve, ok := err.(validator.ValidationErrors); ok {
				response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(ve))
				return
			}
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		user, err := store.GetUserByUsername(r.Context(), signinReq.Username)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				slog.Error("Failed to look up user", slog.String("error", err.Error()))
			}
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errBadCredentials))
			return
		}

		if !password.CheckPasswordHash(signinReq.Password, user.PasswordHash) {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errBadCredentials))
			return
		}
		if !user.IsAdmin {
			response.WriteJSON(w, http.StatusForbidden, response.GeneralError(errors.New("admin privileges required")))
			return
		}

		token, err := jwt.CreateToken(user.ID, jwtSecret, ttl)
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(errors.New("failed to generate token")))
			return
		}

		slog.Info("Admin logged in", slog.String("username", user.Username))
		response.WriteJSON(w, http.StatusOK, users.TokenResponse{
			UserID: user.ID,
			Token:  token,
		})
	}
}
