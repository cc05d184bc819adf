package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/keypost/keypost/internal/handler/dto"
	"github.com/keypost/keypost/internal/idp"
	"github.com/keypost/keypost/internal/metrics"
	"github.com/keypost/keypost/internal/middleware"
)

// LoginClient exchanges user credentials at the identity provider.
type LoginClient interface {
	Login(ctx context.Context, email, password string) (json.RawMessage, error)
}

// AuthHandler proxies password logins to the identity provider.
type AuthHandler struct {
	client  LoginClient
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(client LoginClient, logger *slog.Logger, recorder metrics.Recorder) *AuthHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AuthHandler{
		client:  client,
		logger:  logger,
		metrics: recorder,
	}
}

// Login handles POST /auth/login.
// The provider's token response is relayed byte for byte.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.metrics.IncLoginAttempt(metrics.LoginInvalid)
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.Email == "" || req.Password == "" {
		h.metrics.IncLoginAttempt(metrics.LoginInvalid)
		writeError(w, http.StatusBadRequest, idp.ErrMissingCredentials.Error())
		return
	}

	tokens, err := h.client.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleLoginError(w, r, err)
		return
	}

	h.metrics.IncLoginAttempt(metrics.LoginSuccess)
	h.logger.Info("login_succeeded",
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)
	writeRawJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) handleLoginError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, idp.ErrMissingCredentials) {
		h.metrics.IncLoginAttempt(metrics.LoginInvalid)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.metrics.IncLoginAttempt(metrics.LoginRejected)

	message := "Authentication failed"
	attrs := []any{
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		slog.String("error", err.Error()),
	}
	var idpErr *idp.Error
	if errors.As(err, &idpErr) {
		message = idpErr.Message()
		attrs = append(attrs, slog.Int("provider_status", idpErr.StatusCode))
		if idpErr.Err != nil {
			attrs = append(attrs, slog.String("cause", idpErr.Err.Error()))
		}
	}
	h.logger.Warn("login_failed", attrs...)

	writeError(w, http.StatusUnauthorized, message)
}
