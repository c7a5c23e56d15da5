// token.go — обработчики выдачи токенов SA и публикации JWKS.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/auth-module/internal/api/errors"
	"github.com/bigkaa/goartstore/auth-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/access"
	"github.com/bigkaa/goartstore/auth-module/internal/service"
)

type tokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	ExpiresIn int    `json:"expiresIn"`
	Scope     string `json:"scope"`
}

// deniedCodes — коды ошибок для причин отказа политики доступа.
var deniedCodes = map[access.Reason]string{
	access.ReasonNotYetValid:  apierrors.CodeAccountNotYetValid,
	access.ReasonExpired:      apierrors.CodeAccountExpired,
	access.ReasonIPNotAllowed: apierrors.CodeIPNotAllowed,
}

// IssueToken — POST /api/v1/service-accounts/token.
// Публичный endpoint: обмен clientId и clientSecret на токен.
func (h *APIHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		apierrors.ValidationError(w, "clientId и clientSecret обязательны")
		return
	}

	result, err := h.tokens.Issue(r.Context(), req.ClientID, req.ClientSecret, middleware.SourceIP(r))
	if err != nil {
		var (
			locked *service.LockedError
			denied *service.DeniedError
		)
		switch {
		case errors.As(err, &locked):
			apierrors.TooManyRequests(w, locked.RetryAfter,
				"Слишком много неудачных попыток, client_id временно заблокирован")
		case errors.As(err, &denied):
			code, ok := deniedCodes[denied.Reason]
			if !ok {
				code = apierrors.CodeForbidden
			}
			apierrors.Denied(w, code, denied.Reason.Message())
		case errors.Is(err, service.ErrUnauthorized):
			apierrors.Unauthorized(w, "Неверный clientId или clientSecret")
		default:
			h.logger.Error("Ошибка выдачи токена",
				slog.String("client_id", req.ClientID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Ошибка выдачи токена")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     result.AccessToken,
		TokenType: result.TokenType,
		ExpiresIn: result.ExpiresIn,
		Scope:     result.Scope,
	})
}

// GetJWKS — GET /.well-known/jwks.json.
// Открытые ключи для проверки выданных токенов.
func (h *APIHandler) GetJWKS(w http.ResponseWriter, r *http.Request) {
	raw, err := h.issuer.JWKS(r.Context())
	if err != nil {
		h.logger.Error("Ошибка формирования JWKS", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка формирования JWKS")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
