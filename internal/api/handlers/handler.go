// handler.go — основной обработчик API Auth Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/auth-module/internal/api/errors"
	"github.com/bigkaa/goartstore/auth-module/internal/service"
	"github.com/bigkaa/goartstore/auth-module/internal/token"
)

// APIHandler — основной обработчик API Auth Module.
type APIHandler struct {
	health       *HealthHandler
	serviceAccts *service.ServiceAccountService
	tokens       *service.TokenService
	issuer       *token.Issuer
	logger       *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	serviceAccts *service.ServiceAccountService,
	tokens *service.TokenService,
	issuer *token.Issuer,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:       health,
		serviceAccts: serviceAccts,
		tokens:       tokens,
		issuer:       issuer,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// WithID оборачивает обработчик с параметром пути {id}: привязывает его
// к UUID и отвечает 400, если значение не UUID.
func WithID(fn func(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id openapi_types.UUID
		err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
			runtime.BindStyledParameterOptions{
				ParamLocation: runtime.ParamLocationPath,
				Explode:       false,
				Required:      true,
			})
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр id: %s", err))
			return
		}
		fn(w, r, id)
	}
}

// --- Вспомогательные функции ---

// MaxBodyBytes — предельный размер тела JSON-запроса.
const MaxBodyBytes = 1 << 20

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. При ошибке отвечает 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.ValidationError(w, fmt.Sprintf("Тело запроса больше %d байт", tooLarge.Limit))
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервиса Service Accounts в HTTP-ответ.
// Неклассифицированные ошибки логируются, клиент получает общее сообщение.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, message string, attrs ...any) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		apierrors.ValidationError(w, strings.Join(verr.Fields, "; "))
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Сервисный аккаунт не найден")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "Сервисный аккаунт уже существует")
	default:
		h.logger.Error(message, append(attrs, slog.String("error", err.Error()))...)
		apierrors.InternalError(w, message)
	}
}
