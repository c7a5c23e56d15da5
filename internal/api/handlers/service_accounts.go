// service_accounts.go — обработчики /api/v1/service-accounts endpoints.
// Владелец SA — пользователь из sub bearer-токена. Чужие SA не видны.
package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/auth-module/internal/api/errors"
	"github.com/bigkaa/goartstore/auth-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/model"
	"github.com/bigkaa/goartstore/auth-module/internal/service"
)

// --- Запросы ---

type serviceAccountCreateRequest struct {
	Name       string               `json:"name"`
	ValidFrom  *time.Time           `json:"validFrom"`
	ValidTo    *time.Time           `json:"validTo"`
	AllowedIPs []string             `json:"allowedIps"`
	Scopes     []service.ScopeInput `json:"scopes"`
}

type serviceAccountUpdateRequest struct {
	Name       *string               `json:"name"`
	ValidFrom  *time.Time            `json:"validFrom"`
	ValidTo    nullableTime          `json:"validTo"`
	AllowedIPs *[]string             `json:"allowedIps"`
	Scopes     *[]service.ScopeInput `json:"scopes"`
}

// nullableTime различает отсутствующее поле, null и значение.
type nullableTime struct {
	// Set — поле присутствует в JSON
	Set   bool
	Value *time.Time
}

func (n *nullableTime) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(data, []byte("null")) {
		n.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	n.Value = &t
	return nil
}

// --- Ответы ---

type scopeResponse struct {
	Target     string `json:"target"`
	Permission string `json:"permission"`
}

type serviceAccountResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ClientID   string          `json:"clientId"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	ValidFrom  time.Time       `json:"validFrom"`
	ValidTo    *time.Time      `json:"validTo"`
	AllowedIPs []string        `json:"allowedIps"`
	Scopes     []scopeResponse `json:"scopes"`
}

type serviceAccountWithSecretResponse struct {
	serviceAccountResponse
	ClientSecret string `json:"clientSecret"`
}

type serviceAccountListResponse struct {
	Items []serviceAccountResponse `json:"items"`
}

type secretResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// mapServiceAccount формирует представление SA для ответа.
func mapServiceAccount(sa *model.ServiceAccount) serviceAccountResponse {
	resp := serviceAccountResponse{
		ID:         sa.ID,
		Name:       sa.Name,
		ClientID:   sa.ClientID,
		CreatedAt:  sa.CreatedAt.UTC(),
		UpdatedAt:  sa.UpdatedAt.UTC(),
		ValidFrom:  sa.ValidFrom.UTC(),
		AllowedIPs: sa.AllowedIPs,
		Scopes:     make([]scopeResponse, 0, len(sa.Scopes)),
	}
	if sa.ValidTo != nil {
		v := sa.ValidTo.UTC()
		resp.ValidTo = &v
	}
	if resp.AllowedIPs == nil {
		resp.AllowedIPs = []string{}
	}
	for _, s := range sa.Scopes {
		resp.Scopes = append(resp.Scopes, scopeResponse{
			Target:     string(s.Target),
			Permission: string(s.Permission),
		})
	}
	return resp
}

// ownerID извлекает владельца из claims. При отсутствии отвечает 401.
func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.SubjectFromContext(r.Context())
	if userID == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return "", false
	}
	return userID, true
}

// CreateServiceAccount — POST /api/v1/service-accounts.
// Создаёт SA вызывающего. Секрет возвращается только в этом ответе.
func (h *APIHandler) CreateServiceAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req serviceAccountCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.serviceAccts.Create(r.Context(), userID, service.CreateInput{
		Name:       req.Name,
		ValidFrom:  req.ValidFrom,
		ValidTo:    req.ValidTo,
		AllowedIPs: req.AllowedIPs,
		Scopes:     req.Scopes,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания сервисного аккаунта",
			slog.String("user_id", userID))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, serviceAccountWithSecretResponse{
		serviceAccountResponse: mapServiceAccount(result.ServiceAccount),
		ClientSecret:           result.ClientSecret,
	})
}

// ListServiceAccounts — GET /api/v1/service-accounts.
// Возвращает SA вызывающего, новые первыми.
func (h *APIHandler) ListServiceAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}

	sas, err := h.serviceAccts.List(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка сервисных аккаунтов",
			slog.String("user_id", userID))
		return
	}

	items := make([]serviceAccountResponse, len(sas))
	for i, sa := range sas {
		items[i] = mapServiceAccount(sa)
	}
	writeJSON(w, http.StatusOK, serviceAccountListResponse{Items: items})
}

// GetServiceAccount — GET /api/v1/service-accounts/{id}.
func (h *APIHandler) GetServiceAccount(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}

	sa, err := h.serviceAccts.Get(r.Context(), userID, id.String())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения сервисного аккаунта",
			slog.String("sa_id", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, mapServiceAccount(sa))
}

// UpdateServiceAccount — PUT /api/v1/service-accounts/{id}.
// Меняет только переданные поля; validTo: null снимает срок окончания.
func (h *APIHandler) UpdateServiceAccount(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req serviceAccountUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := service.UpdateInput{
		Name:       req.Name,
		ValidFrom:  req.ValidFrom,
		AllowedIPs: req.AllowedIPs,
		Scopes:     req.Scopes,
	}
	if req.ValidTo.Set {
		in.ValidTo = req.ValidTo.Value
		in.ClearValidTo = req.ValidTo.Value == nil
	}

	sa, err := h.serviceAccts.Update(r.Context(), userID, id.String(), in)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка обновления сервисного аккаунта",
			slog.String("sa_id", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, mapServiceAccount(sa))
}

// RevokeServiceAccount — DELETE /api/v1/service-accounts/{id}.
// Удаляет SA со всеми scopes. Выданные токены действуют до истечения.
func (h *APIHandler) RevokeServiceAccount(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}

	if err := h.serviceAccts.Revoke(r.Context(), userID, id.String()); err != nil {
		h.writeServiceError(w, err, "Ошибка отзыва сервисного аккаунта",
			slog.String("sa_id", id.String()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateServiceAccountSecret — POST /api/v1/service-accounts/{id}/rotate.
// Старый секрет перестаёт действовать сразу.
func (h *APIHandler) RotateServiceAccountSecret(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}

	newSecret, err := h.serviceAccts.RotateSecret(r.Context(), userID, id.String())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка ротации секрета",
			slog.String("sa_id", id.String()))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, secretResponse{ClientSecret: newSecret})
}
