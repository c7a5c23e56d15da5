package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/goartstore/auth-module/internal/service"
)

type stubChecker struct {
	status, message string
}

func (s stubChecker) CheckReady() (string, string) { return s.status, s.message }

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		pg, idp    ReadinessChecker
		wantCode   int
		wantStatus string
	}{
		{"все зависимости ok", stubChecker{"ok", ""}, stubChecker{"ok", ""}, http.StatusOK, "ok"},
		{"IdP degraded", stubChecker{"ok", ""}, stubChecker{"degraded", "медленно"}, http.StatusOK, "degraded"},
		{"PostgreSQL fail", stubChecker{"fail", "нет соединения"}, stubChecker{"ok", ""}, http.StatusServiceUnavailable, "fail"},
		{"checker не задан", nil, stubChecker{"ok", ""}, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pg, tt.idp)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидается %d", rec.Code, tt.wantCode)
			}
			var resp healthReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("разбор ответа: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, ожидается %q", resp.Status, tt.wantStatus)
			}
			if resp.Service != serviceName {
				t.Errorf("service = %q, ожидается %q", resp.Service, serviceName)
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
}

func TestNullableTime(t *testing.T) {
	var req serviceAccountUpdateRequest

	if err := json.Unmarshal([]byte(`{"name": "x"}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.ValidTo.Set {
		t.Error("отсутствующее validTo помечено как переданное")
	}

	req = serviceAccountUpdateRequest{}
	if err := json.Unmarshal([]byte(`{"validTo": null}`), &req); err != nil {
		t.Fatal(err)
	}
	if !req.ValidTo.Set || req.ValidTo.Value != nil {
		t.Errorf("validTo: null → Set=%v Value=%v, ожидается Set=true Value=nil", req.ValidTo.Set, req.ValidTo.Value)
	}

	req = serviceAccountUpdateRequest{}
	if err := json.Unmarshal([]byte(`{"validTo": "2026-05-01T10:00:00Z"}`), &req); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if !req.ValidTo.Set || req.ValidTo.Value == nil || !req.ValidTo.Value.Equal(want) {
		t.Errorf("validTo = %v, ожидается %v", req.ValidTo.Value, want)
	}

	if err := json.Unmarshal([]byte(`{"validTo": "вчера"}`), &req); err == nil {
		t.Error("ожидается ошибка для некорректной даты")
	}
}

func TestWithID(t *testing.T) {
	var got openapi_types.UUID
	r := chi.NewRouter()
	r.Get("/sa/{id}", WithID(func(w http.ResponseWriter, _ *http.Request, id openapi_types.UUID) {
		got = id
		w.WriteHeader(http.StatusNoContent)
	}))

	const id = "0b7c2a6e-4f1d-4e5a-9c3b-2d8f6a1e7b90"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sa/"+id, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("статус = %d, ожидается 204", rec.Code)
	}
	if got.String() != id {
		t.Errorf("id = %s, ожидается %s", got, id)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sa/12345", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидается 400 для не-UUID", rec.Code)
	}
}

func TestWriteServiceError(t *testing.T) {
	h := &APIHandler{logger: slog.New(slog.DiscardHandler)}

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"валидация", &service.ValidationError{Fields: []string{"name: обязательное поле"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"не найден", fmt.Errorf("получение: %w", service.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"конфликт", service.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"прочая ошибка", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, tt.err, "Ошибка операции")

			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantCode)
			}
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("разбор ответа: %v", err)
			}
			if body.Error.Code != tt.wantErr {
				t.Errorf("код = %q, ожидается %q", body.Error.Code, tt.wantErr)
			}
			if tt.wantCode == http.StatusInternalServerError && body.Error.Message != "Ошибка операции" {
				t.Errorf("сообщение = %q, детали внутренней ошибки не должны раскрываться", body.Error.Message)
			}
		})
	}
}

func TestDecodeJSON_BodyLimit(t *testing.T) {
	var dst tokenRequest

	body := `{"clientId": "abc", "clientSecret": "` + strings.Repeat("x", MaxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/service-accounts/token", strings.NewReader(body))
	if decodeJSON(rec, r, &dst) {
		t.Fatal("тело больше лимита принято")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидается 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Тело запроса больше") {
		t.Errorf("ответ = %s, ожидается сообщение о размере тела", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/v1/service-accounts/token",
		strings.NewReader(`{"clientId": "abc", "clientSecret": "s"}`))
	if !decodeJSON(rec, r, &dst) {
		t.Fatalf("тело в пределах лимита отклонено: %s", rec.Body.String())
	}
	if dst.ClientID != "abc" {
		t.Errorf("clientId = %q, ожидается abc", dst.ClientID)
	}
}
