package openapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, path := range []string{
		"/api/v1/service-accounts",
		"/api/v1/service-accounts/token",
		"/api/v1/service-accounts/{id}",
		"/api/v1/service-accounts/{id}/rotate",
	} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("в контракте нет пути %s", path)
		}
	}
}

func newTestValidator(t *testing.T) http.Handler {
	t.Helper()
	v, err := NewValidator(context.Background(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	// Обработчик возвращает тело как есть: проверяем, что middleware его не съел
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
	return v.Middleware()(echo)
}

func TestValidator(t *testing.T) {
	handler := newTestValidator(t)
	const id = "0b6e4c1a-7f44-4e0c-9d6f-2a1d3b1c9e55"

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "токен", method: http.MethodPost, path: "/api/v1/service-accounts/token", body: `{"clientId":"a","clientSecret":"b"}`, want: http.StatusOK},
		{name: "токен без секрета", method: http.MethodPost, path: "/api/v1/service-accounts/token", body: `{"clientId":"a"}`, want: http.StatusBadRequest},
		{name: "токен с пустым секретом", method: http.MethodPost, path: "/api/v1/service-accounts/token", body: `{"clientId":"a","clientSecret":""}`, want: http.StatusBadRequest},
		{name: "невалидный JSON", method: http.MethodPost, path: "/api/v1/service-accounts/token", body: `{"clientId":`, want: http.StatusBadRequest},
		{name: "создание", method: http.MethodPost, path: "/api/v1/service-accounts", body: `{"name":"ci","scopes":[{"target":"USER","permission":"READ"}]}`, want: http.StatusOK},
		{name: "создание без имени", method: http.MethodPost, path: "/api/v1/service-accounts", body: `{"scopes":[]}`, want: http.StatusBadRequest},
		{name: "неизвестный target", method: http.MethodPost, path: "/api/v1/service-accounts", body: `{"name":"ci","scopes":[{"target":"BILLING","permission":"READ"}]}`, want: http.StatusBadRequest},
		{name: "allowedIps не массив", method: http.MethodPost, path: "/api/v1/service-accounts", body: `{"name":"ci","allowedIps":"10.0.0.1"}`, want: http.StatusBadRequest},
		{name: "обновление с validTo null", method: http.MethodPut, path: "/api/v1/service-accounts/" + id, body: `{"validTo":null}`, want: http.StatusOK},
		{name: "id не UUID", method: http.MethodDelete, path: "/api/v1/service-accounts/not-a-uuid", want: http.StatusBadRequest},
		{name: "ротация", method: http.MethodPost, path: "/api/v1/service-accounts/" + id + "/rotate", want: http.StatusOK},
		{name: "путь вне контракта", method: http.MethodGet, path: "/health/live", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("статус = %d, ожидается %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK && rec.Body.String() != tt.body {
				t.Errorf("тело после проверки = %q, ожидается %q", rec.Body.String(), tt.body)
			}
			if tt.want == http.StatusBadRequest {
				var resp struct {
					Error struct {
						Code    string `json:"code"`
						Message string `json:"message"`
					} `json:"error"`
				}
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("тело ошибки не JSON: %v", err)
				}
				if resp.Error.Code != "VALIDATION_ERROR" || resp.Error.Message == "" {
					t.Errorf("ошибка = %+v", resp.Error)
				}
			}
		})
	}
}
