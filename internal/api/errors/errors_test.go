package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("тело ответа не JSON: %v", err)
	}
	return body
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "Сервисный аккаунт не найден")

	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидается 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Error.Code != CodeNotFound || body.Error.Message != "Сервисный аккаунт не найден" {
		t.Errorf("тело = %+v", body)
	}
}

func TestDenied(t *testing.T) {
	rec := httptest.NewRecorder()
	Denied(rec, CodeIPNotAllowed, "Доступ с этого IP-адреса запрещён")

	if rec.Code != http.StatusForbidden {
		t.Errorf("статус = %d, ожидается 403", rec.Code)
	}
	if body := decode(t, rec); body.Error.Code != CodeIPNotAllowed {
		t.Errorf("код = %q", body.Error.Code)
	}
}

func TestTooManyRequests_RetryAfter(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter time.Duration
		want       string
	}{
		{name: "целые секунды", retryAfter: 4 * time.Second, want: "4"},
		{name: "округление вверх", retryAfter: 1500 * time.Millisecond, want: "2"},
		{name: "минимум 1 секунда", retryAfter: 10 * time.Millisecond, want: "1"},
		{name: "ноль", retryAfter: 0, want: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			TooManyRequests(rec, tt.retryAfter, "Слишком много запросов")

			if rec.Code != http.StatusTooManyRequests {
				t.Errorf("статус = %d, ожидается 429", rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.want {
				t.Errorf("Retry-After = %q, ожидается %q", got, tt.want)
			}
			if body := decode(t, rec); body.Error.Code != CodeRateLimited {
				t.Errorf("код = %q", body.Error.Code)
			}
		})
	}
}
