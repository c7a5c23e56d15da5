package middleware

import "testing"

// TestNormalizePath проверяет сведение путей к шаблонам маршрутов.
func TestNormalizePath(t *testing.T) {
	const id = "0b6e4c1a-7f44-4e0c-9d6f-2a1d3b1c9e55"

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "health", input: "/health/ready", want: "/health/ready"},
		{name: "jwks", input: "/.well-known/jwks.json", want: "/.well-known/jwks.json"},
		{name: "коллекция", input: "/api/v1/service-accounts", want: "/api/v1/service-accounts"},
		{name: "токен", input: "/api/v1/service-accounts/token", want: "/api/v1/service-accounts/token"},
		{name: "по id", input: "/api/v1/service-accounts/" + id, want: "/api/v1/service-accounts/{id}"},
		{name: "ротация", input: "/api/v1/service-accounts/" + id + "/rotate", want: "/api/v1/service-accounts/{id}/rotate"},
		{name: "неизвестный суффикс", input: "/api/v1/service-accounts/" + id + "/x", want: "other"},
		{name: "неизвестный путь", input: "/wp-admin", want: "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.input); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.input, got, tt.want)
			}
		})
	}
}
