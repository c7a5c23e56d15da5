package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-au"

const testIssuer = "https://idp.test/realms/artstore"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth с mock JWKS.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, testLogger())
}

// signToken подписывает claims тестовым ключом.
func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("не удалось подписать токен: %v", err)
	}
	return signed
}

func userClaims(sub string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                sub,
		"preferred_username": "alice",
		"email":              "alice@example.com",
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
}

// captureClaims — обработчик, сохраняющий claims из контекста.
func captureClaims(dst **AuthClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*dst = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuth_UserToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(captureClaims(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/service-accounts", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, userClaims("user-42", time.Now().Add(time.Hour))))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200: %s", rec.Code, rec.Body.String())
	}
	if got == nil {
		t.Fatal("claims не помещены в контекст")
	}
	if got.Subject != "user-42" || got.SubjectType != SubjectTypeUser {
		t.Errorf("claims = %+v", got)
	}
	if got.PreferredUsername != "alice" || got.Email != "alice@example.com" {
		t.Errorf("профиль = %q/%q", got.PreferredUsername, got.Email)
	}
}

func TestJWTAuth_ServiceAccountToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	claims := userClaims("3f1c", time.Now().Add(time.Hour))
	claims["client_id"] = "3f1c"
	claims["scope"] = "auth:read user:write"

	var got *AuthClaims
	handler := auth.Middleware()(captureClaims(&got))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, claims))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.SubjectType != SubjectTypeSA {
		t.Fatalf("claims = %+v, ожидается service_account", got)
	}
	if got.ClientID != "3f1c" || len(got.Scopes) != 2 {
		t.Errorf("client_id/scopes = %q/%v", got.ClientID, got.Scopes)
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	wrongIssuer := userClaims("user-1", time.Now().Add(time.Hour))
	wrongIssuer["iss"] = "https://evil.test"
	noSub := userClaims("", time.Now().Add(time.Hour))
	noExp := userClaims("user-1", time.Now())
	delete(noExp, "exp")

	tests := []struct {
		name   string
		header string
	}{
		{name: "нет заголовка", header: ""},
		{name: "не Bearer", header: "Basic dXNlcjpwYXNz"},
		{name: "пустой токен", header: "Bearer "},
		{name: "мусор", header: "Bearer not.a.jwt"},
		{name: "просроченный", header: "Bearer " + signToken(t, key, userClaims("user-1", time.Now().Add(-time.Hour)))},
		{name: "чужой ключ", header: "Bearer " + signToken(t, otherKey, userClaims("user-1", time.Now().Add(time.Hour)))},
		{name: "чужой issuer", header: "Bearer " + signToken(t, key, wrongIssuer)},
		{name: "без sub", header: "Bearer " + signToken(t, key, noSub)},
		{name: "без exp", header: "Bearer " + signToken(t, key, noExp)},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("запрос прошёл аутентификацию")
	})
	handler := auth.Middleware()(next)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("статус = %d, ожидается 401", rec.Code)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireUser()(ok)

	tests := []struct {
		name   string
		claims *AuthClaims
		want   int
	}{
		{name: "без claims", claims: nil, want: http.StatusUnauthorized},
		{name: "пользователь", claims: &AuthClaims{Subject: "u", SubjectType: SubjectTypeUser}, want: http.StatusNoContent},
		{name: "сервисный аккаунт", claims: &AuthClaims{Subject: "c", SubjectType: SubjectTypeSA}, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.want)
			}
		})
	}
}

func TestIdPReadinessChecker(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "ключи есть", status: http.StatusOK, body: `{"keys":[{"kty":"RSA"}]}`, want: statusOK},
		{name: "нет ключей", status: http.StatusOK, body: `{"keys":[]}`, want: statusDegraded},
		{name: "невалидный JSON", status: http.StatusOK, body: `{`, want: statusDegraded},
		{name: "ошибка IdP", status: http.StatusBadGateway, body: ``, want: statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			checker, err := NewIdPReadinessChecker(srv.URL, "", time.Second)
			if err != nil {
				t.Fatalf("NewIdPReadinessChecker: %v", err)
			}
			if status, msg := checker.CheckReady(); status != tt.want {
				t.Errorf("статус = %q (%s), ожидается %q", status, msg, tt.want)
			}
		})
	}

	// Недоступный IdP
	checker, err := NewIdPReadinessChecker("http://127.0.0.1:1/jwks", "", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewIdPReadinessChecker: %v", err)
	}
	if status, _ := checker.CheckReady(); status != statusFail {
		t.Errorf("статус недоступного IdP = %q, ожидается fail", status)
	}
}
