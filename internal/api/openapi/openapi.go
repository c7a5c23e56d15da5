// Пакет openapi — встроенный OpenAPI-контракт Auth Module и middleware
// проверки входящих запросов по нему (kin-openapi).
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/goartstore/auth-module/internal/api/errors"
)

//go:embed openapi.yaml
var specYAML []byte

// Load разбирает и проверяет встроенный OpenAPI-документ.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI-документа: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("проверка OpenAPI-документа: %w", err)
	}
	return doc, nil
}

// Validator — middleware проверки запросов по OpenAPI-контракту.
type Validator struct {
	router routers.Router
	logger *slog.Logger
}

// NewValidator создаёт Validator по встроенному документу.
func NewValidator(ctx context.Context, logger *slog.Logger) (*Validator, error) {
	doc, err := Load(ctx)
	if err != nil {
		return nil, err
	}
	// Маршруты сопоставляются без учёта хоста
	doc.Servers = nil

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("построение маршрутов OpenAPI: %w", err)
	}

	return &Validator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware, отвечающий 400 VALIDATION_ERROR
// на запросы, не соответствующие контракту. Запросы к путям вне контракта
// (health, metrics, jwks) пропускаются без проверки.
// Аутентификация проверяется отдельно, JWTAuth.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не соответствует контракту",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, describe(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// describe формирует краткое описание нарушения контракта для клиента.
func describe(err error) string {
	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return "Некорректный запрос"
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		field := strings.Join(schemaErr.JSONPointer(), ".")
		if field == "" {
			return "Некорректное тело запроса: " + schemaErr.Reason
		}
		return fmt.Sprintf("Поле %s: %s", field, schemaErr.Reason)
	}

	if reqErr.Parameter != nil {
		return fmt.Sprintf("Некорректный параметр %s", reqErr.Parameter.Name)
	}
	if reqErr.RequestBody != nil {
		reason := reqErr.Reason
		if reason == "" && reqErr.Err != nil {
			reason = reqErr.Err.Error()
		}
		return "Некорректное тело запроса: " + reason
	}
	return "Некорректный запрос: " + reqErr.Error()
}
