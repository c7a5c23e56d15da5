// validation.go — проверка входных данных Management API (validator/v10).
package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/scope"
)

const (
	// MaxNameLength — максимальная длина имени SA в символах
	MaxNameLength = 100
	// MaxAllowedIPs — максимальное число записей allowlist
	MaxAllowedIPs = 100
)

// ScopeInput — scope во входных данных (строки, ещё не разобранные).
type ScopeInput struct {
	Target     string `json:"target" validate:"required,scope_target"`
	Permission string `json:"permission" validate:"required,scope_permission"`
}

// accountFields — общая часть проверяемых полей create/update.
// Указатели — поля, не переданные в запросе (update), не проверяются.
type accountFields struct {
	Name       *string       `json:"name" validate:"omitnil,min=1,max=100"`
	AllowedIPs *[]string     `json:"allowedIps" validate:"omitnil,max=100,dive,cidr|ip"`
	Scopes     *[]ScopeInput `json:"scopes" validate:"omitnil,dive"`
}

// newValidator создаёт validator с правилами для scopes.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Имена полей в ошибках — как в JSON
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("scope_target", func(fl validator.FieldLevel) bool {
		_, err := scope.ParseTarget(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("scope_permission", func(fl validator.FieldLevel) bool {
		_, err := scope.ParsePermission(fl.Field().String())
		return err == nil
	})

	return v
}

// validateFields проверяет поля и переводит ошибки validator в ValidationError.
func validateFields(v *validator.Validate, fields accountFields, validFrom, validTo *time.Time) error {
	var problems []string

	if err := v.Struct(fields); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("проверка входных данных: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	if validFrom != nil && validTo != nil && !validTo.After(*validFrom) {
		problems = append(problems, "validTo: должно быть позже validFrom")
	}

	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}
	return nil
}

// describeFieldError формирует описание нарушения для клиента.
func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "accountFields.")
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s: не может быть пустым", field)
	case "max":
		return fmt.Sprintf("%s: превышена максимальная длина %s", field, fe.Param())
	case "cidr|ip":
		return fmt.Sprintf("%s: %q не является IP-адресом или подсетью CIDR", field, fe.Value())
	case "required":
		return fmt.Sprintf("%s: обязательное поле", field)
	case "scope_target":
		return fmt.Sprintf("%s: неизвестный target %q, допустимые: AUTH, USER, BUSINESS", field, fe.Value())
	case "scope_permission":
		return fmt.Sprintf("%s: неизвестный permission %q, допустимые: READ, WRITE", field, fe.Value())
	default:
		return fmt.Sprintf("%s: нарушено правило %s", field, fe.Tag())
	}
}

// parseScopes переводит проверенные ScopeInput в доменные scopes без повторов.
func parseScopes(in []ScopeInput) ([]scope.Scope, error) {
	out := make([]scope.Scope, 0, len(in))
	for _, s := range in {
		parsed, err := scope.New(s.Target, s.Permission)
		if err != nil {
			return nil, &ValidationError{Fields: []string{err.Error()}}
		}
		out = append(out, parsed)
	}
	return scope.Dedup(out), nil
}

// normalizeIPs убирает пробелы вокруг записей allowlist, сохраняя порядок.
func normalizeIPs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ip := range in {
		out = append(out, strings.TrimSpace(ip))
	}
	return out
}
