// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/access"
)

var (
	// ErrNotFound — ресурс не найден (или принадлежит другому пользователю).
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrUnauthorized — неверные учётные данные SA.
	// Неизвестный client_id и неверный секрет не различаются.
	ErrUnauthorized = errors.New("неверные учётные данные")
	// ErrForbidden — учётные данные есть, но политика доступа запрещает выдачу токена.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrLocked — client_id временно заблокирован после серии неудачных попыток.
	ErrLocked = errors.New("client_id временно заблокирован")
)

// ValidationError — ошибка валидации с перечнем нарушений по полям.
type ValidationError struct {
	// Fields — описания нарушений в порядке обнаружения
	Fields []string
}

func (e *ValidationError) Error() string {
	return "ошибка валидации: " + strings.Join(e.Fields, "; ")
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// DeniedError — отказ политики доступа с причиной.
type DeniedError struct {
	Reason access.Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("доступ запрещён: %s", e.Reason)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrForbidden).
func (e *DeniedError) Unwrap() error {
	return ErrForbidden
}

// LockedError — блокировка client_id с оставшимся временем.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("client_id заблокирован, повторите через %s", e.RetryAfter.Round(time.Second))
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrLocked).
func (e *LockedError) Unwrap() error {
	return ErrLocked
}
