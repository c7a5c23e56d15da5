package model

import (
	"time"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/scope"
)

// ServiceAccount — сервисный аккаунт.
// Хранится в таблице service_accounts, scopes — в service_account_scopes.
type ServiceAccount struct {
	// ID — UUID записи (внутренний идентификатор, наружу только в Management API)
	ID string
	// UserID — владелец аккаунта (subject пользователя в IdP)
	UserID string
	// ClientID — публичный идентификатор для token endpoint (32 hex-символа)
	ClientID string
	// SecretHash — bcrypt-хэш секрета. Открытый секрет не хранится.
	SecretHash string
	// Name — человекочитаемое имя (не уникально)
	Name string
	// ValidFrom — начало срока действия
	ValidFrom time.Time
	// ValidTo — конец срока действия (nil — бессрочно)
	ValidTo *time.Time
	// AllowedIPs — список разрешённых адресов и подсетей (пусто — без ограничений)
	AllowedIPs []string
	// Scopes — права аккаунта
	Scopes []scope.Scope
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
