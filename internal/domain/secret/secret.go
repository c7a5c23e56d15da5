// Пакет secret — генерация идентификаторов и секретов сервисных аккаунтов,
// хэширование и проверка секретов (bcrypt).
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// PublicIDBytes — размер client_id в байтах (32 hex-символа)
	PublicIDBytes = 16
	// SecretBytes — размер секрета в байтах (64 hex-символа)
	SecretBytes = 32
)

// Manager — генерация и проверка секретов.
type Manager struct {
	cost      int
	dummyHash []byte
}

// NewManager создаёт Manager с заданной стоимостью bcrypt.
// Заодно вычисляет хэш-заглушку той же стоимости для VerifyDummy.
func NewManager(cost int) (*Manager, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("стоимость bcrypt %d вне диапазона %d-%d", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	dummy, err := randomHex(SecretBytes)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(dummy), cost)
	if err != nil {
		return nil, fmt.Errorf("генерация хэша-заглушки: %w", err)
	}
	return &Manager{cost: cost, dummyHash: hash}, nil
}

// GeneratePublicID генерирует публичный client_id.
func (m *Manager) GeneratePublicID() (string, error) {
	return randomHex(PublicIDBytes)
}

// GenerateSecret генерирует открытый секрет. Возвращается вызывающему один раз.
func (m *Manager) GenerateSecret() (string, error) {
	return randomHex(SecretBytes)
}

// Hash возвращает bcrypt-хэш секрета.
func (m *Manager) Hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), m.cost)
	if err != nil {
		return "", fmt.Errorf("хэширование секрета: %w", err)
	}
	return string(h), nil
}

// Verify сравнивает предъявленный секрет с хэшем.
func (m *Manager) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// VerifyDummy выполняет сравнение с хэшем-заглушкой и всегда возвращает false.
// Вызывается для неизвестного client_id, чтобы время ответа не отличалось
// от ответа на неверный секрет.
func (m *Manager) VerifyDummy(secret string) bool {
	_ = bcrypt.CompareHashAndPassword(m.dummyHash, []byte(secret))
	return false
}

// randomHex возвращает n случайных байт в hex-кодировке.
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("генерация случайных байт: %w", err)
	}
	return hex.EncodeToString(b), nil
}
